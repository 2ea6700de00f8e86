// Package engine adapts the patched SQLite build this tool links against.
//
// The template database is driven below the SQL layer: keys are inserted
// straight through the btree cursor API, and the page checksum codec is
// attached to the pager through the codec hooks the patched build exposes
// (sqlite3BtreePagerSetCodec). Only the PRAGMA statements of the open
// sequence go through the prepared-statement interface.
//
// The engine is compiled with threading disabled; every call in this
// package happens on one goroutine.
package engine

/*
#cgo CFLAGS: -I${SRCDIR} -DSQLITE_THREADSAFE=0 -DSQLITE_HAS_CODEC -DSQLITE_DEFAULT_PAGE_SIZE=512
#include <stdlib.h>
#include <string.h>

#include "sqliteInt.h"
#include "btree.h"

// Trampolines implemented in Go (callbacks.go). The pager calls them for
// every page I/O with the handle registered at install time.
extern void *sosCodecApply(void *handle, void *data, Pgno pageNo, int op);
extern void sosCodecSizeChange(void *handle, int pageSize, int reserveSize);
extern void sosCodecFree(void *handle);

static int sos_set_reserve(sqlite3 *db, int n) {
	return sqlite3_test_control(SQLITE_TESTCTRL_RESERVE, db, n);
}

static Btree *sos_main_btree(sqlite3 *db) {
	return db->aDb[0].pBt;
}

static void sos_install_codec(Btree *bt, uintptr_t handle) {
	sqlite3BtreePagerSetCodec(bt, sosCodecApply, sosCodecSizeChange, sosCodecFree, (void *)handle);
}

// A single-field KeyInfo using the connection's default collation and the
// schema encoding, as the btree expects for an index cursor.
static KeyInfo *sos_keyinfo_new(sqlite3 *db) {
	KeyInfo *ki = (KeyInfo *)malloc(sizeof(KeyInfo));
	if (ki == 0) {
		return 0;
	}
	memset(ki, 0, sizeof(KeyInfo));
	ki->db = db;
	ki->enc = db->aDb[0].pSchema ? db->aDb[0].pSchema->enc : SQLITE_UTF8;
	ki->aColl[0] = db->pDfltColl;
	ki->aSortOrder = 0;
	ki->nField = 1;
	return ki;
}

static BtCursor *sos_cursor_new(void) {
	return (BtCursor *)malloc(sqlite3BtreeCursorSize());
}
*/
import "C"

import (
	"unsafe"

	"github.com/ppggff/sos"
)

// DB is an open read-write handle on the template database. It owns one
// cursor allocation that is zeroed and reopened for every transaction, the
// way the btree layer expects.
type DB struct {
	db      *C.sqlite3
	btree   *C.Btree
	keyInfo *C.KeyInfo
	cursor  *C.BtCursor
	codec   uintptr // codec registry handle, 0 if none installed
}

// Error is a non-zero engine result code.
type Error struct {
	Op   string
	Code int
}

func (e *Error) Error() string {
	return "engine: " + e.Op + ": " + C.GoString(C.sqlite3_errstr(C.int(e.Code)))
}

// Unwrap maps transient lock conflicts onto sos.ErrBusy so the driver's
// retry loop can recognise them.
func (e *Error) Unwrap() error {
	if e.Code&0xff == int(C.SQLITE_BUSY) {
		return sos.ErrBusy
	}
	return nil
}

func check(op string, rc C.int) error {
	if rc != C.SQLITE_OK {
		return &Error{Op: op, Code: int(rc)}
	}
	return nil
}

// Open opens the database at path read-write. No codec is installed and
// no PRAGMAs have run; see OpenTemplate for the full open sequence.
func Open(path string) (*DB, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	var cdb *C.sqlite3
	if rc := C.sqlite3_open_v2(cpath, &cdb, C.SQLITE_OPEN_READWRITE, nil); rc != C.SQLITE_OK {
		if cdb != nil {
			C.sqlite3_close(cdb)
		}
		return nil, &Error{Op: "open", Code: int(rc)}
	}

	d := &DB{db: cdb, btree: C.sos_main_btree(cdb)}
	return d, nil
}

// OpenTemplate opens the template database and performs the whole restore
// open sequence: reserve size, codec installation, extended result codes,
// and the WAL/synchronous/auto-vacuum/autocheckpoint PRAGMAs.
func OpenTemplate(path string, codec *sos.ChecksumCodec) (*DB, error) {
	d, err := Open(path)
	if err != nil {
		return nil, err
	}

	if err := d.SetReserveSize(sos.ReserveSize); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.InstallCodec(codec); err != nil {
		d.Close()
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA auto_vacuum = NONE",
		"PRAGMA wal_autocheckpoint = 1",
	} {
		if err := d.Pragma(pragma); err != nil {
			d.Close()
			return nil, err
		}
	}

	return d, nil
}

// SetReserveSize tells the engine to keep n reserved bytes per page. Must
// run before the codec is installed; the codec refuses pages whose reserve
// cannot hold the checksum.
func (d *DB) SetReserveSize(n int) error {
	if rc := C.sos_set_reserve(d.db, C.int(n)); rc != 0 {
		return &Error{Op: "set reserve size", Code: int(rc)}
	}
	return nil
}

// InstallCodec attaches the checksum codec to the pager. The engine owns
// the attachment from here on: it invokes the codec on every page I/O,
// reports geometry through SizeChange, and releases it when the database
// closes.
func (d *DB) InstallCodec(codec *sos.ChecksumCodec) error {
	d.codec = registerCodec(codec)
	C.sos_install_codec(d.btree, C.uintptr_t(d.codec))
	C.sqlite3_extended_result_codes(d.db, 1)
	return nil
}

// Pragma executes a single PRAGMA statement, stepping past a result row
// if the statement produces one.
func (d *DB) Pragma(sql string) error {
	csql := C.CString(sql)
	defer C.free(unsafe.Pointer(csql))

	var stmt *C.sqlite3_stmt
	if rc := C.sqlite3_prepare_v2(d.db, csql, -1, &stmt, nil); rc != C.SQLITE_OK {
		return &Error{Op: "prepare " + sql, Code: int(rc)}
	}

	rc := C.sqlite3_step(stmt)
	frc := C.sqlite3_finalize(stmt)
	if rc != C.SQLITE_ROW && rc != C.SQLITE_DONE {
		return &Error{Op: sql, Code: int(rc)}
	}
	return check(sql, frc)
}

// BeginWrite opens a write transaction on the btree.
func (d *DB) BeginWrite() error {
	return check("begin transaction", C.sqlite3BtreeBeginTrans(d.btree, 1))
}

// OpenCursor zeroes the cursor allocation and opens it on the btree rooted
// at rootPage.
func (d *DB) OpenCursor(rootPage uint32, writable bool) (sos.Cursor, error) {
	if d.keyInfo == nil {
		d.keyInfo = C.sos_keyinfo_new(d.db)
	}
	if d.cursor == nil {
		d.cursor = C.sos_cursor_new()
	}

	wr := C.int(0)
	if writable {
		wr = 1
	}
	C.sqlite3BtreeCursorZero(d.cursor)
	rc := C.sqlite3BtreeCursor(d.btree, C.int(rootPage), wr, d.keyInfo, d.cursor)
	if rc != C.SQLITE_OK {
		return nil, &Error{Op: "open cursor", Code: int(rc)}
	}
	return &Cursor{db: d}, nil
}

// Commit commits the open write transaction.
func (d *DB) Commit() error {
	return check("commit", C.sqlite3BtreeCommit(d.btree))
}

// Checkpoint runs one WAL checkpoint pass in the given mode.
func (d *DB) Checkpoint(mode sos.CheckpointMode) error {
	cmode := C.int(C.SQLITE_CHECKPOINT_FULL)
	if mode == sos.CheckpointRestart {
		cmode = C.SQLITE_CHECKPOINT_RESTART
	}
	if rc := C.sqlite3_wal_checkpoint_v2(d.db, nil, cmode, nil, nil); rc != C.SQLITE_OK {
		return &Error{Op: "wal checkpoint", Code: int(C.sqlite3_errcode(d.db))}
	}
	return nil
}

// Close closes the database. The engine detaches the codec itself (the
// free hook runs during close), after which the registry entry is dropped.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	rc := C.sqlite3_close(d.db)
	d.db = nil
	d.btree = nil
	if d.keyInfo != nil {
		C.free(unsafe.Pointer(d.keyInfo))
		d.keyInfo = nil
	}
	if d.cursor != nil {
		C.free(unsafe.Pointer(d.cursor))
		d.cursor = nil
	}
	d.codec = 0
	return check("close", rc)
}

// Cursor is the btree cursor opened by OpenCursor. It borrows the DB's
// single cursor allocation, so at most one may be open at a time.
type Cursor struct {
	db *DB
}

// Insert inserts key into the index; index btrees carry the whole entry in
// the key, there is no value.
func (c *Cursor) Insert(key []byte) error {
	var p unsafe.Pointer
	if len(key) > 0 {
		p = unsafe.Pointer(&key[0])
	}
	rc := C.sqlite3BtreeInsert(c.db.cursor, p, C.sqlite3_int64(len(key)), nil, 0, 0, 0, 0)
	return check("insert", rc)
}

// Close closes the cursor; the allocation is reused by the next
// transaction.
func (c *Cursor) Close() error {
	return check("close cursor", C.sqlite3BtreeCloseCursor(c.db.cursor))
}
