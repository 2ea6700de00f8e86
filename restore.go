package sos

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Engine is the slice of the embedded engine's btree surface the restore
// driver consumes. The engine adapter implements it; tests substitute a
// recording fake.
type Engine interface {
	// BeginWrite opens a write transaction on the btree.
	BeginWrite() error

	// OpenCursor opens a cursor on the btree rooted at rootPage, with a
	// single-field key using the database's default collation.
	OpenCursor(rootPage uint32, writable bool) (Cursor, error)

	// Commit commits the open write transaction.
	Commit() error

	// Checkpoint runs one WAL checkpoint pass. A transient lock conflict
	// is reported as (or wrapping) ErrBusy.
	Checkpoint(mode CheckpointMode) error
}

// Cursor is an open btree cursor accepting key-only inserts.
type Cursor interface {
	// Insert inserts key into the index. The index has no values.
	Insert(key []byte) error

	// Close closes the cursor. The cursor must be closed before the
	// transaction commits.
	Close() error
}

// Metrics counts what a restore run salvaged.
type Metrics struct {
	Pages     uint32 // index pages decoded
	SkipPages uint32 // pages not recognised as index pages, or whose cell pointer array is broken
	Cells     uint64 // cells seen on decoded pages
	Bytes     uint64 // key bytes inserted
}

func (m Metrics) String() string {
	return fmt.Sprintf("pages: %d, skip pages: %d, cells: %d, bytes: %d",
		m.Pages, m.SkipPages, m.Cells, m.Bytes)
}

// Options configure a restore run.
type Options struct {
	// StartPage is the 1-based source page to begin scanning from. Must
	// be at least 2: page 1 is the engine's own header and is never
	// salvaged.
	StartPage int64

	// PagesPerTxn flushes the open transaction once more than this many
	// decoded pages have been added to it, so a full batch holds
	// PagesPerTxn+1 pages. Defaults to DefaultPagesPerTxn.
	PagesPerTxn int

	// TxnsPerCheckpoint runs a full WAL checkpoint once more than this
	// many transactions have committed since the last one. Defaults to
	// DefaultTxnsPerCheckpoint.
	TxnsPerCheckpoint int

	// Log receives per-page and per-commit diagnostics. Defaults to a
	// no-op logger.
	Log *zap.SugaredLogger
}

// busyRetryLimit caps checkpoint BUSY retries at one minute of sleeping.
// This tool is the only writer, so the cap should be unreachable.
const busyRetryLimit = 6000

// busyRetryDelay is the sleep between checkpoint BUSY retries.
const busyRetryDelay = 10 * time.Millisecond

// Restorer drives one salvage run: it scans the source file in ascending
// page order, decodes every index page, and inserts the extracted keys
// into the template database in bounded batches.
type Restorer struct {
	src  *File
	db   Engine
	opts Options
	log  *zap.SugaredLogger

	metrics Metrics

	cur      Cursor
	txnOpen  bool
	txnPages int // decoded pages contributing to the open transaction

	txnsSinceCheckpoint int
}

// NewRestorer creates a restorer over an opened source file and template
// engine.
func NewRestorer(src *File, db Engine, opts Options) *Restorer {
	if opts.PagesPerTxn <= 0 {
		opts.PagesPerTxn = DefaultPagesPerTxn
	}
	if opts.TxnsPerCheckpoint <= 0 {
		opts.TxnsPerCheckpoint = DefaultTxnsPerCheckpoint
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	return &Restorer{src: src, db: db, opts: opts, log: opts.Log}
}

// Metrics returns the counters accumulated so far.
func (r *Restorer) Metrics() Metrics {
	return r.metrics
}

// Run scans the source file from StartPage through its last whole page.
// Unrecognised pages and undecodable cells are skipped; any engine error
// aborts the run. On success the open transaction is committed and a
// final full checkpoint has run.
func (r *Restorer) Run() error {
	if r.opts.StartPage < 2 {
		return &Error{Op: "run", Message: fmt.Sprintf("start page %d, must be >= 2", r.opts.StartPage)}
	}

	last := r.src.PageCount()
	for pno := r.opts.StartPage; pno <= last; pno++ {
		page, err := NewPage(r.src, pno)
		if err != nil {
			return err
		}

		if page.Kind() == KindOther {
			r.metrics.SkipPages++
			continue
		}

		if err := r.restorePage(page); err != nil {
			return err
		}

		if r.txnPages > r.opts.PagesPerTxn {
			if err := r.commit(); err != nil {
				return err
			}
		}
	}

	if r.txnOpen {
		if err := r.commit(); err != nil {
			return err
		}
	}
	if err := r.fullCheckpoint(); err != nil {
		return err
	}

	return nil
}

// restorePage decodes one index page and inserts every valid cell payload.
func (r *Restorer) restorePage(page *Page) error {
	header := page.Header()
	r.log.Infof("page: %d, %s", page.No(), header)

	offsets, err := page.CellOffsets(header)
	if err != nil {
		// The pointer array itself is broken; nothing on this page can
		// be trusted.
		r.log.Warnf("page %d: %v", page.No(), err)
		r.metrics.SkipPages++
		return nil
	}
	r.log.Debugf("page %d: cell count: %d offsets: %v", page.No(), header.NumCells, preview(offsets))

	if !r.txnOpen {
		if err := r.db.BeginWrite(); err != nil {
			return errors.Wrap(err, "begin transaction")
		}
		cur, err := r.db.OpenCursor(TemplateRootPage, true)
		if err != nil {
			return errors.Wrap(err, "open cursor")
		}
		r.cur = cur
		r.txnOpen = true
	}

	r.metrics.Pages++
	r.metrics.Cells += uint64(header.NumCells)

	for i := range offsets {
		payload := page.Payload(header, offsets, i)
		if !payload.Valid || payload.Size == 0 {
			if !payload.Valid {
				r.log.Infof("page %d: skip cell %d, size %d", page.No(), i, payload.Size)
			}
			continue
		}

		if err := r.cur.Insert(payload.Data); err != nil {
			return errors.Wrapf(err, "insert key from page %d cell %d", page.No(), i)
		}
		r.metrics.Bytes += uint64(len(payload.Data))
	}

	r.txnPages++
	return nil
}

// commit closes the cursor and commits the open transaction, then runs a
// full checkpoint when the commit counter crosses the checkpoint cadence.
func (r *Restorer) commit() error {
	if err := r.cur.Close(); err != nil {
		return errors.Wrap(err, "close cursor")
	}
	r.cur = nil
	if err := r.db.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	r.txnOpen = false
	r.txnPages = 0
	r.log.Infof("committed")

	r.txnsSinceCheckpoint++
	if r.txnsSinceCheckpoint > r.opts.TxnsPerCheckpoint {
		if err := r.fullCheckpoint(); err != nil {
			return err
		}
		r.txnsSinceCheckpoint = 0
	}
	return nil
}

// fullCheckpoint flushes the WAL completely: one FULL pass, then one
// RESTART pass.
func (r *Restorer) fullCheckpoint() error {
	if err := r.checkpoint(CheckpointFull); err != nil {
		return err
	}
	if err := r.checkpoint(CheckpointRestart); err != nil {
		return err
	}
	r.log.Infof("checkpointed")
	return nil
}

// checkpoint runs one checkpoint pass, sleeping and retrying on BUSY.
func (r *Restorer) checkpoint(mode CheckpointMode) error {
	for attempt := 0; ; attempt++ {
		err := r.db.Checkpoint(mode)
		if err == nil {
			return nil
		}
		if !IsBusy(err) {
			return errors.Wrap(err, "checkpoint")
		}
		if attempt >= busyRetryLimit {
			return errors.Wrap(err, "checkpoint stuck busy")
		}
		time.Sleep(busyRetryDelay)
	}
}

// preview returns at most the first five offsets for log lines.
func preview(offsets []uint16) []uint16 {
	if len(offsets) > 5 {
		return offsets[:5]
	}
	return offsets
}
