package engine

/*
#include "sqliteInt.h"
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/ppggff/sos"
)

// The pager's codec hooks carry a single void* of state. cgo rules forbid
// handing Go pointers to C to keep, so codecs are parked in a registry and
// the handle is the key. The build is single-threaded, but the registry is
// still locked: it is global state shared by every open database.
var (
	codecMu   sync.Mutex
	codecs    = map[uintptr]*sos.ChecksumCodec{}
	codecNext uintptr
)

func registerCodec(c *sos.ChecksumCodec) uintptr {
	codecMu.Lock()
	defer codecMu.Unlock()
	codecNext++
	codecs[codecNext] = c
	return codecNext
}

func lookupCodec(h uintptr) *sos.ChecksumCodec {
	codecMu.Lock()
	defer codecMu.Unlock()
	return codecs[h]
}

func dropCodec(h uintptr) *sos.ChecksumCodec {
	codecMu.Lock()
	defer codecMu.Unlock()
	c := codecs[h]
	delete(codecs, h)
	return c
}

// sosCodecApply is the pager's codec hook. A nil return is the pager's
// corrupt-page sentinel.
//
//export sosCodecApply
func sosCodecApply(handle unsafe.Pointer, data unsafe.Pointer, pageNo C.Pgno, op C.int) unsafe.Pointer {
	codec := lookupCodec(uintptr(handle))
	if codec == nil {
		return nil
	}

	page := unsafe.Slice((*byte)(data), codec.PageSize())
	if !codec.Apply(page, uint32(pageNo), int(op)) {
		return nil
	}
	return data
}

// sosCodecSizeChange runs after the engine parses page 1 and whenever the
// page or reserve size changes.
//
//export sosCodecSizeChange
func sosCodecSizeChange(handle unsafe.Pointer, pageSize C.int, reserveSize C.int) {
	if codec := lookupCodec(uintptr(handle)); codec != nil {
		codec.SizeChange(int(pageSize), int(reserveSize))
	}
}

// sosCodecFree ends the attachment; the engine calls it when it detaches
// the codec during close.
//
//export sosCodecFree
func sosCodecFree(handle unsafe.Pointer) {
	if codec := dropCodec(uintptr(handle)); codec != nil {
		codec.Release()
	}
}
