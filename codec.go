package sos

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/ppggff/sos/internal/lookup3"
)

// checksumSize is the width of the trailing page checksum: two little-
// endian 32-bit words.
const checksumSize = 8

// ChecksumCodec computes and verifies the 8-byte checksum trailer on every
// page the engine's pager reads or writes. It is installed into the pager
// through the engine adapter and invoked for every pager I/O; the engine
// owns the attachment and calls Release when it detaches the codec.
//
// Page sizes are learned from the engine through SizeChange after it has
// parsed page 1.
type ChecksumCodec struct {
	pageSize    int
	reserveSize int
	filename    string // diagnostics only
	silent      bool   // suppress mismatch warnings
	log         *zap.SugaredLogger
}

// NewChecksumCodec creates a codec for the database at filename (used only
// in diagnostics). Page and reserve sizes start at zero and are set by the
// engine through SizeChange.
func NewChecksumCodec(filename string, log *zap.SugaredLogger) *ChecksumCodec {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ChecksumCodec{filename: filename, log: log}
}

// PageSize returns the page size last reported through SizeChange, or
// zero before the engine has reported one.
func (c *ChecksumCodec) PageSize() int {
	return c.pageSize
}

// SetSilent suppresses checksum-mismatch warnings.
func (c *ChecksumCodec) SetSilent(silent bool) {
	c.silent = silent
}

// Checksum computes the two checksum words over data[:pageLen-8] with the
// page number and ChecksumSeed as seeds. If write is true the result is
// stored into the trailer and true is returned; otherwise the result is
// compared against the trailer and the comparison result is returned.
//
// pageLen is passed explicitly because the codec's configured page size is
// not always the right length: page 1 is additionally checksummed at the
// engine's default page size.
func (c *ChecksumCodec) Checksum(pageNo uint32, data []byte, pageLen int, write bool) bool {
	dataLen := pageLen - checksumSize
	s1, s2 := lookup3.HashLittle2(data[:dataLen], pageNo, ChecksumSeed)

	trailer := data[dataLen : dataLen+checksumSize]
	if write {
		binary.LittleEndian.PutUint32(trailer[0:4], s1)
		binary.LittleEndian.PutUint32(trailer[4:8], s2)
		return true
	}

	p1 := binary.LittleEndian.Uint32(trailer[0:4])
	p2 := binary.LittleEndian.Uint32(trailer[4:8])
	if s1 != p1 || s2 != p2 {
		if !c.silent {
			c.log.Warnf("%s: checksum mismatch on page %d: stored 0x%08x%08x computed 0x%08x%08x",
				c.filename, pageNo, p1, p2, s1, s2)
		}
		return false
	}
	return true
}

// Apply is the pager hook body: op is one of PagerOpRead, PagerOpWriteDB,
// PagerOpWriteJournal. Writes embed a checksum; reads verify one. A false
// return tells the engine the page is corrupt (the adapter turns it into
// the pager's null sentinel).
//
// Page 1 is special: it carries the page-size and reserve-size fields the
// engine needs before it can tell the codec what they are, so a cold open
// verifies page 1 at the engine's default page size. On write, when the
// configured page size is larger than that default, page 1 therefore gets
// a default-size checksum first and the real-size checksum second.
func (c *ChecksumCodec) Apply(data []byte, pageNo uint32, op int) bool {
	write := op == PagerOpWriteDB || op == PagerOpWriteJournal

	if c.pageSize == 0 {
		// SizeChange has not run yet; the engine has nothing decoded to
		// verify against.
		return true
	}

	if pageNo == 1 {
		if write && c.pageSize > DefaultEnginePageSize {
			c.Checksum(pageNo, data, DefaultEnginePageSize, true)
		}
	} else if c.reserveSize != checksumSize {
		// Without an 8-byte reserve there is nowhere for the sum to live.
		if !c.silent {
			c.log.Warnf("%s: page %d: reserve size %d, want %d",
				c.filename, pageNo, c.reserveSize, checksumSize)
		}
		return false
	}

	return c.Checksum(pageNo, data, c.pageSize, write)
}

// SizeChange is the pager's resize hook, called after the engine parses
// page 1 and whenever the page or reserve size changes.
func (c *ChecksumCodec) SizeChange(pageSize, reserveSize int) {
	c.pageSize = pageSize
	c.reserveSize = reserveSize
}

// Release is the pager's detach hook. The codec holds no OS resources;
// the method exists so the engine can end the attachment's lifetime
// explicitly.
func (c *ChecksumCodec) Release() {
	c.log = zap.NewNop().Sugar()
}
