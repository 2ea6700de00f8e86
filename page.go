package sos

import (
	"encoding/binary"
	"fmt"
)

// PageKind classifies a page by its flag byte.
type PageKind int

const (
	// KindOther is any page the salvager does not decode
	KindOther PageKind = iota

	// KindLeafIndex is an index leaf b-tree page (flag 0x0a)
	KindLeafIndex

	// KindInteriorIndex is an index interior b-tree page (flag 0x02)
	KindInteriorIndex
)

func (k PageKind) String() string {
	switch k {
	case KindLeafIndex:
		return "leaf-index"
	case KindInteriorIndex:
		return "interior-index"
	default:
		return "other"
	}
}

// Payload locality thresholds, fixed by the page geometry. A payload of
// size P <= MaxLocal is stored entirely on its btree page; larger payloads
// keep between MinLocal and MaxLocal bytes local and spill the rest to an
// overflow chain.
const (
	MaxLocal = (UsableSize-12)*64/255 - 23
	MinLocal = (UsableSize-12)*32/255 - 23
)

// LocalSize returns how many bytes of a payload of total size p are stored
// on the btree page itself.
func LocalSize(p uint64) int {
	if p <= MaxLocal {
		return int(p)
	}
	surplus := MinLocal + int((p-MinLocal)%(UsableSize-4))
	if surplus <= MaxLocal {
		return surplus
	}
	return MinLocal
}

// PageHeader holds the decoded b-tree page header. All multi-byte fields
// are big-endian on disk.
//
// Layout:
//
//	Offset  Size  Field
//	0       1     flag
//	1       2     first freeblock offset (0 = none)
//	3       2     number of cells
//	5       2     cell content region offset (0 = 65536)
//	7       1     fragmented free bytes
//	8       4     right-most child page (interior pages only)
type PageHeader struct {
	Flag                byte
	FreeBlockOffset     uint16
	NumCells            uint16
	CellRegionOffset    uint16
	FragmentedFreeBytes uint8
	RightChild          uint32 // interior pages only
}

// Size returns the header size in bytes: 12 for interior pages, 8 for
// everything else.
func (h PageHeader) Size() int {
	if h.Flag == FlagInteriorIndex {
		return InteriorHeaderSize
	}
	return LeafHeaderSize
}

// CellRegion returns the cell content region offset with the zero value
// decoded as 65536.
func (h PageHeader) CellRegion() int {
	if h.CellRegionOffset == 0 {
		return 65536
	}
	return int(h.CellRegionOffset)
}

func (h PageHeader) String() string {
	return fmt.Sprintf("flag: %#x free_block_offset: %d number_of_cell: %d cell_region_offset: %d number_of_free_bytes: %d",
		h.Flag, h.FreeBlockOffset, h.NumCells, h.CellRegionOffset, h.FragmentedFreeBytes)
}

// Payload is one reassembled cell payload. Data is an owned copy; Valid is
// false when the cell could not be decoded (the cell is skipped, the run
// continues).
type Payload struct {
	Size     uint64   // declared payload size, including overflow
	Data     []byte   // reassembled bytes (len == Size when Valid)
	Overflow []uint32 // overflow pages visited, in chain order
	Valid    bool
}

// Page is a borrowed view of one source page.
type Page struct {
	file *File
	pno  int64
	data []byte
}

// NewPage fetches page pno from the source file.
func NewPage(f *File, pno int64) (*Page, error) {
	data, err := f.Page(pno)
	if err != nil {
		return nil, err
	}
	return &Page{file: f, pno: pno, data: data}, nil
}

// No returns the 1-based page number.
func (p *Page) No() int64 {
	return p.pno
}

// Kind classifies the page by its flag byte.
func (p *Page) Kind() PageKind {
	switch p.data[0] {
	case FlagLeafIndex:
		return KindLeafIndex
	case FlagInteriorIndex:
		return KindInteriorIndex
	default:
		return KindOther
	}
}

// Header decodes the page header.
func (p *Page) Header() PageHeader {
	h := PageHeader{
		Flag:                p.data[0],
		FreeBlockOffset:     binary.BigEndian.Uint16(p.data[1:3]),
		NumCells:            binary.BigEndian.Uint16(p.data[3:5]),
		CellRegionOffset:    binary.BigEndian.Uint16(p.data[5:7]),
		FragmentedFreeBytes: p.data[7],
	}
	if h.Flag == FlagInteriorIndex {
		h.RightChild = binary.BigEndian.Uint32(p.data[8:12])
	}
	return h
}

// CellOffsets decodes the cell pointer array that follows the header:
// NumCells big-endian 16-bit offsets into the page. Returns ErrBadPage if
// the array itself would run past the usable region.
func (p *Page) CellOffsets(h PageHeader) ([]uint16, error) {
	base := h.Size()
	end := base + int(h.NumCells)*2
	if end > UsableSize || end > h.CellRegion() {
		return nil, &Error{Op: "cells", Message: fmt.Sprintf("page %d: pointer array overruns cell content", p.pno), Err: ErrBadPage}
	}
	offsets := make([]uint16, h.NumCells)
	for i := range offsets {
		offsets[i] = binary.BigEndian.Uint16(p.data[base+i*2:])
	}
	return offsets, nil
}

// Payload reassembles the payload of cell i. Interior cells carry a 4-byte
// left-child pointer before the payload-size varint; both cell shapes end
// with a 4-byte first-overflow-page number when the payload spills.
//
// Decode failures (offset out of range, zero or impossible size, truncated
// cell, broken or looping overflow chain) return a Payload with Valid set
// to false; they never fail the page.
func (p *Page) Payload(h PageHeader, offsets []uint16, i int) Payload {
	pos := int(offsets[i])
	if pos < h.Size() || pos >= UsableSize {
		return Payload{}
	}

	if h.Flag == FlagInteriorIndex {
		// Skip the left-child pointer.
		pos += 4
		if pos >= UsableSize {
			return Payload{}
		}
	}

	size, n, err := GetVarint(p.data[pos:UsableSize])
	if err != nil {
		return Payload{}
	}
	pos += n

	// Size zero carries nothing worth salvaging; a size beyond the file
	// itself cannot be satisfied by any chain.
	if size == 0 || size > uint64(p.file.Size()) {
		return Payload{Size: size}
	}

	local := LocalSize(size)
	if pos+local > UsableSize {
		return Payload{Size: size}
	}

	out := Payload{Size: size, Data: make([]byte, size)}
	copy(out.Data, p.data[pos:pos+local])
	if uint64(local) == size {
		out.Valid = true
		return out
	}

	// Spilled payload: the 4-byte first-overflow-page number follows the
	// local bytes.
	pos += local
	if pos+4 > UsableSize {
		out.Data = nil
		return out
	}
	next := binary.BigEndian.Uint32(p.data[pos : pos+4])

	written := local
	visited := make(map[uint32]struct{})
	for next != 0 && written < int(size) {
		if _, dup := visited[next]; dup {
			// Chain loops back on itself.
			out.Data = nil
			return out
		}
		if int64(len(visited)) >= p.file.PageCount() {
			out.Data = nil
			return out
		}
		visited[next] = struct{}{}
		out.Overflow = append(out.Overflow, next)

		ovfl, err := p.file.Page(int64(next))
		if err != nil {
			out.Data = nil
			return out
		}
		next = binary.BigEndian.Uint32(ovfl[0:4])

		take := int(size) - written
		if take > UsableSize-4 {
			take = UsableSize - 4
		}
		copy(out.Data[written:], ovfl[4:4+take])
		written += take
	}

	if written < int(size) {
		// Chain ended before the declared size was reassembled.
		out.Data = nil
		return out
	}

	out.Valid = true
	return out
}
