package sos

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// sourceBuilder assembles a synthetic source database file page by page.
// Page 1 is pre-seeded as an unrecognised header page, matching the real
// input where page 1 is the engine's own header.
type sourceBuilder struct {
	pages [][]byte
}

func newSourceBuilder() *sourceBuilder {
	return &sourceBuilder{pages: [][]byte{make([]byte, PageSize)}}
}

// addPage appends raw as the next page and returns its 1-based number.
func (sb *sourceBuilder) addPage(raw []byte) int64 {
	if len(raw) != PageSize {
		panic("synthetic page must be exactly one page long")
	}
	sb.pages = append(sb.pages, raw)
	return int64(len(sb.pages))
}

// reserve appends an all-zero placeholder page and returns its number, so
// overflow chains can point at pages built later.
func (sb *sourceBuilder) reserve() int64 {
	return sb.addPage(make([]byte, PageSize))
}

// setPage replaces a previously reserved page.
func (sb *sourceBuilder) setPage(pno int64, raw []byte) {
	if len(raw) != PageSize {
		panic("synthetic page must be exactly one page long")
	}
	sb.pages[pno-1] = raw
}

// open writes the pages to a temp file and memory-maps it.
func (sb *sourceBuilder) open(t *testing.T) *File {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "source.db")

	var blob []byte
	for _, p := range sb.pages {
		blob = append(blob, p...)
	}
	if err := os.WriteFile(path, blob, 0644); err != nil {
		t.Fatal(err)
	}

	f, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

// rawLeafCell encodes a leaf index cell for the full payload: size varint,
// local bytes, and the first-overflow-page number when the payload spills.
func rawLeafCell(payload []byte, firstOverflow uint32) []byte {
	var hdr [9]byte
	n := PutVarint(hdr[:], uint64(len(payload)))
	cell := append([]byte(nil), hdr[:n]...)

	local := LocalSize(uint64(len(payload)))
	cell = append(cell, payload[:local]...)
	if local < len(payload) {
		var link [4]byte
		binary.BigEndian.PutUint32(link[:], firstOverflow)
		cell = append(cell, link[:]...)
	}
	return cell
}

// rawInteriorCell is rawLeafCell with the 4-byte left-child pointer in
// front.
func rawInteriorCell(leftChild uint32, payload []byte, firstOverflow uint32) []byte {
	cell := make([]byte, 4)
	binary.BigEndian.PutUint32(cell, leftChild)
	return append(cell, rawLeafCell(payload, firstOverflow)...)
}

// buildIndexPage lays pre-encoded cells onto a fresh page: content packed
// downward from the end of the usable region, pointer array in cell order
// after the header.
func buildIndexPage(flag byte, rightChild uint32, cells [][]byte) []byte {
	page := make([]byte, PageSize)
	page[0] = flag

	headerSize := LeafHeaderSize
	if flag == FlagInteriorIndex {
		headerSize = InteriorHeaderSize
		binary.BigEndian.PutUint32(page[8:12], rightChild)
	}

	content := UsableSize
	offsets := make([]uint16, len(cells))
	for i, cell := range cells {
		content -= len(cell)
		copy(page[content:], cell)
		offsets[i] = uint16(content)
	}

	binary.BigEndian.PutUint16(page[3:5], uint16(len(cells)))
	binary.BigEndian.PutUint16(page[5:7], uint16(content))
	for i, off := range offsets {
		binary.BigEndian.PutUint16(page[headerSize+i*2:], off)
	}
	return page
}

// buildOverflowPage encodes one overflow page: next link, then the chunk.
func buildOverflowPage(next uint32, chunk []byte) []byte {
	if len(chunk) > UsableSize-4 {
		panic("overflow chunk too large")
	}
	page := make([]byte, PageSize)
	binary.BigEndian.PutUint32(page[0:4], next)
	copy(page[4:], chunk)
	return page
}

// chunkPayload splits the spilled tail of a payload into overflow-page
// sized chunks.
func chunkPayload(payload []byte, local int) [][]byte {
	var chunks [][]byte
	for rest := payload[local:]; len(rest) > 0; {
		n := len(rest)
		if n > UsableSize-4 {
			n = UsableSize - 4
		}
		chunks = append(chunks, rest[:n])
		rest = rest[n:]
	}
	return chunks
}

// addSpilledPayload builds the full page set for one spilled payload on an
// index page (leaf or interior per flag) and returns the index page's
// number. The overflow chain is laid out before the index page.
func (sb *sourceBuilder) addSpilledPayload(flag byte, payload []byte) int64 {
	local := LocalSize(uint64(len(payload)))
	chunks := chunkPayload(payload, local)

	// Reserve the chain first so the cell can name its head.
	pnos := make([]int64, len(chunks))
	for i := range chunks {
		pnos[i] = sb.reserve()
	}
	for i, chunk := range chunks {
		next := uint32(0)
		if i+1 < len(pnos) {
			next = uint32(pnos[i+1])
		}
		sb.setPage(pnos[i], buildOverflowPage(next, chunk))
	}

	var cell []byte
	if flag == FlagInteriorIndex {
		cell = rawInteriorCell(0, payload, uint32(pnos[0]))
	} else {
		cell = rawLeafCell(payload, uint32(pnos[0]))
	}
	return sb.addPage(buildIndexPage(flag, 0, [][]byte{cell}))
}

// patternPayload returns a deterministic payload of n bytes.
func patternPayload(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + 13)
	}
	return p
}
