package sos

import (
	"github.com/ppggff/sos/mmap"
)

// File is a read-only view of the damaged source database. Pages are
// borrowed slices into the mapping; they stay valid until Close and are
// never mutated.
type File struct {
	path string
	m    *mmap.Map
}

// OpenFile stats and memory-maps the source database read-only. The scan
// is strictly ascending, so the mapping is advised sequential.
func OpenFile(path string) (*File, error) {
	m, err := mmap.MapFile(path)
	if err != nil {
		return nil, &Error{Op: "open", Message: path, Err: err}
	}

	// Advice is best-effort; some filesystems reject it.
	_ = m.AdviseSequential()

	return &File{path: path, m: m}, nil
}

// Path returns the source file path.
func (f *File) Path() string {
	return f.path
}

// Size returns the source file size in bytes.
func (f *File) Size() int64 {
	return f.m.Size()
}

// PageCount returns the number of whole pages in the source file.
func (f *File) PageCount() int64 {
	return f.m.Size() / PageSize
}

// Page returns the raw bytes of page pno (1-based): the slice
// [(pno-1)*PageSize, pno*PageSize) of the mapping. Fails with
// ErrShortFile if the file does not extend that far.
func (f *File) Page(pno int64) ([]byte, error) {
	if pno < 1 || pno*PageSize > f.m.Size() {
		return nil, &Error{Op: "page", Message: f.path, Err: ErrShortFile}
	}
	off := (pno - 1) * PageSize
	return f.m.Data()[off : off+PageSize : off+PageSize], nil
}

// Close releases the mapping. Pages returned by Page must not be used
// afterwards.
func (f *File) Close() error {
	return f.m.Close()
}
