package memory

import "vmcore/internal/config"

// FileHandle is the file-layer dependency: read/write at a given
// offset, and a length for bounds checks. The caller of Mmap (or an
// executable loader) supplies the concrete handle; for a mapping, the
// memory-map table owns it and closes it.
type FileHandle interface {
	ReadAt(buf []byte, off int64) (int, error)
	WriteAt(buf []byte, off int64) (int, error)
	Length() int64
}

// FileVariant is a file-backed page: the handle, the byte offset its
// content comes from, and how many of the page's PageSize bytes are
// real file data (the remainder is zero-fill, for a mapping whose
// length is not a page multiple).
type FileVariant struct {
	file      FileHandle
	offset    int64
	readBytes int
	shared    bool
}

// NewFile builds a file-backed variant. readBytes > config.PageSize is
// a caller bug (the region descriptor that produced it is malformed),
// not a runtime race, so it panics rather than returning an Err_t.
func NewFile(file FileHandle, offset int64, readBytes int, shared bool) *FileVariant {
	if readBytes < 0 || readBytes > config.PageSize {
		panic("memory: file variant read_bytes out of range")
	}
	return &FileVariant{file: file, offset: offset, readBytes: readBytes, shared: shared}
}

// Shared reports whether this file page was mapped MAP_SHARED: shared
// file pages are never wrapped for copy-on-write by fork.
func (f *FileVariant) Shared() bool { return f.shared }

func (f *FileVariant) SwapIn(p *Page_t, kva []byte) bool {
	if f.readBytes > 0 {
		n, err := f.file.ReadAt(kva[:f.readBytes], f.offset)
		if err != nil || n != f.readBytes {
			return false
		}
	}
	for i := f.readBytes; i < len(kva); i++ {
		kva[i] = 0
	}
	return true
}

// SwapOut writes the page back only if the hardware dirty bit is set;
// a clean file page is identical to its backing region, so it is
// simply dropped with no I/O.
func (f *FileVariant) SwapOut(p *Page_t) bool {
	if f.readBytes == 0 || !p.Owner.IsDirty(p.VA) {
		return true
	}
	kva, ok := p.Owner.Lookup(p.VA)
	if !ok {
		return true
	}
	_, err := f.file.WriteAt(kva[:f.readBytes], f.offset)
	return err == nil
}

// Destroy writes back a dirty resident page one last time. The file
// handle itself belongs to the memory-map table, not to this
// descriptor, and is closed there once every page of the mapping has
// been destroyed.
func (f *FileVariant) Destroy(p *Page_t) {
	if f.readBytes == 0 || !p.Resident || !p.Owner.IsDirty(p.VA) {
		return
	}
	if kva, ok := p.Owner.Lookup(p.VA); ok {
		f.file.WriteAt(kva[:f.readBytes], f.offset)
	}
}

func (f *FileVariant) Clone() Variant {
	return &FileVariant{file: f.file, offset: f.offset, readBytes: f.readBytes, shared: f.shared}
}
