// Package mmaptbl is the memory-map table: the per-address-space
// record of which file each mapped region came from, so munmap can
// locate every page it covers and close the region's file handle once
// they are all torn down.
package mmaptbl

import (
	"sync"
	"sync/atomic"

	"vmcore/internal/config"
)

// FileCloser is a file handle good for the lifetime of one mapping:
// read/write at an offset, plus Close. The table takes ownership of
// the handle passed to Add and closes it once no region referencing
// it remains, fork copies made by CopyTo included.
type FileCloser interface {
	ReadAt(buf []byte, off int64) (int, error)
	WriteAt(buf []byte, off int64) (int, error)
	Length() int64
	Close() error
}

// sharedFile reference-counts one mapping's reopened handle so a fork
// can inherit the region without reopening: Close releases the
// underlying file only when the last referencing region is gone.
type sharedFile struct {
	FileCloser
	refs atomic.Int32
}

func (s *sharedFile) Close() error {
	if s.refs.Add(-1) > 0 {
		return nil
	}
	return s.FileCloser.Close()
}

// Region describes one live mmap call's extent and backing file.
type Region struct {
	Start uintptr
	Pages int
	File  FileCloser
}

// Contains reports whether va falls inside r.
func (r *Region) Contains(va uintptr) bool {
	end := r.Start + uintptr(r.Pages)*config.PageSize
	return va >= r.Start && va < end
}

// Mt_t is the set of live mappings for one address space, keyed by
// start address.
type Mt_t struct {
	mu      sync.Mutex
	regions map[uintptr]*Region
}

// New returns an empty memory-map table.
func New() *Mt_t {
	return &Mt_t{regions: make(map[uintptr]*Region)}
}

// Add records a freshly established mapping, taking ownership of one
// reference to file.
func (mt *Mt_t) Add(start uintptr, pages int, file FileCloser) {
	sf, ok := file.(*sharedFile)
	if !ok {
		sf = &sharedFile{FileCloser: file}
		sf.refs.Store(1)
	}
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.regions[start] = &Region{Start: start, Pages: pages, File: sf}
}

// CopyTo mirrors every live region into dst, retaining each backing
// file handle so the two tables can be torn down independently. This is the
// fork path's replacement for reopening the file in the child.
func (mt *Mt_t) CopyTo(dst *Mt_t) {
	mt.mu.Lock()
	snapshot := make([]*Region, 0, len(mt.regions))
	for _, r := range mt.regions {
		snapshot = append(snapshot, r)
	}
	mt.mu.Unlock()
	for _, r := range snapshot {
		r.File.(*sharedFile).refs.Add(1)
		dst.Add(r.Start, r.Pages, r.File)
	}
}

// Find returns the region containing va, if any.
func (mt *Mt_t) Find(va uintptr) (*Region, bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	for _, r := range mt.regions {
		if r.Contains(va) {
			return r, true
		}
	}
	return nil, false
}

// Remove deletes the region starting exactly at start; munmap only
// accepts the start address the mapping was created at.
func (mt *Mt_t) Remove(start uintptr) (*Region, bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	r, ok := mt.regions[start]
	if !ok {
		return nil, false
	}
	delete(mt.regions, start)
	return r, true
}

// Range calls fn once for each live region, by value, so a caller can
// walk the set without holding mt's lock while doing so.
func (mt *Mt_t) Range(fn func(r Region)) {
	mt.mu.Lock()
	snapshot := make([]Region, 0, len(mt.regions))
	for _, r := range mt.regions {
		snapshot = append(snapshot, *r)
	}
	mt.mu.Unlock()
	for _, r := range snapshot {
		fn(r)
	}
}

// Len reports the number of live mappings, for the stats reporter.
func (mt *Mt_t) Len() int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return len(mt.regions)
}

// DestroyAll removes every region, closing each backing file. It is
// called from address-space teardown after every mapped page has
// already been written back and removed from the SPT.
func (mt *Mt_t) DestroyAll() {
	mt.mu.Lock()
	all := mt.regions
	mt.regions = make(map[uintptr]*Region)
	mt.mu.Unlock()
	for _, r := range all {
		r.File.Close()
	}
}
