// Package spt is the supplemental page table: the per-address-space
// map from page-aligned virtual address to page descriptor. It
// records what should be at each address, whether or not the page is
// currently resident.
package spt

import (
	"sync"

	"vmcore/internal/errs"
	"vmcore/internal/memory"
)

// Spt_t is one address space's page table. Lookups and mutations are
// independent of the fault-handling lock discipline around individual
// frames; this structure only protects its own map.
type Spt_t struct {
	mu      sync.Mutex
	entries map[uintptr]*memory.Page_t
}

// New returns an empty supplemental page table.
func New() *Spt_t {
	return &Spt_t{entries: make(map[uintptr]*memory.Page_t)}
}

// Insert adds page under its own VA. It fails with errs.Exists if an
// entry already occupies that address, leaving the table unchanged.
func (s *Spt_t) Insert(page *memory.Page_t) errs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[page.VA]; dup {
		return errs.Exists
	}
	s.entries[page.VA] = page
	return errs.OK
}

// Find returns the descriptor covering the page-aligned address va, or
// (nil, false) if none exists.
func (s *Spt_t) Find(va uintptr) (*memory.Page_t, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[va]
	return p, ok
}

// Remove tears down and deletes the entry at va, used directly by
// munmap. The frame-table mutex is held across the page's destruction
// so the release of its frame cannot race victim selection in another
// process's fault.
func (s *Spt_t) Remove(va uintptr, ft *memory.FrameTable_t) errs.Err_t {
	s.mu.Lock()
	page, ok := s.entries[va]
	if !ok {
		s.mu.Unlock()
		return errs.NotFound
	}
	delete(s.entries, va)
	s.mu.Unlock()

	ft.Lock()
	page.Destroy(ft)
	ft.Unlock()
	return errs.OK
}

// Len reports the number of live entries, for property tests and the
// stats reporter.
func (s *Spt_t) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Range calls fn for every entry. fn must not mutate s.
func (s *Spt_t) Range(fn func(va uintptr, page *memory.Page_t)) {
	s.mu.Lock()
	snapshot := make(map[uintptr]*memory.Page_t, len(s.entries))
	for va, p := range s.entries {
		snapshot[va] = p
	}
	s.mu.Unlock()
	for va, p := range snapshot {
		fn(va, p)
	}
}

// DestroyAll tears down every entry and empties the table, called
// once during address-space teardown. The whole traversal runs under
// the frame-table mutex: no victim can be selected, and no frame
// handed out, while this table's pages detach and release theirs.
func (s *Spt_t) DestroyAll(ft *memory.FrameTable_t) {
	s.mu.Lock()
	all := s.entries
	s.entries = make(map[uintptr]*memory.Page_t)
	s.mu.Unlock()

	ft.Lock()
	defer ft.Unlock()
	for _, page := range all {
		page.Destroy(ft)
	}
}
