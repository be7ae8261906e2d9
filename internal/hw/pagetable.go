// Package hw is the hardware page-table layer: map, unmap, lookup,
// the dirty/accessed bits, and writability, as one interface. This
// package defines that interface and one concrete implementation, a
// single-address-space page table simulated in plain Go, so the VM
// core can be driven and tested without an actual MMU underneath it.
package hw

import "sync"

// PageTable is the contract the VM core depends on. A real kernel
// backs this with CR3 and the x86 page-walk hardware; here it is
// software, but the core above it never needs to know that.
type PageTable interface {
	// Map installs va -> kva with the given writability, replacing any
	// existing mapping at va. It returns false only when the
	// implementation itself is out of resources (never happens for
	// the simulated table, but real page-table code can fail here).
	Map(va uintptr, kva []byte, writable bool) bool

	// Unmap removes any mapping at va. It is a no-op if va is unmapped.
	Unmap(va uintptr)

	// Lookup returns the backing bytes for va, or (nil, false) if va
	// is not present.
	Lookup(va uintptr) ([]byte, bool)

	// IsDirty and IsAccessed read the hardware bits; they are
	// meaningless (and return false) for an address with no mapping.
	IsDirty(va uintptr) bool
	IsAccessed(va uintptr) bool

	// SetAccessed and SetWritable mutate hardware state directly; the
	// clock algorithm uses the former to age pages, COW uses the
	// latter to flip a shared mapping to read-only and back.
	SetAccessed(va uintptr, v bool)
	SetWritable(va uintptr, v bool)

	// Touch simulates the CPU servicing a successful memory reference
	// at va: it sets the accessed bit (and the dirty bit, for writes)
	// and returns the mapped bytes. Real hardware does this as a side
	// effect of the instruction that faulted; the simulation needs an
	// explicit call so tests can drive "the program touched this byte"
	// without an actual CPU.
	Touch(va uintptr, write bool) ([]byte, bool)
}

type pte struct {
	kva      []byte
	writable bool
	accessed bool
	dirty    bool
}

// SimPageTable is an in-memory stand-in for one process's page table.
// Entries are keyed by page-aligned virtual address.
type SimPageTable struct {
	mu      sync.Mutex
	entries map[uintptr]*pte
}

// NewSimPageTable returns an empty page table.
func NewSimPageTable() *SimPageTable {
	return &SimPageTable{entries: make(map[uintptr]*pte)}
}

func (pt *SimPageTable) Map(va uintptr, kva []byte, writable bool) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.entries[va] = &pte{kva: kva, writable: writable}
	return true
}

func (pt *SimPageTable) Unmap(va uintptr) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.entries, va)
}

func (pt *SimPageTable) Lookup(va uintptr) ([]byte, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va]
	if !ok {
		return nil, false
	}
	return e.kva, true
}

func (pt *SimPageTable) IsDirty(va uintptr) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va]
	return ok && e.dirty
}

func (pt *SimPageTable) IsAccessed(va uintptr) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va]
	return ok && e.accessed
}

func (pt *SimPageTable) SetAccessed(va uintptr, v bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if e, ok := pt.entries[va]; ok {
		e.accessed = v
	}
}

func (pt *SimPageTable) SetWritable(va uintptr, v bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if e, ok := pt.entries[va]; ok {
		e.writable = v
	}
}

func (pt *SimPageTable) Touch(va uintptr, write bool) ([]byte, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va]
	if !ok {
		return nil, false
	}
	if write && !e.writable {
		return nil, false
	}
	e.accessed = true
	if write {
		e.dirty = true
	}
	return e.kva, true
}
