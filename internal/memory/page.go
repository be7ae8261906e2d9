package memory

import (
	"sync"

	"vmcore/internal/errs"
	"vmcore/internal/hw"
)

// Variant is the page descriptor's vtable: the four page kinds
// (Uninit, Anon, File, and the reserved PageCache) all satisfy it,
// and a descriptor's variant can be swapped out from under it:
// Uninit rearms into Anon or File on first fault, any variant can be
// wrapped for copy-on-write sharing.
type Variant interface {
	// SwapIn materializes content into kva: read from backing store,
	// zero-fill, or run a lazy initializer, depending on kind.
	SwapIn(p *Page_t, kva []byte) bool
	// SwapOut writes the page's current frame content to backing store
	// if it has one and needs to (dirty file pages, always for anon).
	SwapOut(p *Page_t) bool
	// Destroy releases any resources the variant owns (a swap slot) and
	// writes back a dirty file page, without touching the frame itself.
	Destroy(p *Page_t)
	// Clone returns an independent copy of the variant's own state,
	// used when a COW split leaves two descriptors that must no longer
	// share backing-store bookkeeping (e.g. distinct swap slots).
	Clone() Variant
}

// Page_t is the supplemental page table entry: the common header (va,
// permissions, residency, the frame pointer when resident) plus the
// variant that knows how to fill it.
type Page_t struct {
	mu sync.Mutex

	VA       uintptr
	Owner    hw.PageTable
	Writable bool
	Shared   bool
	Resident bool
	Frame    *Frame_t
	Variant  Variant
}

// NewPage creates a non-resident descriptor for va, backed by variant.
func NewPage(va uintptr, owner hw.PageTable, writable bool, variant Variant) *Page_t {
	return &Page_t{VA: va, Owner: owner, Writable: writable, Variant: variant}
}

// Lock and Unlock serialize the frame/residency fields of this
// descriptor against concurrent eviction of its frame. Lock order:
// frame-table mutex, then per-frame lock, then the descriptor itself.
func (p *Page_t) Lock()   { p.mu.Lock() }
func (p *Page_t) Unlock() { p.mu.Unlock() }

// Claim brings p into residency using frame f: runs the variant's
// SwapIn to fill f.Kva, installs the hardware mapping, and records
// residency. The caller has already obtained f (or determined that p
// can attach to an existing shared frame, see ShareFrame) and holds
// p's lock.
func (p *Page_t) Claim(f *Frame_t) errs.Err_t {
	if !p.Variant.SwapIn(p, f.Kva) {
		return errs.FileIO
	}
	hwWritable := p.Writable && !p.Shared
	if !p.Owner.Map(p.VA, f.Kva, hwWritable) {
		return errs.NoPhysical
	}
	p.Frame = f
	p.Resident = true
	f.addTenant(p)
	return errs.OK
}

// AttachShared installs p onto an already-resident frame belonging to
// a peer in its variant group (a COW peer or a MAP_SHARED alias),
// without running SwapIn or allocating. The hardware writable bit
// follows the same rule Claim uses, so a permanently aliased
// (MAP_SHARED, Shared == false) page stays writable while a COW peer
// (Shared == true) is forced read-only until it splits.
func (p *Page_t) AttachShared(f *Frame_t) errs.Err_t {
	hwWritable := p.Writable && !p.Shared
	if !p.Owner.Map(p.VA, f.Kva, hwWritable) {
		return errs.NoPhysical
	}
	p.Frame = f
	p.Resident = true
	f.addTenant(p)
	return errs.OK
}

// Destroy tears p down: gives the variant a chance to write back
// persistent content while the page is still resident (a File variant
// does this for a dirty page; Anon does not, since swapped content
// never outlives the process), then detaches it from its frame
// (releasing the frame to ft if it was the last tenant), unmaps it,
// and frees any variant-owned resources. This is the per-entry work
// behind Spt_t.Remove and Spt_t.DestroyAll. The caller holds the
// frame-table mutex, which excludes victim selection for the duration;
// the frame and page locks are then taken inside it, in that order.
func (p *Page_t) Destroy(ft *FrameTable_t) {
	p.mu.Lock()
	f := p.Frame
	p.mu.Unlock()

	if f == nil {
		p.mu.Lock()
		p.Variant.Destroy(p)
		p.mu.Unlock()
		return
	}

	f.mu.Lock()
	p.mu.Lock()
	if p.Frame != f {
		// an in-flight eviction took the frame between the peek above
		// and the locked re-check; only variant resources remain
		p.Variant.Destroy(p)
		p.mu.Unlock()
		f.mu.Unlock()
		return
	}

	p.Variant.Destroy(p)

	p.Owner.Unmap(p.VA)
	f.Tenants = removeTenant(f.Tenants, p)
	// a frame mid-eviction already belongs to the ObtainFrame caller
	// that selected it; it must not also reach the free list
	release := len(f.Tenants) == 0 && !f.evicting
	p.Resident = false
	p.Frame = nil
	p.mu.Unlock()
	f.mu.Unlock()

	if release {
		ft.releaseFrameLocked(f)
	}
}
