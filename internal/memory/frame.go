// Package memory is the physical frame table and the page descriptor
// with its variant vtable. They live in one Go package because they
// are mutually referential by construction: a frame's tenant list
// holds page descriptors, and a resident descriptor points back at
// its frame. Splitting them would mean introducing an interface
// purely to break the import cycle.
package memory

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"vmcore/internal/config"
	"vmcore/internal/errs"
)

// Frame_t is one physical page of the user pool: a slice of the
// backing slab plus the set of page descriptors currently projecting
// onto it. A frame is never owned by a descriptor; eviction and COW
// both rely on it being a shared resource addressed by index.
type Frame_t struct {
	idx     int
	Kva     []byte
	mu      sync.Mutex
	Tenants []*Page_t

	// evicting marks a frame between victim selection and the end of
	// its eviction. Guarded by the frame table's mutex, not mu. A
	// selected victim is logically out of the table: selection skips
	// it and teardown leaves its release to the evicting caller.
	evicting bool
}

func removeTenant(list []*Page_t, p *Page_t) []*Page_t {
	for i, q := range list {
		if q == p {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// TenantCount reports the current number of pages sharing this frame.
func (f *Frame_t) TenantCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Tenants)
}

func (f *Frame_t) addTenant(p *Page_t) {
	f.mu.Lock()
	f.Tenants = append(f.Tenants, p)
	f.mu.Unlock()
}

// FrameTable_t is the global physical frame table: the fixed-size pool
// of frames, the free list, and the clock cursor used for eviction.
// The global mutex covers only allocation and victim selection, never
// the I/O a variant's SwapOut/SwapIn performs once a victim is chosen.
type FrameTable_t struct {
	mu     sync.Mutex
	pool   []byte
	frames []*Frame_t
	free   []int
	cursor int
}

// NewFrameTable reserves nframes physical pages for the user pool. The
// backing store is an anonymous mmap standing in for physical RAM; a
// real kernel would instead slice this out of memory discovered at
// boot.
func NewFrameTable(nframes int) (*FrameTable_t, error) {
	if nframes <= 0 {
		return nil, fmt.Errorf("memory: frame count must be positive")
	}
	pool, err := unix.Mmap(-1, 0, nframes*config.PageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("memory: mmap frame pool: %w", err)
	}
	frames := make([]*Frame_t, nframes)
	free := make([]int, nframes)
	for i := range frames {
		frames[i] = &Frame_t{idx: i, Kva: pool[i*config.PageSize : (i+1)*config.PageSize]}
		free[i] = nframes - 1 - i
	}
	return &FrameTable_t{pool: pool, frames: frames, free: free}, nil
}

// Close releases the backing slab. It must only be called after every
// address space using this table has torn down.
func (ft *FrameTable_t) Close() error {
	return unix.Munmap(ft.pool)
}

// Size reports the total number of frames in the pool.
func (ft *FrameTable_t) Size() int {
	return len(ft.frames)
}

// Lock and Unlock expose the frame-table mutex to address-space
// teardown, which must exclude victim selection while it detaches
// pages and releases frames. Fault-path callers never take this
// directly; ObtainFrame manages it internally.
func (ft *FrameTable_t) Lock()   { ft.mu.Lock() }
func (ft *FrameTable_t) Unlock() { ft.mu.Unlock() }

// FreeCount reports the number of frames not currently backing any
// page, for the stats reporter.
func (ft *FrameTable_t) FreeCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.free)
}

// ObtainFrame returns a frame ready to be claimed by a fresh page: a
// free frame if one exists, otherwise the result of evicting a clock
// victim.
func (ft *FrameTable_t) ObtainFrame() (*Frame_t, errs.Err_t) {
	ft.mu.Lock()
	if n := len(ft.free); n > 0 {
		idx := ft.free[n-1]
		ft.free = ft.free[:n-1]
		ft.mu.Unlock()
		return ft.frames[idx], errs.OK
	}
	victim, ok := ft.selectVictimLocked()
	ft.mu.Unlock()
	if !ok {
		return nil, errs.NoPhysical
	}
	if err := ft.evict(victim); err != errs.OK {
		return nil, err
	}
	return victim, errs.OK
}

// selectVictimLocked runs the clock algorithm: advance the cursor,
// clearing accessed bits, until a frame with a clear bit is found.
// Frames with zero or more than one tenant are skipped (an empty
// frame belongs on the free list already, and a still-shared COW
// frame is pinned), as are frames already mid-eviction. The chosen
// victim is marked evicting before the frame-table mutex drops, so a
// concurrent ObtainFrame cannot select it a second time. The scan is
// bounded to two passes over the table: a full pass clears every
// accessed bit it sees, so a second pass is guaranteed to find a
// clear one if any single-tenant frame exists.
func (ft *FrameTable_t) selectVictimLocked() (*Frame_t, bool) {
	n := len(ft.frames)
	if n == 0 {
		return nil, false
	}
	for pass := 0; pass < 2*n; pass++ {
		idx := ft.cursor
		ft.cursor = (ft.cursor + 1) % n
		f := ft.frames[idx]
		if f.evicting {
			continue
		}
		f.mu.Lock()
		if len(f.Tenants) != 1 {
			f.mu.Unlock()
			continue
		}
		p := f.Tenants[0]
		f.mu.Unlock()
		if p.Owner.IsAccessed(p.VA) {
			p.Owner.SetAccessed(p.VA, false)
			continue
		}
		f.evicting = true
		return f, true
	}
	return nil, false
}

// evict writes the victim frame's sole tenant back to its backing
// store (if any) and clears the hardware mapping, leaving the frame
// ready for reuse by the caller. The frame arrives marked evicting by
// selectVictimLocked; the mark comes off once the tenant list is
// empty, or on failure, when the still-occupied frame goes back into
// circulation.
func (ft *FrameTable_t) evict(f *Frame_t) errs.Err_t {
	f.mu.Lock()
	tenants := append([]*Page_t(nil), f.Tenants...)
	f.mu.Unlock()

	for _, p := range tenants {
		p.Lock()
		if !p.Resident || p.Frame != f {
			// torn down since selection; nothing left to write out
			p.Unlock()
			continue
		}
		if !p.Variant.SwapOut(p) {
			p.Unlock()
			ft.mu.Lock()
			f.evicting = false
			ft.mu.Unlock()
			return errs.NoSwap
		}
		p.Owner.Unmap(p.VA)
		p.Resident = false
		p.Frame = nil
		p.Unlock()
	}

	f.mu.Lock()
	f.Tenants = f.Tenants[:0]
	f.mu.Unlock()
	ft.mu.Lock()
	f.evicting = false
	ft.mu.Unlock()
	return errs.OK
}

// ReleaseFrame returns an empty frame to the free list. The caller
// must already have removed the last tenant, and must not hold the
// frame-table mutex.
func (ft *FrameTable_t) ReleaseFrame(f *Frame_t) {
	ft.mu.Lock()
	ft.releaseFrameLocked(f)
	ft.mu.Unlock()
}

// releaseFrameLocked is ReleaseFrame for callers already holding the
// frame-table mutex, such as address-space teardown.
func (ft *FrameTable_t) releaseFrameLocked(f *Frame_t) {
	if f.TenantCount() != 0 {
		panic("memory: releasing a frame with tenants")
	}
	ft.free = append(ft.free, f.idx)
}
