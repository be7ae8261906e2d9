package memory

import (
	"vmcore/internal/errs"
	"vmcore/internal/swap"
)

// AnonVariant is anonymous memory: a stack page, a heap page, or a
// segment's zero-fill tail. It has no persistent backing beyond a
// swap slot, and holds one only while actually evicted.
type AnonVariant struct {
	alloc *swap.Allocator_t
	slot  int
}

// NewAnon creates a fresh anonymous page backed by alloc, not yet
// holding any swap slot.
func NewAnon(alloc *swap.Allocator_t) *AnonVariant {
	return &AnonVariant{alloc: alloc, slot: swap.NoSlot}
}

// SwapIn zero-fills a never-swapped page, or reads its content back
// from its swap slot and frees the slot.
func (a *AnonVariant) SwapIn(p *Page_t, kva []byte) bool {
	if a.slot == swap.NoSlot {
		for i := range kva {
			kva[i] = 0
		}
		return true
	}
	if err := a.alloc.Read(a.slot, kva); err != errs.OK {
		return false
	}
	a.alloc.Free(a.slot)
	a.slot = swap.NoSlot
	return true
}

// SwapOut always writes the frame's content to a freshly allocated
// swap slot: anonymous content has no other backing store, so unlike
// a File page there is no "clean, drop it" shortcut.
func (a *AnonVariant) SwapOut(p *Page_t) bool {
	slot, err := a.alloc.Alloc()
	if err != errs.OK {
		return false
	}
	if err := a.alloc.Write(slot, p.Frame.Kva); err != errs.OK {
		a.alloc.Free(slot)
		return false
	}
	a.slot = slot
	return true
}

func (a *AnonVariant) Destroy(p *Page_t) {
	if a.slot != swap.NoSlot {
		a.alloc.Free(a.slot)
		a.slot = swap.NoSlot
	}
}

// Clone gives a COW split survivor its own, independent swap
// bookkeeping: it must never free the original's slot, and it starts
// "never swapped" since the split copy lives in a brand new frame.
func (a *AnonVariant) Clone() Variant {
	return &AnonVariant{alloc: a.alloc, slot: swap.NoSlot}
}
