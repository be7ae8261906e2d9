package memory

import (
	"sync"

	"vmcore/internal/errs"
	"vmcore/internal/hw"
)

// cowVariant wraps another variant so a parent and its fork children
// (transitively) can share one frame read-only until one of them
// writes. It is never constructed directly by a caller outside this
// file; MakeCow installs it.
type cowVariant struct {
	mu     sync.Mutex
	peers  []*Page_t
	source Variant
}

func newCowGroup(source Variant, initial ...*Page_t) *cowVariant {
	return &cowVariant{source: source, peers: append([]*Page_t{}, initial...)}
}

func (cv *cowVariant) addPeer(p *Page_t) {
	cv.mu.Lock()
	cv.peers = append(cv.peers, p)
	cv.mu.Unlock()
}

func (cv *cowVariant) removePeer(p *Page_t) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	for i, q := range cv.peers {
		if q == p {
			cv.peers = append(cv.peers[:i], cv.peers[i+1:]...)
			return
		}
	}
}

// SwapIn materializes the shared source content. If the source is
// still Uninit, the first peer to fault runs the initializer and
// rearms cv.source itself (not p.Variant) so that later peers still
// find the cowVariant wrapper and the now-real content, instead of
// each independently re-running a lazy load.
func (cv *cowVariant) SwapIn(p *Page_t, kva []byte) bool {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	if u, ok := cv.source.(*UninitVariant); ok {
		ok2, rearmed := u.materialize(p, kva)
		if !ok2 {
			return false
		}
		cv.source = rearmed
		return true
	}
	return cv.source.SwapIn(p, kva)
}

func (cv *cowVariant) SwapOut(p *Page_t) bool {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.source.SwapOut(p)
}

// Destroy removes p from the group. Once the last peer is gone, the
// shared source's own resources (a swap slot) are released and a dirty
// file page is written back; nothing else holds a reference to
// cv.source after this. An earlier peer of a file-backed group still
// writes back its own dirty mapping as it leaves.
func (cv *cowVariant) Destroy(p *Page_t) {
	cv.removePeer(p)
	cv.mu.Lock()
	empty := len(cv.peers) == 0
	source := cv.source
	cv.mu.Unlock()
	if empty {
		source.Destroy(p)
		return
	}
	if fv, ok := source.(*FileVariant); ok {
		fv.Destroy(p)
	}
}

// Clone is never called directly on a cowVariant: a descriptor wrapped
// for sharing leaves the wrapper only through Unshare, which clones
// cv.source itself.
func (cv *cowVariant) Clone() Variant {
	panic("memory: cow variant cloned directly; use Page_t.Unshare")
}

// ShareFrame reports a peer's already-resident frame, if p is part of
// a COW group and some other member is resident. Fault handling must
// check this before calling FrameTable_t.ObtainFrame, since attaching
// to an existing shared frame skips allocation entirely.
func (p *Page_t) ShareFrame() (*Frame_t, bool) {
	cv, ok := p.Variant.(*cowVariant)
	if !ok {
		return nil, false
	}
	cv.mu.Lock()
	defer cv.mu.Unlock()
	for _, peer := range cv.peers {
		if peer != p && peer.Resident {
			return peer.Frame, true
		}
	}
	return nil, false
}

// SharedFileBacked reports whether p's content is a MAP_SHARED file
// mapping, looking through the alias-group wrapper a previous fork may
// have installed, and through a not-yet-faulted Uninit page to the
// variant it will rearm into. Fork uses this to pick MakeAlias over
// MakeCow.
func SharedFileBacked(p *Page_t) bool {
	v := p.Variant
	if cv, ok := v.(*cowVariant); ok {
		cv.mu.Lock()
		v = cv.source
		cv.mu.Unlock()
	}
	if u, ok := v.(*UninitVariant); ok {
		v = u.rearm(u.aux)
	}
	fv, ok := v.(*FileVariant)
	return ok && fv.shared
}

// MakeCow arranges for dst to share src's backing content
// copy-on-write. src must already be inserted in its own SPT; dst must
// not yet be resident. Both descriptors end up marked Shared, and both
// point at the same cowVariant, so a later fork from either one grows
// the same group rather than nesting wrappers.
func MakeCow(src, dst *Page_t) {
	cv, alreadyShared := src.Variant.(*cowVariant)
	if !alreadyShared {
		cv = newCowGroup(src.Variant, src)
		src.Variant = cv
	}
	cv.addPeer(dst)
	dst.Variant = cv
	src.Shared = true
	dst.Shared = true
	dst.Writable = src.Writable
}

// MakeAlias links a and b to the same backing content the way MakeCow
// does, but leaves Shared false on both: this is for MAP_SHARED file
// mappings inherited across fork, which must stay writable in
// hardware on every alias and never split on a write fault, unlike a
// private COW page.
func MakeAlias(a, b *Page_t) {
	cv, already := a.Variant.(*cowVariant)
	if !already {
		cv = newCowGroup(a.Variant, a)
		a.Variant = cv
	}
	cv.addPeer(b)
	b.Variant = cv
	b.Writable = a.Writable
}

// Unshare detaches p from its COW group, restoring private ownership
// of its content. If p was the sole remaining tenant of its frame, the
// hardware mapping is simply flipped back to writable; otherwise a
// fresh frame is obtained from ft, the content is copied, and p's
// variant becomes an independent Clone of the group's source. The
// alone case also covers a group whose other peers were destroyed
// rather than split: the survivor collapses back to private on its
// next write fault, with no copy.
func (p *Page_t) Unshare(ft *FrameTable_t, pt hw.PageTable) errs.Err_t {
	cv, ok := p.Variant.(*cowVariant)
	if !ok {
		p.Shared = false
		return errs.OK
	}
	cv.removePeer(p)

	p.Frame.mu.Lock()
	alone := len(p.Frame.Tenants) <= 1
	p.Frame.mu.Unlock()

	if alone {
		p.Shared = false
		p.Variant = cv.source
		pt.SetWritable(p.VA, true)
		return errs.OK
	}

	newFrame, err := ft.ObtainFrame()
	if err != errs.OK {
		cv.addPeer(p) // put p back; the split did not happen
		return err
	}
	copy(newFrame.Kva, p.Frame.Kva)

	old := p.Frame
	old.mu.Lock()
	old.Tenants = removeTenant(old.Tenants, p)
	old.mu.Unlock()

	p.Frame = newFrame
	p.Shared = false
	p.Variant = cv.source.Clone()
	newFrame.addTenant(p)

	if !pt.Map(p.VA, newFrame.Kva, true) {
		return errs.NoPhysical
	}
	return errs.OK
}
