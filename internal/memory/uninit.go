package memory

// InitFunc fills kva with the page's initial content, given the aux
// payload the descriptor was created with (e.g. a file region and
// offset for a lazily-loaded segment). It returns false on I/O
// failure.
type InitFunc func(p *Page_t, kva []byte, aux any) bool

// RearmFunc produces the variant a descriptor should carry once its
// lazy initializer has run once, derived from the same aux payload.
type RearmFunc func(aux any) Variant

// UninitVariant is the "not yet loaded" page kind: it carries an
// initializer and the arguments it needs, and rearms the descriptor
// to its real variant (Anon or File) on first fault.
type UninitVariant struct {
	initFn InitFunc
	aux    any
	rearm  RearmFunc
}

// NewUninit builds a lazy descriptor variant. rearm must not be nil:
// every uninitialized page has a concrete eventual kind.
func NewUninit(initFn InitFunc, aux any, rearm RearmFunc) *UninitVariant {
	return &UninitVariant{initFn: initFn, aux: aux, rearm: rearm}
}

// materialize runs the initializer and reports the variant p should
// carry afterward. It does not mutate p.Variant itself, so that
// cowVariant can redirect the rearm onto its own source field instead.
func (u *UninitVariant) materialize(p *Page_t, kva []byte) (bool, Variant) {
	if !u.initFn(p, kva, u.aux) {
		return false, nil
	}
	return true, u.rearm(u.aux)
}

func (u *UninitVariant) SwapIn(p *Page_t, kva []byte) bool {
	ok, rearmed := u.materialize(p, kva)
	if !ok {
		return false
	}
	p.Variant = rearmed
	return true
}

// SwapOut can never be called on an Uninit page: it is never resident
// (SwapIn always rearms it before Claim marks the descriptor
// resident), so it can never be chosen as an eviction victim.
func (u *UninitVariant) SwapOut(p *Page_t) bool {
	panic("memory: swap_out called on an uninitialized page")
}

func (u *UninitVariant) Destroy(p *Page_t) {
	u.aux = nil
}

func (u *UninitVariant) Clone() Variant {
	return &UninitVariant{initFn: u.initFn, aux: u.aux, rearm: u.rearm}
}
