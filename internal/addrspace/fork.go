package addrspace

import (
	"vmcore/internal/errs"
	"vmcore/internal/memory"
)

// Fork populates child with a copy-on-write image of as: every
// private page becomes a COW peer of its parent (read-only in
// hardware until either side writes), while a MAP_SHARED file page
// becomes a permanent alias instead; both sides stay writable and
// neither ever splits. child must be freshly created with an empty
// SPT.
func (as *As_t) Fork(child *As_t) errs.Err_t {
	var failure errs.Err_t = errs.OK

	as.SPT.Range(func(va uintptr, parentPage *memory.Page_t) {
		if failure != errs.OK {
			return
		}
		parentPage.Lock()
		defer parentPage.Unlock()

		childPage := memory.NewPage(va, child.PT, parentPage.Writable, nil)

		if memory.SharedFileBacked(parentPage) {
			memory.MakeAlias(parentPage, childPage)
		} else {
			memory.MakeCow(parentPage, childPage)
			if parentPage.Resident {
				as.PT.SetWritable(parentPage.VA, false)
			}
		}

		if err := child.SPT.Insert(childPage); err != errs.OK {
			failure = err
			return
		}

		if parentPage.Resident {
			if err := child.claim(childPage); err != errs.OK {
				failure = err
			}
		}
	})

	if failure != errs.OK {
		return failure
	}

	as.MT.CopyTo(child.MT)
	return errs.OK
}
