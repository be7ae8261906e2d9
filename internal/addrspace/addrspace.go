// Package addrspace ties the frame table, supplemental page table,
// and memory-map table into one per-process address space: fault
// handling, fork, and teardown. It is the component the rest of a
// kernel would call into: register a lazy mapping, take a page
// fault, mmap/munmap, fork, exit.
package addrspace

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"vmcore/internal/config"
	"vmcore/internal/errs"
	"vmcore/internal/hw"
	"vmcore/internal/memory"
	"vmcore/internal/mmaptbl"
	"vmcore/internal/spt"
	"vmcore/internal/swap"
	"vmcore/internal/util"
)

// As_t is one process's address space. The frame table and swap
// allocator are shared across every address space in a system (they
// are global physical resources); the page table, supplemental page
// table, and memory-map table are private to this one.
type As_t struct {
	ID uuid.UUID

	PT     hw.PageTable
	Frames *memory.FrameTable_t
	Swap   *swap.Allocator_t
	Cfg    config.Config_t

	SPT *spt.Spt_t
	MT  *mmaptbl.Mt_t

	// StackTop is the highest address the stack region may occupy;
	// the region grows downward from here to at most Cfg.StackLimit
	// bytes below it.
	StackTop uintptr

	faults singleflight.Group
	log    *logrus.Entry
}

// New creates an address space sharing the given physical frame table
// and swap allocator. stackTop is the fixed top-of-stack address the
// loader places argv/envp below.
func New(pt hw.PageTable, frames *memory.FrameTable_t, salloc *swap.Allocator_t, cfg config.Config_t, stackTop uintptr, log *logrus.Logger) *As_t {
	if log == nil {
		log = logrus.StandardLogger()
	}
	id := uuid.New()
	return &As_t{
		ID:       id,
		PT:       pt,
		Frames:   frames,
		Swap:     salloc,
		Cfg:      cfg,
		SPT:      spt.New(),
		MT:       mmaptbl.New(),
		StackTop: stackTop,
		log:      log.WithField("as", id.String()),
	}
}

// RegisterLazy installs a page that will be filled on first fault by
// initFn, rearming to the variant rearm derives from aux once that
// runs. This is the entry point an executable loader stages segments
// through; Mmap uses it for every page of a mapping.
func (as *As_t) RegisterLazy(va uintptr, writable bool, initFn memory.InitFunc, aux any, rearm memory.RearmFunc) errs.Err_t {
	page := memory.NewPage(va, as.PT, writable, memory.NewUninit(initFn, aux, rearm))
	return as.SPT.Insert(page)
}

// RegisterAnon installs an immediately-zero-fill anonymous page
// without going through an Uninit indirection, used for eager stack
// pages and other cases that do not need a lazy initializer.
func (as *As_t) RegisterAnon(va uintptr, writable bool) errs.Err_t {
	page := memory.NewPage(va, as.PT, writable, memory.NewAnon(as.Swap))
	return as.SPT.Insert(page)
}

// claim brings page into residency, attaching to a COW/alias peer's
// frame when one is already resident instead of allocating a fresh
// one. The caller holds no lock on page; claim acquires it. A frame
// obtained but never successfully claimed goes straight back to the
// free list, so a failed lazy initializer cannot leak physical memory.
func (as *As_t) claim(page *memory.Page_t) errs.Err_t {
	page.Lock()
	defer page.Unlock()
	if page.Resident {
		return errs.OK
	}
	if frame, ok := page.ShareFrame(); ok {
		return page.AttachShared(frame)
	}
	frame, err := as.Frames.ObtainFrame()
	if err != errs.OK {
		return err
	}
	if err := page.Claim(frame); err != errs.OK {
		as.Frames.ReleaseFrame(frame)
		return err
	}
	return errs.OK
}

// HandleFault resolves a page fault at va: kernel-address rejection,
// SPT lookup, stack growth, COW split, or the claim protocol. user,
// write, and notPresent come from the trap's error code; sp is the
// faulting thread's stack pointer, needed only to decide whether an
// unmapped address below the stack region qualifies as stack growth.
// A non-OK return means the faulting process must die.
func (as *As_t) HandleFault(va uintptr, user, write, notPresent bool, sp uintptr) errs.Err_t {
	if va == 0 || (user && va >= config.KernBase) {
		return errs.AddressInvalid
	}
	aligned := alignDown(va)

	key := fmt.Sprintf("%x-%v", aligned, write)
	v, _, _ := as.faults.Do(key, func() (any, error) {
		return as.resolveFault(aligned, va, write, notPresent, sp), nil
	})
	return v.(errs.Err_t)
}

func (as *As_t) resolveFault(aligned, va uintptr, write, notPresent bool, sp uintptr) errs.Err_t {
	page, ok := as.SPT.Find(aligned)
	if !ok {
		if !notPresent {
			return errs.NoMapping
		}
		return as.tryGrowStack(aligned, va, sp)
	}

	switch {
	case write && !page.Writable:
		return errs.ProtectionViolation
	case write && page.Shared:
		return as.resolveWriteToShared(page)
	case notPresent:
		return as.claim(page)
	default:
		// present, and not a write the cases above resolve: a
		// protection fault this core has no answer for.
		return errs.ProtectionViolation
	}
}

// tryGrowStack implements the lazy stack-growth edge case: an
// unmapped fault below the stack's current extent is legitimate only
// if it falls within the configured stack limit and within 8 bytes of
// the current stack pointer (the PUSH/PUSHA instructions can fault
// that far below sp before it is decremented). An sp of 0 skips the
// stack-pointer check and applies only the stack limit.
func (as *As_t) tryGrowStack(aligned, va, sp uintptr) errs.Err_t {
	floor := as.StackTop - uintptr(as.Cfg.StackLimit)
	if aligned >= as.StackTop || aligned < floor {
		return errs.NoMapping
	}
	if sp != 0 && va < sp-8 {
		return errs.NoMapping
	}
	page := memory.NewPage(aligned, as.PT, true, memory.NewAnon(as.Swap))
	if err := as.SPT.Insert(page); err != errs.OK {
		// another faulter already grew this page; treat as success
		if err == errs.Exists {
			existing, _ := as.SPT.Find(aligned)
			return as.claim(existing)
		}
		return err
	}
	// Register (but do not claim) every missing page between the fault
	// and the stack's current extent, so the region stays contiguous;
	// the first existing entry marks where the stack already reached.
	for cur := aligned + config.PageSize; cur < as.StackTop; cur += config.PageSize {
		if _, ok := as.SPT.Find(cur); ok {
			break
		}
		as.SPT.Insert(memory.NewPage(cur, as.PT, true, memory.NewAnon(as.Swap)))
	}
	as.log.WithField("va", fmt.Sprintf("0x%x", aligned)).Debug("stack grown")
	return as.claim(page)
}

// resolveWriteToShared handles a write fault on a page currently
// marked Shared: bring it resident first if needed, then split it out
// of its COW group.
func (as *As_t) resolveWriteToShared(page *memory.Page_t) errs.Err_t {
	if err := as.claim(page); err != errs.OK {
		return err
	}
	page.Lock()
	defer page.Unlock()
	return page.Unshare(as.Frames, as.PT)
}

func alignDown(va uintptr) uintptr {
	return util.Rounddown(va, uintptr(config.PageSize))
}
