package addrspace

import (
	"vmcore/internal/config"
	"vmcore/internal/errs"
	"vmcore/internal/memory"
	"vmcore/internal/mmaptbl"
	"vmcore/internal/util"
)

// Mmap installs a file-backed mapping of length bytes starting at the
// page-aligned addr, reading the file from the page-aligned offset.
// shared selects MAP_SHARED semantics (one frame shared by every fork
// descendant, never split on write, dirty content written back to the
// file on eviction, munmap, or teardown)
// versus the private, copy-on-write default. Every page is registered
// lazily; nothing is read from file until the first fault. The call
// is all-or-nothing: a failure partway in removes anything already
// inserted.
func (as *As_t) Mmap(file mmaptbl.FileCloser, addr uintptr, length, offset int64, writable, shared bool) errs.Err_t {
	if addr == 0 || addr%config.PageSize != 0 || length <= 0 ||
		offset < 0 || offset%config.PageSize != 0 ||
		file == nil || file.Length() == 0 {
		return errs.BadArg
	}

	pages := int((length + config.PageSize - 1) / config.PageSize)
	end := addr + uintptr(pages)*config.PageSize
	if end < addr || end > config.KernBase {
		return errs.BadArg
	}

	for i := 0; i < pages; i++ {
		va := addr + uintptr(i*config.PageSize)
		if _, ok := as.SPT.Find(va); ok {
			return errs.Overlap
		}
	}

	inserted := make([]uintptr, 0, pages)
	for i := 0; i < pages; i++ {
		va := addr + uintptr(i*config.PageSize)
		pageOff := int64(i * config.PageSize)
		readBytes := util.Min(int(length-pageOff), config.PageSize)

		aux := &fileLoadAux{file: file, offset: offset + pageOff, readBytes: readBytes, shared: shared}
		err := as.RegisterLazy(va, writable, fileInit, aux, fileRearm)
		if err != errs.OK {
			as.rollbackMmap(inserted)
			return err
		}
		inserted = append(inserted, va)
	}

	as.MT.Add(addr, pages, file)
	return errs.OK
}

func (as *As_t) rollbackMmap(vas []uintptr) {
	for _, va := range vas {
		as.SPT.Remove(va, as.Frames)
	}
}

type fileLoadAux struct {
	file      mmaptbl.FileCloser
	offset    int64
	readBytes int
	shared    bool
}

func fileInit(p *memory.Page_t, kva []byte, auxAny any) bool {
	aux := auxAny.(*fileLoadAux)
	if aux.readBytes > 0 {
		n, err := aux.file.ReadAt(kva[:aux.readBytes], aux.offset)
		if err != nil || n != aux.readBytes {
			return false
		}
	}
	for i := aux.readBytes; i < len(kva); i++ {
		kva[i] = 0
	}
	return true
}

func fileRearm(auxAny any) memory.Variant {
	aux := auxAny.(*fileLoadAux)
	return memory.NewFile(aux.file, aux.offset, aux.readBytes, aux.shared)
}

// Munmap tears down the mapping that Mmap established at addr: every
// page is removed from the SPT (writing back dirty content through
// FileVariant.Destroy as it goes), then the region's file handle is
// closed. addr must be exactly the start address passed to Mmap.
func (as *As_t) Munmap(addr uintptr) errs.Err_t {
	region, ok := as.MT.Remove(addr)
	if !ok {
		return errs.NotFound
	}
	for i := 0; i < region.Pages; i++ {
		va := addr + uintptr(i*config.PageSize)
		as.SPT.Remove(va, as.Frames)
	}
	region.File.Close()
	return errs.OK
}
