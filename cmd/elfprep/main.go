// Command elfprep is a demo ELF loader: it walks a binary's PT_LOAD
// program headers and registers each page-aligned segment as a lazy
// mapping through the VM core's RegisterLazy entry point, the same
// role a kernel's exec path plays, then reports how many pages were
// staged.
package main

import (
	"debug/elf"
	"fmt"
	"log"
	"os"

	"vmcore/internal/addrspace"
	"vmcore/internal/config"
	"vmcore/internal/hw"
	"vmcore/internal/memory"
	"vmcore/internal/swap"
)

// usage prints a small help message and terminates the program.
func usage(me string) {
	fmt.Printf("%s <filename>\n\nStage an ELF executable's segments into a VM core address space\n", me)
	os.Exit(1)
}

// chkELF validates the ELF file header before trusting the program
// header table.
func chkELF(eh *elf.FileHeader) {
	if eh.Data != elf.ELFDATA2LSB {
		log.Fatal("not little-endian?")
	}
	if eh.Type != elf.ET_EXEC {
		log.Fatal("not an executable elf")
	}
	if eh.Machine != elf.EM_X86_64 {
		log.Fatal("not a 64 bit elf")
	}
}

func main() {
	if len(os.Args) != 2 {
		usage(os.Args[0])
	}
	fn := os.Args[1]

	f, err := os.Open(fn)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		log.Fatal(err)
	}
	chkELF(&ef.FileHeader)

	cfg := config.Default()
	pt := hw.NewSimPageTable()
	frames, err := memory.NewFrameTable(cfg.FrameCount)
	if err != nil {
		log.Fatal(err)
	}
	defer frames.Close()

	swapPath, err := os.CreateTemp("", "elfprep-swap-*")
	if err != nil {
		log.Fatal(err)
	}
	swapPath.Close()
	defer os.Remove(swapPath.Name())
	disk, err := swap.NewFileDisk(swapPath.Name(), cfg.SwapSectors)
	if err != nil {
		log.Fatal(err)
	}
	defer disk.Close()
	salloc := swap.NewAllocator(disk)

	const stackTop = uintptr(0x7fffffffe000)
	as := addrspace.New(pt, frames, salloc, cfg, stackTop, nil)

	staged := 0
	skipped := 0
	file := &elfFile{f: f}
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		n, skip := registerSegment(as, file, prog)
		staged += n
		skipped += skip
	}

	fmt.Printf("entry point:     0x%x\n", ef.Entry)
	fmt.Printf("pages staged:    %d\n", staged)
	fmt.Printf("pages skipped:   %d (sub-page-aligned segments; not modeled)\n", skipped)
	fmt.Printf("frames in pool:  %d\n", frames.Size())
}

// registerSegment stages one PT_LOAD segment's pages. A segment whose
// virtual address is not page-aligned is skipped: sub-page relocation
// of the first page's content is an ELF-loader detail this demo does
// not reimplement, not a VM core concern.
func registerSegment(as *addrspace.As_t, file *elfFile, prog *elf.Prog) (staged, skipped int) {
	if uintptr(prog.Vaddr)%config.PageSize != 0 {
		return 0, int((prog.Memsz + config.PageSize - 1) / config.PageSize)
	}
	writable := prog.Flags&elf.PF_W != 0
	npages := int((prog.Memsz + config.PageSize - 1) / config.PageSize)

	for i := 0; i < npages; i++ {
		va := uintptr(prog.Vaddr) + uintptr(i*config.PageSize)
		pageOff := int64(i * config.PageSize)

		var readBytes int
		if pageOff < int64(prog.Filesz) {
			remaining := int64(prog.Filesz) - pageOff
			readBytes = int(remaining)
			if readBytes > config.PageSize {
				readBytes = config.PageSize
			}
		}

		aux := &segAux{file: file, offset: int64(prog.Off) + pageOff, readBytes: readBytes}
		if err := as.RegisterLazy(va, writable, segInit, aux, segRearm); !err.Ok() {
			log.Printf("skip va 0x%x: %v", va, err)
			continue
		}
		staged++
	}
	return staged, 0
}

type elfFile struct {
	f *os.File
}

func (e *elfFile) ReadAt(buf []byte, off int64) (int, error)  { return e.f.ReadAt(buf, off) }
func (e *elfFile) WriteAt(buf []byte, off int64) (int, error) { return e.f.WriteAt(buf, off) }
func (e *elfFile) Length() int64 {
	fi, err := e.f.Stat()
	if err != nil {
		return 0
	}
	return fi.Size()
}

type segAux struct {
	file      *elfFile
	offset    int64
	readBytes int
}

func segInit(p *memory.Page_t, kva []byte, auxAny any) bool {
	aux := auxAny.(*segAux)
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

func segRearm(auxAny any) memory.Variant {
	aux := auxAny.(*segAux)
	return memory.NewFile(aux.file, aux.offset, aux.readBytes, false)
}
