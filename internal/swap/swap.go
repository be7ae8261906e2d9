// Package swap is the swap slot allocator. It owns a bitmap over
// fixed-size sectors of a swap disk and allocates/frees contiguous
// runs sized to one page.
package swap

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"vmcore/internal/config"
	"vmcore/internal/errs"
)

// NoSlot is the sentinel meaning "never swapped".
const NoSlot = -1

// Disk is the swap-disk dependency: sector-granularity read, write,
// and size.
type Disk interface {
	ReadSector(sector int, buf []byte) error
	WriteSector(sector int, buf []byte) error
	SectorCount() int
	Close() error
}

// FileDisk backs the swap disk with a real file, using pread/pwrite
// directly instead of the stdlib's *os.File so that concurrent
// sector-level I/O never contends on a shared file offset.
type FileDisk struct {
	fd      int
	sectors int
}

// NewFileDisk creates (or truncates) a backing file sized to hold
// sectorCount sectors of config.SectorSize bytes each.
func NewFileDisk(path string, sectorCount int) (*FileDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("swap: open %s: %w", path, err)
	}
	size := int64(sectorCount) * config.SectorSize
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("swap: truncate %s: %w", path, err)
	}
	return &FileDisk{fd: fd, sectors: sectorCount}, nil
}

func (d *FileDisk) SectorCount() int { return d.sectors }

func (d *FileDisk) ReadSector(sector int, buf []byte) error {
	if len(buf) != config.SectorSize {
		return fmt.Errorf("swap: short read buffer")
	}
	off := int64(sector) * config.SectorSize
	n, err := unix.Pread(d.fd, buf, off)
	if err != nil {
		return fmt.Errorf("swap: pread sector %d: %w", sector, err)
	}
	if n != len(buf) {
		return fmt.Errorf("swap: short pread at sector %d", sector)
	}
	return nil
}

func (d *FileDisk) WriteSector(sector int, buf []byte) error {
	if len(buf) != config.SectorSize {
		return fmt.Errorf("swap: short write buffer")
	}
	off := int64(sector) * config.SectorSize
	n, err := unix.Pwrite(d.fd, buf, off)
	if err != nil {
		return fmt.Errorf("swap: pwrite sector %d: %w", sector, err)
	}
	if n != len(buf) {
		return fmt.Errorf("swap: short pwrite at sector %d", sector)
	}
	return nil
}

func (d *FileDisk) Close() error {
	return unix.Close(d.fd)
}

// Allocator_t is the mutex-protected bitmap over swap sectors. The
// mutex covers only bit selection/clearing, never the disk I/O that
// follows; swap turnover is low-frequency relative to fault dispatch,
// so a simple bitmap under one lock is enough.
type Allocator_t struct {
	mu         sync.Mutex
	disk       Disk
	used       []bool
	sectorsPer int
}

// NewAllocator wraps a Disk with slot-granularity bitmap bookkeeping.
func NewAllocator(disk Disk) *Allocator_t {
	return &Allocator_t{
		disk:       disk,
		used:       make([]bool, disk.SectorCount()),
		sectorsPer: config.SectorsPerPage,
	}
}

// Alloc scans for the first run of sectorsPer clear bits, marks them
// used, and returns the starting sector. It returns NoSlot and
// errs.NoSwap when no such run exists.
func (a *Allocator_t) Alloc() (int, errs.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	run := a.sectorsPer
	for start := 0; start+run <= len(a.used); start++ {
		free := true
		for i := 0; i < run; i++ {
			if a.used[start+i] {
				free = false
				start += i // skip past the sector we just found occupied
				break
			}
		}
		if free {
			for i := 0; i < run; i++ {
				a.used[start+i] = true
			}
			return start, errs.OK
		}
	}
	return NoSlot, errs.NoSwap
}

// Free clears the run beginning at slot. slot must have been returned
// by a prior call to Alloc.
func (a *Allocator_t) Free(slot int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i < a.sectorsPer; i++ {
		a.used[slot+i] = false
	}
}

// InUse reports the current count of allocated slots (in pages, not
// sectors), used by the stats reporter and by property tests that
// check swap-bitmap parity against the set of Anon descriptors.
func (a *Allocator_t) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for start := 0; start < len(a.used); start += a.sectorsPer {
		if a.used[start] {
			n++
		}
	}
	return n
}

// Write copies one page's worth of bytes to the run starting at slot,
// one sector at a time. The caller holds no lock.
func (a *Allocator_t) Write(slot int, page []byte) errs.Err_t {
	if len(page) != a.sectorsPer*config.SectorSize {
		return errs.FileIO
	}
	for i := 0; i < a.sectorsPer; i++ {
		chunk := page[i*config.SectorSize : (i+1)*config.SectorSize]
		if err := a.disk.WriteSector(slot+i, chunk); err != nil {
			return errs.FileIO
		}
	}
	return errs.OK
}

// Read fills page from the run starting at slot.
func (a *Allocator_t) Read(slot int, page []byte) errs.Err_t {
	if len(page) != a.sectorsPer*config.SectorSize {
		return errs.FileIO
	}
	for i := 0; i < a.sectorsPer; i++ {
		chunk := page[i*config.SectorSize : (i+1)*config.SectorSize]
		if err := a.disk.ReadSector(slot+i, chunk); err != nil {
			return errs.FileIO
		}
	}
	return errs.OK
}
