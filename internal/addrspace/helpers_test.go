package addrspace_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmcore/internal/addrspace"
	"vmcore/internal/config"
	"vmcore/internal/hw"
	"vmcore/internal/memory"
	"vmcore/internal/swap"
)

type memDisk struct{ sectors [][]byte }

func newMemDisk(n int) *memDisk {
	d := &memDisk{sectors: make([][]byte, n)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, config.SectorSize)
	}
	return d
}

func (d *memDisk) ReadSector(s int, buf []byte) error  { copy(buf, d.sectors[s]); return nil }
func (d *memDisk) WriteSector(s int, buf []byte) error { copy(d.sectors[s], buf); return nil }
func (d *memDisk) SectorCount() int                    { return len(d.sectors) }
func (d *memDisk) Close() error                        { return nil }

type fakeFile struct {
	data   []byte
	closed bool
}

func (f *fakeFile) ReadAt(buf []byte, off int64) (int, error)  { return copy(buf, f.data[off:]), nil }
func (f *fakeFile) WriteAt(buf []byte, off int64) (int, error) { return copy(f.data[off:], buf), nil }
func (f *fakeFile) Length() int64                              { return int64(len(f.data)) }
func (f *fakeFile) Close() error                               { f.closed = true; return nil }

const testStackTop = uintptr(0x80000000)

func newTestAS(t *testing.T, frameCount int) *addrspace.As_t {
	t.Helper()
	pt := hw.NewSimPageTable()
	frames, err := memory.NewFrameTable(frameCount)
	require.NoError(t, err)
	t.Cleanup(func() { frames.Close() })
	alloc := swap.NewAllocator(newMemDisk(64 * config.SectorsPerPage))
	cfg := config.Default()
	cfg.StackLimit = 4 * config.PageSize
	return addrspace.New(pt, frames, alloc, cfg, testStackTop, nil)
}
