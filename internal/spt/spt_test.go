package spt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmcore/internal/config"
	"vmcore/internal/errs"
	"vmcore/internal/hw"
	"vmcore/internal/memory"
	"vmcore/internal/spt"
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

func TestInsertFindRemove(t *testing.T) {
	s := spt.New()
	pt := hw.NewSimPageTable()
	alloc := swap.NewAllocator(newMemDisk(4 * config.SectorsPerPage))
	page := memory.NewPage(0x1000, pt, true, memory.NewAnon(alloc))

	require.Equal(t, errs.OK, s.Insert(page))
	assert.Equal(t, 1, s.Len())

	got, ok := s.Find(0x1000)
	require.True(t, ok)
	assert.Same(t, page, got)

	ft, err := memory.NewFrameTable(1)
	require.NoError(t, err)
	defer ft.Close()

	require.Equal(t, errs.OK, s.Remove(0x1000, ft))
	assert.Equal(t, 0, s.Len())
	_, ok = s.Find(0x1000)
	assert.False(t, ok)
}

func TestInsertDuplicateFails(t *testing.T) {
	s := spt.New()
	pt := hw.NewSimPageTable()
	alloc := swap.NewAllocator(newMemDisk(4 * config.SectorsPerPage))

	require.Equal(t, errs.OK, s.Insert(memory.NewPage(0x1000, pt, true, memory.NewAnon(alloc))))
	err := s.Insert(memory.NewPage(0x1000, pt, true, memory.NewAnon(alloc)))
	assert.Equal(t, errs.Exists, err)
}

func TestRemoveMissingFails(t *testing.T) {
	s := spt.New()
	ft, err := memory.NewFrameTable(1)
	require.NoError(t, err)
	defer ft.Close()
	assert.Equal(t, errs.NotFound, s.Remove(0xdead, ft))
}

func TestDestroyAllEmptiesTable(t *testing.T) {
	s := spt.New()
	pt := hw.NewSimPageTable()
	alloc := swap.NewAllocator(newMemDisk(8 * config.SectorsPerPage))
	for _, va := range []uintptr{0x1000, 0x2000, 0x3000} {
		require.Equal(t, errs.OK, s.Insert(memory.NewPage(va, pt, true, memory.NewAnon(alloc))))
	}
	ft, err := memory.NewFrameTable(4)
	require.NoError(t, err)
	defer ft.Close()

	s.DestroyAll(ft)
	assert.Equal(t, 0, s.Len())
}
