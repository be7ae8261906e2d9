package addrspace_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmcore/internal/config"
	"vmcore/internal/errs"
)

func TestMmapFaultInThenMunmapWritesBack(t *testing.T) {
	as := newTestAS(t, 4)
	file := &fakeFile{data: []byte("on-disk content")}

	require.Equal(t, errs.OK, as.Mmap(file, 0x40000, int64(len(file.data)), 0, true, false))

	require.Equal(t, errs.OK, as.HandleFault(0x40000, true, false, true, 0))
	kva, ok := as.PT.Touch(0x40000, true) // a user-mode store: sets the dirty bit
	require.True(t, ok)
	copy(kva, []byte("MUTATED content"))

	require.Equal(t, errs.OK, as.Munmap(0x40000))
	assert.True(t, file.closed)
	assert.Equal(t, "MUTATED content", string(file.data[:15]))

	_, ok = as.SPT.Find(0x40000)
	assert.False(t, ok)
}

func TestMmapNonZeroOffsetReadsRightRegion(t *testing.T) {
	as := newTestAS(t, 4)
	data := make([]byte, 2*config.PageSize)
	copy(data[config.PageSize:], []byte("second page"))
	file := &fakeFile{data: data}

	require.Equal(t, errs.OK, as.Mmap(file, 0x40000, config.PageSize, config.PageSize, true, false))
	require.Equal(t, errs.OK, as.HandleFault(0x40000, true, false, true, 0))

	kva, ok := as.PT.Lookup(0x40000)
	require.True(t, ok)
	assert.Equal(t, "second page", string(kva[:11]))
}

func TestMmapRejectsOverlap(t *testing.T) {
	as := newTestAS(t, 4)
	require.Equal(t, errs.OK, as.RegisterAnon(0x50000, true))

	file := &fakeFile{data: make([]byte, config.PageSize)}
	err := as.Mmap(file, 0x50000, config.PageSize, 0, true, false)
	assert.Equal(t, errs.Overlap, err)
}

func TestMmapRejectsBadArgs(t *testing.T) {
	as := newTestAS(t, 4)
	file := &fakeFile{data: make([]byte, config.PageSize)}

	assert.Equal(t, errs.BadArg, as.Mmap(file, 0, config.PageSize, 0, true, false))
	assert.Equal(t, errs.BadArg, as.Mmap(file, 0x1001, config.PageSize, 0, true, false))
	assert.Equal(t, errs.BadArg, as.Mmap(file, 0x60000, 0, 0, true, false))
	assert.Equal(t, errs.BadArg, as.Mmap(file, 0x60000, config.PageSize, 100, true, false))
	assert.Equal(t, errs.BadArg, as.Mmap(nil, 0x60000, config.PageSize, 0, true, false))
	assert.Equal(t, errs.BadArg, as.Mmap(&fakeFile{}, 0x60000, config.PageSize, 0, true, false))
	assert.Equal(t, errs.BadArg, as.Mmap(file, config.KernBase-config.PageSize, 2*config.PageSize, 0, true, false))
}

func TestMunmapUnknownAddressFails(t *testing.T) {
	as := newTestAS(t, 4)
	assert.Equal(t, errs.NotFound, as.Munmap(0x70000))
}
