package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmcore/internal/config"
	"vmcore/internal/hw"
	"vmcore/internal/memory"
)

// fakeFile is an in-memory stand-in for the file layer.
type fakeFile struct {
	data []byte
}

func (f *fakeFile) ReadAt(buf []byte, off int64) (int, error) {
	n := copy(buf, f.data[off:])
	return n, nil
}

func (f *fakeFile) WriteAt(buf []byte, off int64) (int, error) {
	n := copy(f.data[off:], buf)
	return n, nil
}

func (f *fakeFile) Length() int64 { return int64(len(f.data)) }

func TestFileSwapInPartialPageZeroFills(t *testing.T) {
	file := &fakeFile{data: []byte("hello world")}
	variant := memory.NewFile(file, 0, len(file.data), false)

	kva := make([]byte, config.PageSize)
	require.True(t, variant.SwapIn(nil, kva))
	assert.Equal(t, "hello world", string(kva[:len(file.data)]))
	for _, b := range kva[len(file.data):] {
		assert.Zero(t, b)
	}
}

func TestFileSwapOutSkipsCleanPage(t *testing.T) {
	file := &fakeFile{data: make([]byte, config.PageSize)}
	variant := memory.NewFile(file, 0, config.PageSize, false)
	pt := hw.NewSimPageTable()
	page := memory.NewPage(0x1000, pt, true, variant)
	kva := make([]byte, config.PageSize)
	pt.Map(0x1000, kva, true)
	page.Resident = true

	// never touched: clean, no dirty bit
	assert.True(t, variant.SwapOut(page))
	for _, b := range file.data {
		assert.Zero(t, b, "clean page must not be written back")
	}
}

func TestFileSwapOutWritesDirtyPage(t *testing.T) {
	file := &fakeFile{data: make([]byte, config.PageSize)}
	variant := memory.NewFile(file, 0, config.PageSize, false)
	pt := hw.NewSimPageTable()
	page := memory.NewPage(0x2000, pt, true, variant)
	kva := make([]byte, config.PageSize)
	pt.Map(0x2000, kva, true)
	page.Resident = true

	got, ok := pt.Touch(0x2000, true)
	require.True(t, ok)
	copy(got, []byte("dirty"))

	assert.True(t, variant.SwapOut(page))
	assert.Equal(t, "dirty", string(file.data[:5]))
}

func TestFileVariantRejectsOversizedReadBytes(t *testing.T) {
	file := &fakeFile{data: make([]byte, config.PageSize*2)}
	assert.Panics(t, func() {
		memory.NewFile(file, 0, config.PageSize+1, false)
	})
}
