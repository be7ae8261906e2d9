package stats_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmcore/internal/addrspace"
	"vmcore/internal/config"
	"vmcore/internal/hw"
	"vmcore/internal/memory"
	"vmcore/internal/stats"
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

func TestTrackUntrack(t *testing.T) {
	frames, err := memory.NewFrameTable(4)
	require.NoError(t, err)
	defer frames.Close()
	alloc := swap.NewAllocator(newMemDisk(16 * config.SectorsPerPage))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel) // keep test output quiet
	r := stats.NewReporter(frames, alloc, log)

	as := addrspace.New(hw.NewSimPageTable(), frames, alloc, config.Default(), 0x80000000, log)
	r.Track(as)
	r.Untrack(as)

	// report() is unexported; this test only exercises the tracking
	// bookkeeping that Start's cron job would otherwise drive.
	assert.NotNil(t, r)
}

func TestStartStop(t *testing.T) {
	frames, err := memory.NewFrameTable(2)
	require.NoError(t, err)
	defer frames.Close()
	alloc := swap.NewAllocator(newMemDisk(8 * config.SectorsPerPage))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	r := stats.NewReporter(frames, alloc, log)

	require.NoError(t, r.Start("@every 1h"))
	r.Stop()
}
