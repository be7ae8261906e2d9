// Package stats is the periodic diagnostics reporter: frame and swap
// occupancy, per-address-space page and mapping counts. It runs
// strictly off the fault-handling hot path: every value it reads
// comes from one short critical section (FrameTable_t.FreeCount,
// Allocator_t.InUse, Spt_t.Len, Mt_t.Len each take and release a
// single mutex; FreeCount's is the frame-table mutex), so a reporting
// tick never holds a lock across the whole report.
package stats

import (
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"vmcore/internal/addrspace"
	"vmcore/internal/memory"
	"vmcore/internal/swap"
)

// Reporter periodically logs physical memory pressure across every
// address space it is told to track.
type Reporter struct {
	frames *memory.FrameTable_t
	salloc *swap.Allocator_t
	log    *logrus.Entry

	cron *cron.Cron

	mu      sync.Mutex
	tracked map[string]*addrspace.As_t
}

// NewReporter builds a reporter over the shared frame table and swap
// allocator. log may be nil, in which case the standard logger is used.
func NewReporter(frames *memory.FrameTable_t, salloc *swap.Allocator_t, log *logrus.Logger) *Reporter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reporter{
		frames:  frames,
		salloc:  salloc,
		log:     log.WithField("component", "stats"),
		cron:    cron.New(),
		tracked: make(map[string]*addrspace.As_t),
	}
}

// Track adds an address space to the next report.
func (r *Reporter) Track(as *addrspace.As_t) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracked[as.ID.String()] = as
}

// Untrack removes an address space, typically right after Teardown.
func (r *Reporter) Untrack(as *addrspace.As_t) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tracked, as.ID.String())
}

// Start registers the reporting job at the given cron spec (e.g.
// "@every 30s") and starts the scheduler.
func (r *Reporter) Start(spec string) error {
	_, err := r.cron.AddFunc(spec, r.report)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for an in-flight report to finish.
func (r *Reporter) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Reporter) report() {
	total := r.frames.Size()
	free := r.frames.FreeCount()
	swapUsed := r.salloc.InUse()

	r.mu.Lock()
	spaces := make([]*addrspace.As_t, 0, len(r.tracked))
	for _, as := range r.tracked {
		spaces = append(spaces, as)
	}
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"frames_total": total,
		"frames_free":  free,
		"frames_used":  total - free,
		"swap_pages":   swapUsed,
		"spaces":       len(spaces),
	}).Info("memory pressure")

	for _, as := range spaces {
		r.log.WithFields(logrus.Fields{
			"as":      as.ID.String(),
			"spt_len": as.SPT.Len(),
			"mt_len":  as.MT.Len(),
		}).Debug("address space occupancy")
	}
}
