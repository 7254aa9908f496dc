package progress

import (
	"sync"
	"time"
)

const ewmaAlpha = 0.2

// RateStats is a point-in-time view of renter upload throughput. Rates are
// in bytes per second.
type RateStats struct {
	UploadedBytes int64
	Elapsed       time.Duration
	InstBps       float64
	EwmaBps       float64
	AvgBps        float64
	PeakBps       float64
	StartedAt     time.Time
	LastAt        time.Time
}

// Rates accumulates throughput from successive cumulative byte totals. A
// total lower than the previous one counts as zero progress.
type Rates struct {
	mu        sync.Mutex
	start     time.Time
	last      time.Time
	lastBytes int64
	baseBytes int64
	ewma      float64
	peak      float64
	inst      float64
}

func NewRates() *Rates {
	return &Rates{}
}

// Tick records the cumulative total observed at now.
func (r *Rates) Tick(now time.Time, totalBytes int64) RateStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.start.IsZero() {
		r.start = now
		r.last = now
		r.lastBytes = totalBytes
		r.baseBytes = totalBytes
		return r.snapshotLocked()
	}

	delta := totalBytes - r.lastBytes
	if delta < 0 {
		delta = 0
	}
	dt := now.Sub(r.last)
	if dt <= 0 {
		dt = time.Second
	}
	r.inst = float64(delta) / dt.Seconds()
	if r.ewma == 0 {
		r.ewma = r.inst
	} else {
		r.ewma = ewmaAlpha*r.inst + (1-ewmaAlpha)*r.ewma
	}
	if r.inst > r.peak {
		r.peak = r.inst
	}
	r.last = now
	r.lastBytes = totalBytes
	return r.snapshotLocked()
}

func (r *Rates) Snapshot() RateStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Rates) snapshotLocked() RateStats {
	stats := RateStats{
		UploadedBytes: r.lastBytes,
		InstBps:       r.inst,
		EwmaBps:       r.ewma,
		PeakBps:       r.peak,
		StartedAt:     r.start,
		LastAt:        r.last,
	}
	if r.start.IsZero() {
		return stats
	}
	stats.Elapsed = r.last.Sub(r.start)
	if secs := stats.Elapsed.Seconds(); secs > 0 {
		gained := r.lastBytes - r.baseBytes
		if gained < 0 {
			gained = 0
		}
		stats.AvgBps = float64(gained) / secs
	}
	return stats
}
