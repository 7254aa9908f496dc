// Package progress measures how much data the Sia renter uploads over a
// trailing time window and stops the load test when that falls too low.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mtlynch/sia-load-tester/internal/logging"
	"github.com/mtlynch/sia-load-tester/internal/sia"
)

// DefaultWindow is the trailing interval throughput is measured over.
const DefaultWindow = 60 * time.Minute

// FileLister is the part of the Sia client the tracker polls.
type FileLister interface {
	Files(ctx context.Context) ([]sia.File, error)
}

// Sample is the renter's cumulative uploaded byte count at a point in time.
type Sample struct {
	Timestamp     time.Time
	UploadedBytes int64
}

// Window describes the most recent measurement.
type Window struct {
	Delta    int64
	Complete bool
	Span     time.Duration
	Mbps     float64
}

type TrackerConfig struct {
	Window time.Duration
	Now    func() time.Time
}

// Tracker keeps a history of samples covering the current window plus the
// sample immediately before it.
type Tracker struct {
	files  FileLister
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
	rates  *Rates

	mu      sync.Mutex
	history []Sample
	last    Window
}

func NewTracker(files FileLister, cfg TrackerConfig, logger *slog.Logger) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Tracker{
		files:  files,
		window: cfg.Window,
		now:    cfg.Now,
		logger: logger.With("component", "tracker"),
		rates:  NewRates(),
	}
}

// BytesUploadedInWindow records a new sample and returns how many bytes the
// renter uploaded since the start of the window. complete is false until the
// history spans a full window; the delta is then the progress since tracking
// began. The delta can be negative if files were deleted from the renter.
func (t *Tracker) BytesUploadedInWindow(ctx context.Context) (delta int64, complete bool, err error) {
	total, err := t.countUploadedBytes(ctx)
	if err != nil {
		return 0, false, err
	}
	now := t.now()
	t.rates.Tick(now, total)

	t.mu.Lock()
	t.history = append(t.history, Sample{Timestamp: now, UploadedBytes: total})
	t.prune()
	oldest, newest := t.history[0], t.history[len(t.history)-1]
	span := newest.Timestamp.Sub(oldest.Timestamp)
	delta = newest.UploadedBytes - oldest.UploadedBytes
	complete = span >= t.window
	w := Window{Delta: delta, Complete: complete, Span: span, Mbps: mbps(delta, span)}
	t.last = w
	t.mu.Unlock()

	if complete {
		t.logger.Info("bytes uploaded in time window",
			"bytes", delta,
			"human", humanBytes(delta),
			"window", t.window,
			"mbps", w.Mbps,
		)
	} else {
		t.logger.Info("bytes uploaded since tracking began",
			"bytes", delta,
			"human", humanBytes(delta),
			"span", span,
			"mbps", w.Mbps,
		)
	}
	return delta, complete, nil
}

// prune drops every sample older than the newest sample at least one window
// back from the newest. Callers hold t.mu.
func (t *Tracker) prune() {
	newest := t.history[len(t.history)-1].Timestamp
	for i := len(t.history) - 1; i > 0; i-- {
		if newest.Sub(t.history[i].Timestamp) >= t.window {
			t.history = append(t.history[:0:0], t.history[i:]...)
			return
		}
	}
}

func (t *Tracker) countUploadedBytes(ctx context.Context) (int64, error) {
	files, err := t.files.Files(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += int64(f.UploadedBytes)
	}
	return total, nil
}

// Last returns the measurement from the most recent call.
func (t *Tracker) Last() Window {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// History returns a copy of the retained samples, oldest first.
func (t *Tracker) History() []Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sample(nil), t.history...)
}

func (t *Tracker) Rates() RateStats {
	return t.rates.Snapshot()
}

func mbps(bytes int64, span time.Duration) float64 {
	secs := span.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(bytes) * 8 / 1e6 / secs
}

func humanBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}
