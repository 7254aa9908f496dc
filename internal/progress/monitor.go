package progress

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mtlynch/sia-load-tester/internal/exitevent"
	"github.com/mtlynch/sia-load-tester/internal/logging"
)

const (
	// DefaultMinProgressBytes is the least the renter must upload per window.
	DefaultMinProgressBytes int64 = 1 << 30
	DefaultCheckInterval          = 60 * time.Second
)

// WindowSource reports progress over the trailing window.
type WindowSource interface {
	BytesUploadedInWindow(ctx context.Context) (delta int64, complete bool, err error)
}

// SleepFunc pauses between checks.
type SleepFunc func(ctx context.Context, d time.Duration)

type MonitorConfig struct {
	MinProgressBytes int64
	Interval         time.Duration
	// Sleep defaults to the exit event's interruptible sleep.
	Sleep SleepFunc
}

// Monitor watches upload progress and sets the exit event if it stalls.
type Monitor struct {
	tracker  WindowSource
	exit     *exitevent.Event
	minBytes int64
	interval time.Duration
	sleep    SleepFunc
	logger   *slog.Logger

	tripped atomic.Bool
}

func NewMonitor(tracker WindowSource, exit *exitevent.Event, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if cfg.MinProgressBytes <= 0 {
		cfg.MinProgressBytes = DefaultMinProgressBytes
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCheckInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = exit.Sleep
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Monitor{
		tracker:  tracker,
		exit:     exit,
		minBytes: cfg.MinProgressBytes,
		interval: cfg.Interval,
		sleep:    cfg.Sleep,
		logger:   logger.With("component", "monitor"),
	}
}

// Monitor checks progress every interval until the exit event is set or ctx
// ends. If a full window shows less progress than the minimum it sets the
// exit event and returns immediately. It never returns an error; the error
// return fits errgroup.
func (m *Monitor) Monitor(ctx context.Context) error {
	m.logger.Info("monitoring upload progress",
		"min_bytes", m.minBytes,
		"interval", m.interval,
	)
	for !m.exit.IsSet() && ctx.Err() == nil {
		if m.progressBelowMinimum(ctx) {
			// The run may have finished while the window was being measured.
			if !m.exit.Set() {
				m.logger.Info("load test already ended, ignoring low progress")
				return nil
			}
			m.tripped.Store(true)
			m.logger.Error("signaling for load test to end")
			return nil
		}
		m.sleep(ctx, m.interval)
	}
	m.logger.Info("exit event is set, terminating progress monitoring")
	return nil
}

// Tripped reports whether the monitor detected a stall.
func (m *Monitor) Tripped() bool {
	return m.tripped.Load()
}

func (m *Monitor) progressBelowMinimum(ctx context.Context) bool {
	delta, complete, err := m.tracker.BytesUploadedInWindow(ctx)
	if err != nil {
		m.logger.Warn("could not measure upload progress", "error", err)
		return false
	}
	if !complete {
		return false
	}
	if delta < 0 {
		m.logger.Warn("uploaded bytes decreased over window, files may have been deleted",
			"bytes", delta,
		)
	}
	if delta < m.minBytes {
		m.logger.Error("upload progress has slowed below minimum",
			"bytes", delta,
			"human", humanBytes(delta),
			"min_bytes", m.minBytes,
		)
		return true
	}
	return false
}
