// Package conditions blocks until the renter reaches a given upload state,
// polling because siad has no way to push notifications.
package conditions

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mtlynch/sia-load-tester/internal/exitevent"
	"github.com/mtlynch/sia-load-tester/internal/logging"
	"github.com/mtlynch/sia-load-tester/internal/sia"
)

// ErrWaitInterrupted is returned when the exit event is set while waiting.
var ErrWaitInterrupted = errors.New("sia condition wait interrupted")

const (
	DefaultMaxConcurrentUploads = 5
	DefaultPollInterval         = 15 * time.Second
)

// FileLister is the part of the Sia client the waiter polls.
type FileLister interface {
	Files(ctx context.Context) ([]sia.File, error)
}

// SleepFunc pauses between polls.
type SleepFunc func(ctx context.Context, d time.Duration)

type Config struct {
	MaxConcurrentUploads int
	PollInterval         time.Duration
	// Sleep defaults to the exit event's interruptible sleep.
	Sleep SleepFunc
}

// Waiter waits for upload slots and for the renter to finish uploading.
type Waiter struct {
	files    FileLister
	exit     *exitevent.Event
	maxSlots int
	interval time.Duration
	sleep    SleepFunc
	logger   *slog.Logger

	inFlight atomic.Int64
}

func NewWaiter(files FileLister, exit *exitevent.Event, cfg Config, logger *slog.Logger) *Waiter {
	if cfg.MaxConcurrentUploads <= 0 {
		cfg.MaxConcurrentUploads = DefaultMaxConcurrentUploads
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = exit.Sleep
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Waiter{
		files:    files,
		exit:     exit,
		maxSlots: cfg.MaxConcurrentUploads,
		interval: cfg.PollInterval,
		sleep:    cfg.Sleep,
		logger:   logger.With("component", "conditions"),
	}
}

// WaitForAvailableUploadSlot returns once fewer than MaxConcurrentUploads
// files are still uploading.
func (w *Waiter) WaitForAvailableUploadSlot(ctx context.Context) error {
	return w.waitUntil(ctx, func(n int) bool { return n < w.maxSlots }, func(n int) {
		w.logger.Info("too many uploads in progress, sleeping",
			"in_progress", n,
			"max", w.maxSlots,
			"sleep", w.interval,
		)
	})
}

// WaitForAllUploadsToComplete returns once no file is still uploading.
func (w *Waiter) WaitForAllUploadsToComplete(ctx context.Context) error {
	return w.waitUntil(ctx, func(n int) bool { return n == 0 }, func(n int) {
		w.logger.Info("waiting for remaining uploads to complete",
			"in_progress", n,
			"sleep", w.interval,
		)
	})
}

// InFlight is the in-progress count seen by the most recent poll.
func (w *Waiter) InFlight() int {
	return int(w.inFlight.Load())
}

func (w *Waiter) waitUntil(ctx context.Context, done func(int) bool, onWait func(int)) error {
	for {
		n, err := w.countUploadsInProgress(ctx)
		if err != nil {
			return err
		}
		if done(n) {
			return nil
		}
		onWait(n)
		w.sleep(ctx, w.interval)
	}
}

func (w *Waiter) countUploadsInProgress(ctx context.Context) (int, error) {
	if w.exit.IsSet() || ctx.Err() != nil {
		w.logger.Warn("exit event is set, stopping wait")
		return 0, ErrWaitInterrupted
	}
	files, err := w.files.Files(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range files {
		if f.InProgress() {
			n++
		}
	}
	w.inFlight.Store(int64(n))
	return n, nil
}
