// Package uploader feeds a job queue to the Sia renter, respecting the
// renter's concurrent upload limit, and waits for the renter to finish.
package uploader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mtlynch/sia-load-tester/internal/conditions"
	"github.com/mtlynch/sia-load-tester/internal/exitevent"
	"github.com/mtlynch/sia-load-tester/internal/jobs"
	"github.com/mtlynch/sia-load-tester/internal/logging"
)

// DefaultMaxUploadFailures is how many failed StartUpload calls drop a job.
const DefaultMaxUploadFailures = 3

// Phase is where an upload run is in its lifecycle.
type Phase int

const (
	PhaseRunning Phase = iota
	PhaseDraining
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Gate blocks until the renter can take another upload or has finished all
// of them. conditions.Waiter is the production implementation.
type Gate interface {
	WaitForAvailableUploadSlot(ctx context.Context) error
	WaitForAllUploadsToComplete(ctx context.Context) error
}

// Starter starts an asynchronous upload on the renter.
type Starter interface {
	StartUpload(ctx context.Context, localPath, siaPath string) error
}

type Config struct {
	MaxUploadFailures int
}

// Stats is a point-in-time view of an upload run.
type Stats struct {
	Phase      Phase
	Queued     int
	Dispatched int
	Retries    int
	Failed     int
	StartedAt  time.Time
}

// Result summarises a finished run. Failed holds jobs dropped after
// exhausting their retries.
type Result struct {
	Dispatched  int
	Failed      []jobs.Job
	Interrupted bool
}

// Uploader drives one upload run. It is not reusable.
type Uploader struct {
	queue       *jobs.Queue
	client      Starter
	gate        Gate
	exit        *exitevent.Event
	maxFailures int
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.Mutex
	stats Stats
}

func New(queue *jobs.Queue, client Starter, gate Gate, exit *exitevent.Event, cfg Config, logger *slog.Logger) *Uploader {
	if cfg.MaxUploadFailures <= 0 {
		cfg.MaxUploadFailures = DefaultMaxUploadFailures
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Uploader{
		queue:       queue,
		client:      client,
		gate:        gate,
		exit:        exit,
		maxFailures: cfg.MaxUploadFailures,
		logger:      logger.With("component", "uploader"),
		now:         time.Now,
	}
}

// Upload dispatches every queued job and then waits for the renter to finish
// uploading. It always sets the exit event before returning so a concurrent
// monitor stops too.
//
// An interrupted wait is not an error: Upload stops dispatching and returns a
// Result with Interrupted set. Other gate errors end the run and are returned.
func (u *Uploader) Upload(ctx context.Context) (Result, error) {
	defer u.exit.Set()

	u.mu.Lock()
	u.stats.StartedAt = u.now()
	u.stats.Phase = PhaseRunning
	u.stats.Queued = u.queue.Len()
	u.mu.Unlock()

	var result Result
	for !u.queue.Empty() {
		u.logger.Info("files left to upload", "remaining", u.queue.Len())
		if err := u.gate.WaitForAvailableUploadSlot(ctx); err != nil {
			return u.finish(result, err)
		}
		job, ok := u.queue.Pop()
		if !ok {
			break
		}
		ok, err := u.dispatch(ctx, job)
		if err != nil {
			u.queue.Push(job)
			return u.finish(result, err)
		}
		if ok {
			result.Dispatched++
			continue
		}
		if job.FailureCount < u.maxFailures {
			u.logger.Warn("requeueing failed upload",
				"sia_path", job.SiaPath,
				"failures", job.FailureCount,
			)
			u.queue.Push(job)
			u.update(func(s *Stats) { s.Retries++ })
			continue
		}
		u.logger.Error("giving up on upload",
			"local_path", job.LocalPath,
			"sia_path", job.SiaPath,
			"failures", job.FailureCount,
		)
		result.Failed = append(result.Failed, *job)
		u.update(func(s *Stats) { s.Failed++ })
	}

	u.update(func(s *Stats) { s.Phase = PhaseDraining })
	u.logger.Info("all uploads dispatched, waiting for renter to finish",
		"dispatched", result.Dispatched,
		"failed", len(result.Failed),
	)
	if err := u.gate.WaitForAllUploadsToComplete(ctx); err != nil {
		return u.finish(result, err)
	}
	return u.finish(result, nil)
}

// dispatch starts one upload. A failure caused by the run ending is not
// charged to the job; it is reported as ErrWaitInterrupted instead.
func (u *Uploader) dispatch(ctx context.Context, job *jobs.Job) (bool, error) {
	u.logger.Info("uploading file to sia", "local_path", job.LocalPath, "sia_path", job.SiaPath)
	if err := u.client.StartUpload(ctx, job.LocalPath, job.SiaPath); err != nil {
		if ctx.Err() != nil || u.exit.IsSet() {
			u.logger.Warn("upload abandoned, load test is ending", "sia_path", job.SiaPath, "error", err)
			return false, conditions.ErrWaitInterrupted
		}
		job.IncrementFailureCount()
		u.logger.Error("upload failed", "sia_path", job.SiaPath, "failures", job.FailureCount, "error", err)
		return false, nil
	}
	u.update(func(s *Stats) { s.Dispatched++ })
	return true, nil
}

func (u *Uploader) finish(result Result, err error) (Result, error) {
	u.update(func(s *Stats) { s.Phase = PhaseDone })
	if errors.Is(err, conditions.ErrWaitInterrupted) {
		u.logger.Warn("upload interrupted",
			"dispatched", result.Dispatched,
			"still_queued", u.queue.Len(),
		)
		result.Interrupted = true
		return result, nil
	}
	if err != nil {
		return result, err
	}
	u.logger.Info("upload complete", "dispatched", result.Dispatched, "failed", len(result.Failed))
	return result, nil
}

// Stats is safe to call while Upload runs.
func (u *Uploader) Stats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := u.stats
	s.Queued = u.queue.Len()
	return s
}

func (u *Uploader) update(fn func(*Stats)) {
	u.mu.Lock()
	fn(&u.stats)
	u.mu.Unlock()
}
