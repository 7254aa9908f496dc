// Package app wires the load tester's components into runnable commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mtlynch/sia-load-tester/internal/conditions"
	"github.com/mtlynch/sia-load-tester/internal/config"
	"github.com/mtlynch/sia-load-tester/internal/contracts"
	"github.com/mtlynch/sia-load-tester/internal/dataset"
	"github.com/mtlynch/sia-load-tester/internal/exitevent"
	"github.com/mtlynch/sia-load-tester/internal/jobs"
	"github.com/mtlynch/sia-load-tester/internal/logging"
	"github.com/mtlynch/sia-load-tester/internal/preconditions"
	"github.com/mtlynch/sia-load-tester/internal/progress"
	"github.com/mtlynch/sia-load-tester/internal/sia"
	"github.com/mtlynch/sia-load-tester/internal/snapshot"
	"github.com/mtlynch/sia-load-tester/internal/status"
	"github.com/mtlynch/sia-load-tester/internal/uploader"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFatal   = 1
	ExitStalled = 2
)

// Summary describes a finished run.
type Summary struct {
	RunID   string
	Files   int
	Queued  int
	Result  uploader.Result
	Stalled bool
}

// ExitCode maps a run's outcome to a process exit status.
func ExitCode(s Summary, err error) int {
	switch {
	case err != nil:
		return ExitFatal
	case s.Stalled:
		return ExitStalled
	default:
		return ExitOK
	}
}

// Options holds what Run needs beyond the config. Zero values use
// production defaults.
type Options struct {
	RunID      string
	HTTPClient *http.Client
}

// Run executes one load test: it checks the node, provisions contracts,
// queues every dataset file not already on Sia, and uploads them while the
// stall monitor watches progress. Cancelling ctx unwinds the run in order.
func Run(ctx context.Context, cfg config.Config, opts Options, logger *slog.Logger) (Summary, error) {
	if err := cfg.Validate(); err != nil {
		return Summary{}, err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("run_id", opts.RunID)
	summary := Summary{RunID: opts.RunID}

	exit := exitevent.New()
	stop := exit.SetOnDone(ctx)
	defer stop()

	client := sia.NewClient(sia.NewHTTPAPI(cfg.SiaAddress, cfg.SiaPassword, opts.HTTPClient), logger,
		sia.WithSleep(sia.StopSleep(exit.Done())))

	if err := preconditions.NewChecker(client, logger).Check(ctx); err != nil {
		return summary, err
	}

	if cfg.SkipProvisioning {
		logger.Info("skipping contract provisioning")
	} else {
		initiator := contracts.NewInitiator(
			contracts.NewBuyer(client, logger),
			contracts.NewWaiter(client, exit, contracts.WaiterConfig{
				MinContracts: cfg.MinContracts,
				PollInterval: cfg.ContractPollInterval,
			}, logger),
		)
		if err := initiator.EnsureMinContracts(ctx); err != nil {
			if errors.Is(err, conditions.ErrWaitInterrupted) {
				logger.Warn("interrupted while waiting for contracts")
				summary.Result.Interrupted = true
				return summary, nil
			}
			return summary, err
		}
	}

	ds, err := dataset.Load(cfg.DatasetRoot)
	if err != nil {
		return summary, err
	}
	summary.Files = len(ds.Paths)
	logger.Info("loaded dataset",
		"root", ds.RootDir,
		"files", len(ds.Paths),
		"bytes", ds.TotalBytes,
		"copies", cfg.DatasetCopies,
	)
	all, err := jobs.FromDataset(ds.RootDir, ds.Paths, cfg.DatasetCopies)
	if err != nil {
		return summary, err
	}
	queue, err := jobs.BuildQueue(ctx, all, client, logger)
	if err != nil {
		return summary, fmt.Errorf("build upload queue: %w", err)
	}
	summary.Queued = queue.Len()

	gate := conditions.NewWaiter(client, exit, conditions.Config{
		MaxConcurrentUploads: cfg.MaxConcurrentUploads,
		PollInterval:         cfg.UploadPollInterval,
	}, logger)
	up := uploader.New(queue, client, gate, exit, uploader.Config{
		MaxUploadFailures: cfg.MaxUploadFailures,
	}, logger)
	tracker := progress.NewTracker(client, progress.TrackerConfig{Window: cfg.ProgressWindow}, logger)
	monitor := progress.NewMonitor(tracker, exit, progress.MonitorConfig{
		MinProgressBytes: int64(cfg.MinProgressBytes),
		Interval:         cfg.MonitorInterval,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Monitor(gctx)
	})
	if cfg.SnapshotDir != "" {
		snapper := snapshot.New(cfg.SnapshotDir, client, snapshot.Config{Interval: cfg.SnapshotInterval}, logger)
		g.Go(func() error {
			return snapper.Run(gctx, exit)
		})
	}
	if cfg.StatusAddress != "" {
		srv := status.NewServer(statusProvider(opts.RunID, up, gate, tracker, monitor), status.Config{
			Address:      cfg.StatusAddress,
			PushInterval: cfg.StatusPushInterval,
		}, logger)
		g.Go(func() error {
			return srv.Run(gctx, exit)
		})
	}
	g.Go(func() error {
		res, err := up.Upload(gctx)
		summary.Result = res
		return err
	})

	err = g.Wait()
	summary.Stalled = monitor.Tripped()
	if err != nil {
		return summary, err
	}
	logger.Info("load test finished",
		"dispatched", summary.Result.Dispatched,
		"failed", len(summary.Result.Failed),
		"interrupted", summary.Result.Interrupted,
		"stalled", summary.Stalled,
	)
	return summary, nil
}

func statusProvider(runID string, up *uploader.Uploader, gate *conditions.Waiter, tracker *progress.Tracker, monitor *progress.Monitor) status.Provider {
	return func() status.Snapshot {
		stats := up.Stats()
		window := tracker.Last()
		rates := tracker.Rates()
		return status.Snapshot{
			RunID:          runID,
			At:             time.Now(),
			StartedAt:      stats.StartedAt,
			Phase:          stats.Phase.String(),
			Queued:         stats.Queued,
			Dispatched:     stats.Dispatched,
			Retries:        stats.Retries,
			Failed:         stats.Failed,
			InFlight:       gate.InFlight(),
			WindowDelta:    window.Delta,
			WindowComplete: window.Complete,
			WindowMbps:     window.Mbps,
			UploadedBytes:  rates.UploadedBytes,
			EwmaBps:        rates.EwmaBps,
			AvgBps:         rates.AvgBps,
			PeakBps:        rates.PeakBps,
			Stalled:        monitor.Tripped(),
		}
	}
}
