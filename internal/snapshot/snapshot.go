// Package snapshot dumps Sia node state to timestamped JSON files so a load
// test can be analysed after the fact.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mtlynch/sia-load-tester/internal/exitevent"
	"github.com/mtlynch/sia-load-tester/internal/logging"
)

const (
	DefaultInterval      = 10 * time.Minute
	timestampLayout      = "2006-01-02T150405Z"
	finalSnapshotTimeout = 30 * time.Second
)

// Source fetches raw node state. sia.Client implements it.
type Source interface {
	RenterState(ctx context.Context) (json.RawMessage, error)
	Contracts(ctx context.Context) (json.RawMessage, error)
	Prices(ctx context.Context) (json.RawMessage, error)
	FilesRaw(ctx context.Context) (json.RawMessage, error)
	Wallet(ctx context.Context) (json.RawMessage, error)
}

type Config struct {
	Interval time.Duration
	Now      func() time.Time
	// Sleep defaults to the exit event's interruptible sleep.
	Sleep func(ctx context.Context, d time.Duration)
}

type Snapshotter struct {
	dir      string
	src      Source
	interval time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
	logger   *slog.Logger
}

func New(dir string, src Source, cfg Config, logger *slog.Logger) *Snapshotter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Snapshotter{
		dir:      dir,
		src:      src,
		interval: cfg.Interval,
		now:      cfg.Now,
		sleep:    cfg.Sleep,
		logger:   logger.With("component", "snapshot"),
	}
}

type snapshotFunc struct {
	name  string
	fetch func(context.Context) (json.RawMessage, error)
}

// Snapshot writes one file per state endpoint. A failing endpoint is logged
// and skipped. It returns how many files were written, and an error only if
// the output directory cannot be created.
func (s *Snapshotter) Snapshot(ctx context.Context) (int, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create snapshot dir: %w", err)
	}
	ts := s.now().UTC()
	fns := []snapshotFunc{
		{"renter", s.src.RenterState},
		{"contracts", s.src.Contracts},
		{"prices", s.src.Prices},
		{"files", s.src.FilesRaw},
		{"wallet", s.src.Wallet},
	}
	written := 0
	for _, fn := range fns {
		if err := s.snapshotOne(ctx, fn, ts); err != nil {
			s.logger.Error("snapshot failed", "name", fn.name, "error", err)
			continue
		}
		written++
	}
	return written, nil
}

func (s *Snapshotter) snapshotOne(ctx context.Context, fn snapshotFunc, ts time.Time) error {
	raw, err := fn.fetch(ctx)
	if err != nil {
		return err
	}
	data, err := canonicalJSON(raw)
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%s.json", ts.Format(timestampLayout), fn.name))
	s.logger.Info("snapshotting state", "name", fn.name, "path", path)
	return os.WriteFile(path, data, 0o644)
}

// Run snapshots immediately and then every interval until exit is set or ctx
// ends, finishing with one last snapshot.
func (s *Snapshotter) Run(ctx context.Context, exit *exitevent.Event) error {
	sleep := s.sleep
	if sleep == nil {
		sleep = exit.Sleep
	}
	stopped := func() bool { return exit.IsSet() || ctx.Err() != nil }

	if _, err := s.Snapshot(ctx); err != nil {
		return err
	}
	for !stopped() {
		sleep(ctx, s.interval)
		if stopped() {
			break
		}
		if _, err := s.Snapshot(ctx); err != nil {
			return err
		}
	}

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSnapshotTimeout)
	defer cancel()
	_, err := s.Snapshot(finalCtx)
	return err
}

// canonicalJSON re-encodes raw with sorted keys and four space indentation.
func canonicalJSON(raw json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
