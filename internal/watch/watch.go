package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mtlynch/sia-load-tester/internal/logging"
	"github.com/mtlynch/sia-load-tester/internal/status"
)

// phaseDone is the phase a run reports once it has finished uploading.
const phaseDone = "done"

type Options struct {
	URL string
	Out io.Writer
	// TTY selects the full-screen view. Otherwise each update is one line.
	TTY bool
}

// Run follows the feed at opts.URL until the run finishes, the feed closes,
// or ctx ends.
func Run(ctx context.Context, opts Options, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("component", "watch")
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := Dial(ctx, opts.URL, logger)
	if err != nil {
		return fmt.Errorf("dial status feed: %w", err)
	}
	defer conn.Close()

	if opts.TTY {
		err = runTea(ctx, cancel, conn, opts, logger)
	} else {
		err = runLines(ctx, conn, opts.Out, logger)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runLines(ctx context.Context, conn *Conn, out io.Writer, logger *slog.Logger) error {
	return conn.ReadLoop(ctx, func(env status.Envelope) bool {
		snap, ok := decodeSnapshot(env, logger)
		if !ok {
			return true
		}
		fmt.Fprintln(out, formatLine(snap))
		return snap.Phase != phaseDone
	})
}

func runTea(ctx context.Context, cancel func(), conn *Conn, opts Options, logger *slog.Logger) error {
	program := tea.NewProgram(newModel(opts.URL, cancel), tea.WithOutput(opts.Out), tea.WithAltScreen())

	readErr := make(chan error, 1)
	go func() {
		readErr <- conn.ReadLoop(ctx, func(env status.Envelope) bool {
			snap, ok := decodeSnapshot(env, logger)
			if !ok {
				return true
			}
			program.Send(snapshotMsg{snap: snap, at: time.Now()})
			return snap.Phase != phaseDone
		})
		program.Send(stopMsg{})
	}()

	final, err := program.Run()
	cancel()
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}
	if m, ok := final.(model); ok && m.view.Received {
		fmt.Fprintln(opts.Out, formatLine(m.view.Snapshot))
	}
	return <-readErr
}

func decodeSnapshot(env status.Envelope, logger *slog.Logger) (status.Snapshot, bool) {
	if env.Type != status.TypeStatus && env.Type != status.TypeHello {
		return status.Snapshot{}, false
	}
	var snap status.Snapshot
	if err := env.DecodePayload(&snap); err != nil {
		logger.Warn("invalid status payload", "error", err)
		return status.Snapshot{}, false
	}
	return snap, true
}
