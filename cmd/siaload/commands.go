package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mtlynch/sia-load-tester/internal/app"
	"github.com/mtlynch/sia-load-tester/internal/config"
	"github.com/mtlynch/sia-load-tester/internal/logging"
	"github.com/mtlynch/sia-load-tester/internal/termio"
	"github.com/mtlynch/sia-load-tester/internal/watch"
)

func newRootCmd(code *int) *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Load test a Sia node by uploading a dataset until it finishes or stalls",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(code),
		newSnapshotCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.NewWithOptions(appName, logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
}

func newRunCmd(code *int) *cobra.Command {
	cfg := config.Default()
	cfg.ApplyEnv(os.Getenv)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Upload every dataset file not yet on Sia and watch for stalls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg)
			summary, err := app.Run(cmd.Context(), cfg, app.Options{}, logger)
			*code = app.ExitCode(summary, err)
			if err != nil {
				logger.Error("load test failed", "error", err)
				return err
			}
			if summary.Stalled {
				logger.Error("load test ended because upload progress stalled")
			}
			return nil
		},
	}
	cfg.BindRunFlags(cmd.Flags())
	return cmd
}

func newSnapshotCmd() *cobra.Command {
	cfg := config.Default()
	cfg.ApplyEnv(os.Getenv)
	var outDir string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write one set of siad state snapshots and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outDir == "" {
				return errors.New("output directory is required")
			}
			if err := cfg.ValidateCommon(); err != nil {
				return err
			}
			logger := newLogger(cfg)
			n, err := app.Snapshot(cmd.Context(), cfg, outDir, nil, logger)
			if err != nil {
				logger.Error("snapshot failed", "error", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d snapshots to %s\n", n, outDir)
			return nil
		},
	}
	cfg.BindCommonFlags(cmd.Flags())
	cmd.Flags().StringVarP(&outDir, "output", "o", cfg.SnapshotDir, "directory to write snapshots to")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		url      string
		logLevel string
		plain    bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show a running load test's status feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(appName, logLevel)
			return watch.Run(cmd.Context(), watch.Options{
				URL: url,
				Out: cmd.OutOrStdout(),
				TTY: !plain && termio.IsTTY(termio.StdoutFile()),
			}, logger)
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:9981/ws", "status feed websocket URL")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&plain, "plain", false, "print one line per update even on a terminal")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
