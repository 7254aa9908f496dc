package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mtlynch/sia-load-tester/internal/config"
	"github.com/mtlynch/sia-load-tester/internal/logging"
	"github.com/mtlynch/sia-load-tester/internal/sia"
	"github.com/mtlynch/sia-load-tester/internal/snapshot"
)

var ErrNothingSnapshotted = errors.New("no snapshot could be written")

// Snapshot writes one set of state files for the node in cfg to dir.
func Snapshot(ctx context.Context, cfg config.Config, dir string, httpClient *http.Client, logger *slog.Logger) (int, error) {
	if err := cfg.ValidateCommon(); err != nil {
		return 0, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	client := sia.NewClient(sia.NewHTTPAPI(cfg.SiaAddress, cfg.SiaPassword, httpClient), logger)
	n, err := snapshot.New(dir, client, snapshot.Config{}, logger).Snapshot(ctx)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, ErrNothingSnapshotted
	}
	return n, nil
}
