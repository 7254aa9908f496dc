// Package preconditions checks that the Sia node can run a load test.
package preconditions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mtlynch/sia-load-tester/internal/logging"
)

var (
	ErrBlockchainNotSynced = errors.New("load tester requires a Sia node with a fully synced blockchain")
	ErrWalletLocked        = errors.New("wallet is locked, load tester requires an unlocked wallet")
)

// NodeState is the part of the Sia client the checker queries.
type NodeState interface {
	IsBlockchainSynced(ctx context.Context) (bool, error)
	IsWalletLocked(ctx context.Context) (bool, error)
}

type Checker struct {
	node   NodeState
	logger *slog.Logger
}

func NewChecker(node NodeState, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Checker{node: node, logger: logger.With("component", "preconditions")}
}

// Check fails if the blockchain is not synced or the wallet is locked.
func (c *Checker) Check(ctx context.Context) error {
	c.logger.Info("checking that blockchain is synced")
	synced, err := c.node.IsBlockchainSynced(ctx)
	if err != nil {
		return fmt.Errorf("check blockchain sync: %w", err)
	}
	if !synced {
		return ErrBlockchainNotSynced
	}

	c.logger.Info("checking that wallet is unlocked")
	locked, err := c.node.IsWalletLocked(ctx)
	if err != nil {
		return fmt.Errorf("check wallet lock: %w", err)
	}
	if locked {
		return ErrWalletLocked
	}
	return nil
}
