// Package sia wraps the Sia daemon's renter, wallet and consensus endpoints
// with the retry behaviour the load tester relies on.
package sia

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/mtlynch/sia-load-tester/internal/logging"
)

// Client is safe for concurrent use if the underlying API is.
type Client struct {
	api        API
	logger     *slog.Logger
	sleep      SleepFunc
	maxRetries int
}

// Option customises a Client.
type Option func(*Client)

// WithSleep replaces the backoff sleep, mostly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// NewClient returns a Client over api. A nil logger discards output.
func NewClient(api API, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	c := &Client{
		api:        api,
		logger:     logger,
		sleep:      ContextSleep,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Files lists every file the renter knows about.
func (c *Client) Files(ctx context.Context) ([]File, error) {
	return retry(ctx, c, "renter files", c.api.RenterFiles)
}

// StartUpload asks the renter to begin uploading localPath to siaPath. A nil
// result means the daemon accepted the upload; an *APIError means it refused.
func (c *Client) StartUpload(ctx context.Context, localPath, siaPath string) error {
	_, err := retry(ctx, c, "renter upload", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.api.RenterUpload(ctx, siaPath, localPath)
	})
	if err != nil {
		c.logger.Warn("upload rejected", "local_path", localPath, "sia_path", siaPath, "error", err)
		return err
	}
	c.logger.Debug("upload started", "local_path", localPath, "sia_path", siaPath)
	return nil
}

// AllowanceBudget returns the renter allowance funds in hastings.
func (c *Client) AllowanceBudget(ctx context.Context) (*big.Int, error) {
	info, err := retry(ctx, c, "renter", c.api.Renter)
	if err != nil {
		return nil, err
	}
	return ParseHastings(info.Settings.Allowance.Funds)
}

// SetAllowanceBudget sets the renter allowance to budget hastings with the
// default host count and period.
func (c *Client) SetAllowanceBudget(ctx context.Context, budget *big.Int) error {
	if budget == nil || budget.Sign() <= 0 {
		return fmt.Errorf("allowance budget must be positive")
	}
	allowance := Allowance{
		Funds:       budget.String(),
		Hosts:       DefaultAllowanceHosts,
		Period:      DefaultAllowancePeriod,
		RenewWindow: DefaultAllowanceRenewWindow,
	}
	_, err := retry(ctx, c, "set allowance", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.api.SetRenterAllowance(ctx, allowance)
	})
	if err != nil {
		return err
	}
	c.logger.Info("allowance set", "siacoins", HastingsToSiacoins(budget), "hosts", allowance.Hosts)
	return nil
}

// ContractCount returns the number of active renter contracts.
func (c *Client) ContractCount(ctx context.Context) (int, error) {
	return retry(ctx, c, "renter contracts", c.api.RenterContractCount)
}

// WalletBalance returns the confirmed siacoin balance in hastings.
func (c *Client) WalletBalance(ctx context.Context) (*big.Int, error) {
	info, err := retry(ctx, c, "wallet", c.api.Wallet)
	if err != nil {
		return nil, err
	}
	return ParseHastings(info.ConfirmedSiacoinBalance)
}

func (c *Client) IsWalletLocked(ctx context.Context) (bool, error) {
	info, err := retry(ctx, c, "wallet", c.api.Wallet)
	if err != nil {
		return false, err
	}
	return !info.Unlocked, nil
}

func (c *Client) IsBlockchainSynced(ctx context.Context) (bool, error) {
	info, err := retry(ctx, c, "consensus", c.api.Consensus)
	if err != nil {
		return false, err
	}
	return info.Synced, nil
}

// RawState fetches a daemon endpoint without decoding it.
func (c *Client) RawState(ctx context.Context, path string) (json.RawMessage, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return retry(ctx, c, "get "+path, func(ctx context.Context) (json.RawMessage, error) {
		return c.api.Get(ctx, path)
	})
}

func (c *Client) RenterState(ctx context.Context) (json.RawMessage, error) {
	return c.RawState(ctx, "/renter")
}

func (c *Client) Contracts(ctx context.Context) (json.RawMessage, error) {
	return c.RawState(ctx, "/renter/contracts")
}

func (c *Client) Prices(ctx context.Context) (json.RawMessage, error) {
	return c.RawState(ctx, "/renter/prices")
}

func (c *Client) FilesRaw(ctx context.Context) (json.RawMessage, error) {
	return c.RawState(ctx, "/renter/files")
}

func (c *Client) Wallet(ctx context.Context) (json.RawMessage, error) {
	return c.RawState(ctx, "/wallet")
}
