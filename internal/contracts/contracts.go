// Package contracts makes sure the renter has storage contracts before the
// load test starts uploading.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/mtlynch/sia-load-tester/internal/conditions"
	"github.com/mtlynch/sia-load-tester/internal/exitevent"
	"github.com/mtlynch/sia-load-tester/internal/logging"
	"github.com/mtlynch/sia-load-tester/internal/sia"
)

const (
	// DefaultMinContracts is how many contracts count as formation complete.
	DefaultMinContracts = 50
	DefaultPollInterval = 30 * time.Second
)

var (
	ErrZeroBalance  = errors.New("not enough balance to form renter contracts")
	ErrBuyAllowance = errors.New("failed to set allowance budget")
)

// Renter is the part of the Sia client the buyer needs.
type Renter interface {
	AllowanceBudget(ctx context.Context) (*big.Int, error)
	SetAllowanceBudget(ctx context.Context, budget *big.Int) error
	WalletBalance(ctx context.Context) (*big.Int, error)
}

// ContractCounter is the part of the Sia client the waiter polls.
type ContractCounter interface {
	ContractCount(ctx context.Context) (int, error)
}

// Buyer sets an allowance when the renter has none, which makes siad start
// forming contracts.
type Buyer struct {
	renter Renter
	logger *slog.Logger
}

func NewBuyer(renter Renter, logger *slog.Logger) *Buyer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Buyer{renter: renter, logger: logger.With("component", "contracts")}
}

// BuyContractsIfNeeded spends the whole wallet balance on an allowance if no
// allowance is set yet.
func (b *Buyer) BuyContractsIfNeeded(ctx context.Context) error {
	budget, err := b.renter.AllowanceBudget(ctx)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if budget.Sign() > 0 {
		b.logger.Info("allowance budget already set", "siacoins", sia.HastingsToSiacoins(budget))
		return nil
	}
	b.logger.Info("no allowance budget set")

	balance, err := b.renter.WalletBalance(ctx)
	if err != nil {
		return fmt.Errorf("read wallet balance: %w", err)
	}
	b.logger.Info("wallet balance", "siacoins", sia.HastingsToSiacoins(balance))
	if balance.Sign() <= 0 {
		return ErrZeroBalance
	}

	b.logger.Info("setting contract budget", "siacoins", sia.HastingsToSiacoins(balance))
	if err := b.renter.SetAllowanceBudget(ctx, balance); err != nil {
		var apiErr *sia.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			return fmt.Errorf("%w to %s: %s", ErrBuyAllowance, balance, apiErr.Message)
		}
		return fmt.Errorf("%w to %s: %w", ErrBuyAllowance, balance, err)
	}
	return nil
}

// SleepFunc pauses between polls.
type SleepFunc func(ctx context.Context, d time.Duration)

type WaiterConfig struct {
	MinContracts int
	PollInterval time.Duration
	Sleep        SleepFunc
}

// Waiter blocks until the renter has formed enough contracts.
type Waiter struct {
	counter      ContractCounter
	exit         *exitevent.Event
	minContracts int
	interval     time.Duration
	sleep        SleepFunc
	logger       *slog.Logger
}

func NewWaiter(counter ContractCounter, exit *exitevent.Event, cfg WaiterConfig, logger *slog.Logger) *Waiter {
	if cfg.MinContracts <= 0 {
		cfg.MinContracts = DefaultMinContracts
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
		counter:      counter,
		exit:         exit,
		minContracts: cfg.MinContracts,
		interval:     cfg.PollInterval,
		sleep:        cfg.Sleep,
		logger:       logger.With("component", "contracts"),
	}
}

// WaitUntilMinContractsFormed polls the contract count. It returns
// conditions.ErrWaitInterrupted if the exit event is set first.
func (w *Waiter) WaitUntilMinContractsFormed(ctx context.Context) error {
	for {
		if w.exit.IsSet() || ctx.Err() != nil {
			return conditions.ErrWaitInterrupted
		}
		n, err := w.counter.ContractCount(ctx)
		if err != nil {
			return fmt.Errorf("count contracts: %w", err)
		}
		if n >= w.minContracts {
			w.logger.Info("minimum storage contracts met", "contracts", n)
			return nil
		}
		w.logger.Info("waiting for contract formation",
			"formed", n,
			"required", w.minContracts,
			"sleep", w.interval,
		)
		w.sleep(ctx, w.interval)
	}
}

// Initiator buys contracts if needed and waits for them to form.
type Initiator struct {
	buyer  *Buyer
	waiter *Waiter
}

func NewInitiator(buyer *Buyer, waiter *Waiter) *Initiator {
	return &Initiator{buyer: buyer, waiter: waiter}
}

func (i *Initiator) EnsureMinContracts(ctx context.Context) error {
	if err := i.buyer.BuyContractsIfNeeded(ctx); err != nil {
		return err
	}
	return i.waiter.WaitUntilMinContractsFormed(ctx)
}
