package contracts

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlynch/sia-load-tester/internal/conditions"
	"github.com/mtlynch/sia-load-tester/internal/exitevent"
	"github.com/mtlynch/sia-load-tester/internal/sia"
)

type fakeRenter struct {
	budget  int64
	balance int64
	setErr  error
	setCall []*big.Int
}

func (f *fakeRenter) AllowanceBudget(context.Context) (*big.Int, error) {
	return big.NewInt(f.budget), nil
}

func (f *fakeRenter) SetAllowanceBudget(_ context.Context, b *big.Int) error {
	f.setCall = append(f.setCall, b)
	return f.setErr
}

func (f *fakeRenter) WalletBalance(context.Context) (*big.Int, error) {
	return big.NewInt(f.balance), nil
}

type countSequence struct {
	counts []int
	calls  int
}

func (c *countSequence) ContractCount(context.Context) (int, error) {
	n := c.counts[c.calls]
	if c.calls < len(c.counts)-1 {
		c.calls++
	}
	return n, nil
}

func TestBuyerDoesNotBuyIfAllowanceIsSet(t *testing.T) {
	renter := &fakeRenter{budget: 2, balance: 5}

	require.NoError(t, NewBuyer(renter, nil).BuyContractsIfNeeded(context.Background()))
	assert.Empty(t, renter.setCall)
}

func TestBuyerBuysWithWalletBalance(t *testing.T) {
	renter := &fakeRenter{budget: 0, balance: 5}

	require.NoError(t, NewBuyer(renter, nil).BuyContractsIfNeeded(context.Background()))
	require.Len(t, renter.setCall, 1)
	assert.Equal(t, int64(5), renter.setCall[0].Int64())
}

func TestBuyerZeroBalance(t *testing.T) {
	renter := &fakeRenter{budget: 0, balance: 0}

	err := NewBuyer(renter, nil).BuyContractsIfNeeded(context.Background())
	assert.ErrorIs(t, err, ErrZeroBalance)
	assert.Empty(t, renter.setCall)
}

func TestBuyerReportsDaemonMessage(t *testing.T) {
	renter := &fakeRenter{balance: 5, setErr: &sia.APIError{StatusCode: 400, Message: "allowance too small"}}

	err := NewBuyer(renter, nil).BuyContractsIfNeeded(context.Background())
	assert.ErrorIs(t, err, ErrBuyAllowance)
	assert.Contains(t, err.Error(), "allowance too small")
}

func TestWaiterDoesNotWaitWhenContractsFormed(t *testing.T) {
	sleeps := 0
	w := NewWaiter(&countSequence{counts: []int{50}}, exitevent.New(), WaiterConfig{
		Sleep: func(context.Context, time.Duration) { sleeps++ },
	}, nil)

	require.NoError(t, w.WaitUntilMinContractsFormed(context.Background()))
	assert.Zero(t, sleeps)
}

func TestWaiterSleepsUntilContractsFormed(t *testing.T) {
	var sleeps []time.Duration
	w := NewWaiter(&countSequence{counts: []int{1, 5, 25, 50}}, exitevent.New(), WaiterConfig{
		Sleep: func(_ context.Context, d time.Duration) { sleeps = append(sleeps, d) },
	}, nil)

	require.NoError(t, w.WaitUntilMinContractsFormed(context.Background()))
	assert.Equal(t, []time.Duration{DefaultPollInterval, DefaultPollInterval, DefaultPollInterval}, sleeps)
}

func TestWaiterInterruptedByExitEvent(t *testing.T) {
	exit := exitevent.New()
	w := NewWaiter(&countSequence{counts: []int{1}}, exit, WaiterConfig{
		Sleep: func(context.Context, time.Duration) { exit.Set() },
	}, nil)

	err := w.WaitUntilMinContractsFormed(context.Background())
	assert.ErrorIs(t, err, conditions.ErrWaitInterrupted)
}

func TestInitiatorStopsWhenBuyFails(t *testing.T) {
	counter := &countSequence{counts: []int{50}}
	i := NewInitiator(
		NewBuyer(&fakeRenter{}, nil),
		NewWaiter(counter, exitevent.New(), WaiterConfig{}, nil),
	)

	err := i.EnsureMinContracts(context.Background())
	assert.ErrorIs(t, err, ErrZeroBalance)
	assert.Zero(t, counter.calls)
}

func TestInitiatorBuysThenWaits(t *testing.T) {
	renter := &fakeRenter{balance: 7}
	i := NewInitiator(
		NewBuyer(renter, nil),
		NewWaiter(&countSequence{counts: []int{50}}, exitevent.New(), WaiterConfig{}, nil),
	)

	require.NoError(t, i.EnsureMinContracts(context.Background()))
	assert.Len(t, renter.setCall, 1)
}
