package conditions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlynch/sia-load-tester/internal/exitevent"
	"github.com/mtlynch/sia-load-tester/internal/sia"
)

type fakeRenter struct {
	files []sia.File
	err   error
	calls int
}

func (f *fakeRenter) Files(context.Context) ([]sia.File, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]sia.File, len(f.files))
	copy(out, f.files)
	return out, nil
}

// bumpProgress simulates every unfinished file gaining one percent.
func (f *fakeRenter) bumpProgress() {
	for i := range f.files {
		if f.files[i].UploadProgress < 100 {
			f.files[i].UploadProgress++
		}
	}
}

func filesAt(progress ...float64) []sia.File {
	out := make([]sia.File, len(progress))
	for i, p := range progress {
		out[i] = sia.File{SiaPath: "f", UploadProgress: p}
	}
	return out
}

type harness struct {
	renter *fakeRenter
	exit   *exitevent.Event
	sleeps []time.Duration
	onWake func()
	waiter *Waiter
}

func newHarness(files []sia.File) *harness {
	h := &harness{renter: &fakeRenter{files: files}, exit: exitevent.New()}
	h.waiter = NewWaiter(h.renter, h.exit, Config{
		Sleep: func(_ context.Context, d time.Duration) {
			h.sleeps = append(h.sleeps, d)
			if h.onWake != nil {
				h.onWake()
			}
		},
	}, nil)
	return h
}

func TestWaitForSlotReturnsImmediatelyWithNoUploads(t *testing.T) {
	h := newHarness(nil)

	require.NoError(t, h.waiter.WaitForAvailableUploadSlot(context.Background()))
	assert.Empty(t, h.sleeps)
}

func TestWaitForSlotReturnsImmediatelyBelowCeiling(t *testing.T) {
	h := newHarness(filesAt(10, 20, 30, 40, 100, 100))

	require.NoError(t, h.waiter.WaitForAvailableUploadSlot(context.Background()))
	assert.Empty(t, h.sleeps)
	assert.Equal(t, 4, h.waiter.InFlight())
}

func TestWaitForSlotWaitsUntilFewerThanFiveInProgress(t *testing.T) {
	h := newHarness(filesAt(90, 91, 92, 93, 94))
	h.onWake = h.renter.bumpProgress

	require.NoError(t, h.waiter.WaitForAvailableUploadSlot(context.Background()))
	assert.Len(t, h.sleeps, 100-94)
	for _, d := range h.sleeps {
		assert.Equal(t, DefaultPollInterval, d)
	}
}

func TestWaitForSlotInterruptedBeforeCall(t *testing.T) {
	h := newHarness(nil)
	h.exit.Set()

	err := h.waiter.WaitForAvailableUploadSlot(context.Background())
	assert.ErrorIs(t, err, ErrWaitInterrupted)
	assert.Zero(t, h.renter.calls)
}

func TestWaitForSlotInterruptedAfterFirstSleep(t *testing.T) {
	h := newHarness(filesAt(90, 91, 92, 93, 94))
	h.onWake = func() { h.exit.Set() }

	err := h.waiter.WaitForAvailableUploadSlot(context.Background())
	assert.ErrorIs(t, err, ErrWaitInterrupted)
	assert.Len(t, h.sleeps, 1)
}

func TestWaitForDrainReturnsImmediatelyWithNoUploads(t *testing.T) {
	h := newHarness(filesAt(100, 100))

	require.NoError(t, h.waiter.WaitForAllUploadsToComplete(context.Background()))
	assert.Empty(t, h.sleeps)
}

func TestWaitForDrainWaitsForAllUploadsToReach100(t *testing.T) {
	h := newHarness(filesAt(90, 91, 92, 93, 94))
	h.onWake = h.renter.bumpProgress

	require.NoError(t, h.waiter.WaitForAllUploadsToComplete(context.Background()))
	assert.Len(t, h.sleeps, 100-90)
	assert.Zero(t, h.waiter.InFlight())
}

func TestWaitForDrainInterruptedBeforeCall(t *testing.T) {
	h := newHarness(filesAt(90, 91, 92, 93, 94))
	h.exit.Set()

	err := h.waiter.WaitForAllUploadsToComplete(context.Background())
	assert.ErrorIs(t, err, ErrWaitInterrupted)
}

func TestWaitForDrainInterruptedAfterFirstSleep(t *testing.T) {
	h := newHarness(filesAt(90, 91, 92, 93, 94))
	h.onWake = func() { h.exit.Set() }

	err := h.waiter.WaitForAllUploadsToComplete(context.Background())
	assert.ErrorIs(t, err, ErrWaitInterrupted)
	assert.Len(t, h.sleeps, 1)
}

func TestWaitInterruptedByCancelledContext(t *testing.T) {
	h := newHarness(filesAt(50))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.waiter.WaitForAllUploadsToComplete(ctx)
	assert.ErrorIs(t, err, ErrWaitInterrupted)
}

func TestWaitPropagatesRemoteErrors(t *testing.T) {
	h := newHarness(nil)
	h.renter.err = errors.Join(sia.ErrRemoteUnavailable, errors.New("dial tcp: refused"))

	err := h.waiter.WaitForAvailableUploadSlot(context.Background())
	assert.ErrorIs(t, err, sia.ErrRemoteUnavailable)
	assert.NotErrorIs(t, err, ErrWaitInterrupted)
}

func TestCustomCeiling(t *testing.T) {
	renter := &fakeRenter{files: filesAt(10, 20)}
	var sleeps int
	w := NewWaiter(renter, exitevent.New(), Config{
		MaxConcurrentUploads: 2,
		PollInterval:         time.Second,
		Sleep: func(context.Context, time.Duration) {
			sleeps++
			renter.files[0].UploadProgress = 100
		},
	}, nil)

	require.NoError(t, w.WaitForAvailableUploadSlot(context.Background()))
	assert.Equal(t, 1, sleeps)
}
