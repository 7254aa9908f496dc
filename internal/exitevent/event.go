// Package exitevent provides the run-wide cancellation signal shared by the
// upload loop, the condition waiters and the stall monitor.
package exitevent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a one-way flag. Once set it stays set. Set is safe to call from
// any number of goroutines; only the first call has an effect.
type Event struct {
	once sync.Once
	set  atomic.Bool
	done chan struct{}
}

// New returns an unset event.
func New() *Event {
	return &Event{done: make(chan struct{})}
}

// Set marks the event. It reports whether this call performed the transition.
func (e *Event) Set() bool {
	fired := false
	e.once.Do(func() {
		e.set.Store(true)
		close(e.done)
		fired = true
	})
	return fired
}

// IsSet reports whether the event has been set.
func (e *Event) IsSet() bool {
	return e.set.Load()
}

// Done returns a channel that is closed when the event is set.
func (e *Event) Done() <-chan struct{} {
	return e.done
}

// Sleep pauses for d, returning early if the event is set or ctx is done.
func (e *Event) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-e.done:
	case <-ctx.Done():
	}
}

// SetOnDone sets the event once ctx is cancelled. The returned stop function
// releases the watcher goroutine without setting the event.
func (e *Event) SetOnDone(ctx context.Context) (stop func()) {
	quit := make(chan struct{})
	var stopOnce sync.Once
	go func() {
		select {
		case <-ctx.Done():
			e.Set()
		case <-quit:
		case <-e.done:
		}
	}()
	return func() {
		stopOnce.Do(func() { close(quit) })
	}
}
