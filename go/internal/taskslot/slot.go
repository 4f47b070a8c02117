// Package taskslot provides a single-occupancy task runner: at most one task
// is pending or running at a time, and submitting a new one cancels whatever
// occupies the slot. Useful for trailing-edge debounce of lookups where only
// the latest request matters.
package taskslot

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Task is the unit of work a slot runs. The context is cancelled when the
// task is superseded or the slot is cancelled; tasks must honor it.
type Task func(ctx context.Context)

// Slot holds at most one pending-or-running task.
type Slot struct {
	clock clockwork.Clock
	delay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a slot whose tasks run after delay, giving rapid successive
// submissions a window to supersede each other before any work starts.
func New(clock clockwork.Clock, delay time.Duration) *Slot {
	return &Slot{clock: clock, delay: delay}
}

// Submit occupies the slot with task, cancelling the previous occupant. The
// task runs after the slot's delay unless superseded or cancelled first.
func (s *Slot) Submit(task Task) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()

		timer := s.clock.NewTimer(s.delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
		}
		task(ctx)
	}()
}

// Cancel empties the slot, cancelling any pending or running task.
func (s *Slot) Cancel() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

// Wait blocks until all previously submitted tasks have returned. Intended
// for shutdown and tests.
func (s *Slot) Wait() {
	s.wg.Wait()
}
