// Package scheduler drives the periodic crawl loop. The next fire time is
// anchored to when the previous cycle fired, not when it finished, so slow
// cycles do not drift the schedule. Cycles never overlap; manual triggers
// that land mid-cycle coalesce onto the in-flight run.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

// Runner executes one crawl cycle.
type Runner interface {
	RunCycle(ctx context.Context) ticket.CycleResult
}

// Scheduler owns the periodic loop around a Runner.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	clock    ticket.Clock
	logger   *zap.Logger
	trigger  chan struct{}

	mu      sync.Mutex
	running bool
	last    *ticket.CycleResult
	waiters []chan ticket.CycleResult
}

// New builds a scheduler firing every interval.
func New(runner Runner, interval time.Duration, clock ticket.Clock, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		clock:    clock,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Run executes the loop until ctx is done. The first cycle fires
// immediately.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.failWaiters()
			return
		case <-timer.C:
		case <-s.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		firedAt := s.clock.Now()
		s.runCycle(ctx)

		delay := firedAt.Add(s.interval).Sub(s.clock.Now())
		if delay < 0 {
			s.logger.Warn("cycle overran the interval, firing immediately",
				zap.Duration("interval", s.interval),
				zap.Duration("overrun", -delay))
			delay = 0
		}
		timer.Reset(delay)
	}
}

// TriggerNow requests an immediate cycle and blocks for its result. A
// trigger during an in-flight cycle attaches to that cycle instead of
// queueing another.
func (s *Scheduler) TriggerNow(ctx context.Context) (ticket.CycleResult, error) {
	waiter := make(chan ticket.CycleResult, 1)

	s.mu.Lock()
	s.waiters = append(s.waiters, waiter)
	inFlight := s.running
	s.mu.Unlock()

	if !inFlight {
		select {
		case s.trigger <- struct{}{}:
		default:
		}
	}

	select {
	case result, ok := <-waiter:
		if !ok {
			return ticket.CycleResult{}, context.Canceled
		}
		return result, nil
	case <-ctx.Done():
		return ticket.CycleResult{}, ctx.Err()
	}
}

// LastResult returns the most recent cycle summary, or false when no
// cycle has completed yet.
func (s *Scheduler) LastResult() (ticket.CycleResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return ticket.CycleResult{}, false
	}
	return *s.last, true
}

func (s *Scheduler) runCycle(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	result := s.runner.RunCycle(ctx)

	s.mu.Lock()
	s.running = false
	s.last = &result
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		w <- result
	}
}

func (s *Scheduler) failWaiters() {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}
