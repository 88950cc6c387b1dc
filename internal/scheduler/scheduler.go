// Package scheduler implements C1: the clock-driven cycle ticker and the two
// periodic maintenance tasks (hourly profile persistence, daily memory
// pruning). It is a single-threaded cooperative driver — one cycle runs to
// completion before the next starts, and ticks arriving while a cycle is in
// flight are coalesced rather than queued.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/sonu96/project-athena-sub001/pkg/logger"
)

// TickHandler runs one cognitive-loop cycle. It must honor ctx cancellation
// at its suspension points.
type TickHandler func(ctx context.Context) error

// MaintenanceHandler runs one maintenance task (profile persistence, memory
// pruning).
type MaintenanceHandler func(ctx context.Context) error

// Scheduler drives the cycle tick and the cron-scheduled maintenance tasks.
type Scheduler struct {
	period  time.Duration
	handler TickHandler

	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.Mutex
	busy    bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	tickCount int64
}

// New creates a Scheduler with the given cycle period. The tick handler is
// set separately via RegisterTick so construction order matches the
// dependency-ordered wiring spec.md section 9 calls for (no component holds
// a back-reference to the loop until it is explicitly registered).
func New(period time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		period: period,
		cron:   cron.New(),
		log:    logger.Scoped(log, "scheduler"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// RegisterTick sets the handler invoked on every cycle tick. Only one tick
// handler is supported (the cognitive loop); calling it again replaces the
// previous handler.
func (s *Scheduler) RegisterTick(period time.Duration, handler TickHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.period = period
	s.handler = handler
}

// RegisterMaintenance schedules handler on the given cron expression (e.g.
// "@hourly" for profile persistence, "@daily" for memory pruning).
func (s *Scheduler) RegisterMaintenance(cronExpr, name string, handler MaintenanceHandler) error {
	_, err := s.cron.AddFunc(cronExpr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := handler(ctx); err != nil {
			s.log.Warn().Err(err).Str("task", name).Msg("maintenance task failed")
		} else {
			s.log.Debug().Str("task", name).Msg("maintenance task completed")
		}
	})
	return err
}

// Start runs the scheduler until Stop is called. It blocks the calling
// goroutine; callers typically invoke it in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	defer s.cron.Stop()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	s.log.Info().Dur("period", s.period).Msg("scheduler started")
	defer close(s.doneCh)

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopping: context cancelled")
			return
		case <-s.stopCh:
			s.log.Info().Msg("scheduler stopping: stop requested")
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// runTick coalesces ticks that arrive while a cycle is already running: if
// busy, the tick is silently dropped rather than queued (spec.md section
// 4.1: "ticks missed while a cycle is in flight are coalesced").
func (s *Scheduler) runTick(ctx context.Context) {
	s.mu.Lock()
	if s.busy || s.handler == nil {
		s.mu.Unlock()
		if s.busy {
			s.log.Debug().Msg("tick coalesced: previous cycle still in flight")
		}
		return
	}
	s.busy = true
	handler := s.handler
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.tickCount++
		s.mu.Unlock()
	}()

	if err := handler(ctx); err != nil {
		s.log.Error().Err(err).Msg("cycle handler returned error")
	}
}

// Stop signals the scheduler to halt at its next suspension point and blocks
// until the run loop has exited. In-flight cycles are allowed to finish
// writing their outcome; Stop does not interrupt a running tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

// TickCount returns the number of completed ticks, for tests/observability.
func (s *Scheduler) TickCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickCount
}
