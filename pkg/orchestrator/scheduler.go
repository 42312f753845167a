// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"time"
)

const schedulerTick = 60 * time.Second

// SkipLogger receives notice when a scheduled trigger's tick is skipped
// because a previous dispatch for that trigger has not finished yet. It is
// satisfied structurally by internal/logging.Logger, which Scheduler cannot
// import directly without creating an import cycle (logging already depends
// on this package for its orchestrator-facing log methods).
type SkipLogger interface {
	Warn(msg string, args ...any)
}

type noopSkipLogger struct{}

func (noopSkipLogger) Warn(string, ...any) {}

// Scheduler drives an Orchestrator's ScheduledTriggers on a fixed tick. A
// fired trigger dispatches RunChecks against every connection named in
// Config.MonitoredConnections. If a trigger's previous dispatch is still
// running when its next tick comes due, that tick is skipped and logged
// rather than fired again on top of the one in flight.
type Scheduler struct {
	orch   *Orchestrator
	Logger SkipLogger
	stop   chan struct{}
	done   chan struct{}
}

// NewScheduler builds a Scheduler bound to orch. Call Start to begin
// ticking and Stop to shut it down.
func NewScheduler(orch *Orchestrator) *Scheduler {
	return &Scheduler{orch: orch, Logger: noopSkipLogger{}, stop: make(chan struct{}), done: make(chan struct{})}
}

// Start runs the scheduler loop until Stop is called or ctx is cancelled.
// It blocks the calling goroutine; callers typically invoke it with `go`.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop signals the scheduler loop to exit and waits for it to do so.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	for _, trig := range s.orch.Triggers.ScheduledTriggers() {
		if !trig.ShouldFire(now) {
			continue
		}
		trig.Fire(now)

		if !trig.TryStart() {
			s.logger().Warn("skipping scheduled trigger dispatch: previous run still in flight", "cron", trig.CronExpression)
			continue
		}
		s.dispatch(ctx, trig)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, trig *ScheduledTrigger) {
	defer trig.Finish()

	for _, connID := range s.orch.Config.MonitoredConnections {
		sel := Selection{CheckIDs: trig.CheckIDs}
		if len(trig.CheckIDs) == 0 && len(trig.Categories) > 0 {
			sel.Category = trig.Categories[0]
		}
		_, _ = s.orch.RunChecks(ctx, connID, sel, TriggerScheduled, trig.CronExpression, false)
	}
}

func (s *Scheduler) logger() SkipLogger {
	if s.Logger == nil {
		return noopSkipLogger{}
	}
	return s.Logger
}
