// Package jobs drives recurring background work (TUF metadata refresh,
// and any future periodic registry maintenance) off a parsed cron
// expression rather than a bare time.Ticker, the way the teacher's
// internal/cron package parses schedules for its own recurring jobs.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/env-architect/architect/internal/observability"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Runner drives a single recurring job: it runs Run once immediately,
// then again every time Schedule's next occurrence elapses, until ctx is
// canceled.
type Runner struct {
	Name     string
	Schedule cron.Schedule
	Logger   *observability.Logger
	Run      func(ctx context.Context) error
}

// NewRunner parses expr (standard cron syntax, or a "@every 1h" /
// "@hourly" descriptor) and returns a Runner for it.
func NewRunner(name, expr string, logger *observability.Logger, run func(ctx context.Context) error) (*Runner, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return &Runner{Name: name, Schedule: sched, Logger: logger, Run: run}, nil
}

// EveryExpr formats a time.Duration as a robfig/cron "@every" descriptor.
func EveryExpr(d time.Duration) string {
	return fmt.Sprintf("@every %s", d.String())
}

// Start runs the job immediately, then blocks scheduling subsequent runs
// until ctx is canceled. Call it in its own goroutine.
func (r *Runner) Start(ctx context.Context) {
	r.runOnce(ctx)

	now := time.Now()
	next := r.Schedule.Next(now)
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fireTime := <-timer.C:
			r.runOnce(ctx)
			next = r.Schedule.Next(fireTime)
			timer.Reset(time.Until(next))
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	if err := r.Run(ctx); err != nil {
		r.Logger.Error(ctx, "scheduled job failed", "job", r.Name, "error", err)
		return
	}
	r.Logger.Info(ctx, "scheduled job completed", "job", r.Name)
}
