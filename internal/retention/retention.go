// Package retention purges old messages and stale references on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Task removes records older than cutoff and returns how many it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder receives purge counts.
type Recorder interface {
	Purged(kind string, n int64)
}

// Runner executes retention tasks on a cron schedule.
type Runner struct {
	schedule string
	period   time.Duration
	tasks    []Task
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
}

// NewRunner creates a runner. Records older than period are purged at every tick of schedule.
func NewRunner(schedule string, period time.Duration, tasks []Task, recorder Recorder, logger *slog.Logger) (*Runner, error) {
	if !gronx.IsValid(schedule) {
		return nil, fmt.Errorf("invalid retention schedule %q", schedule)
	}
	if period <= 0 {
		return nil, fmt.Errorf("retention period must be positive")
	}
	return &Runner{
		schedule: schedule,
		period:   period,
		tasks:    tasks,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Start runs the schedule loop until ctx is done.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("retention enabled", "schedule", r.schedule, "period", r.period, "tasks", len(r.tasks))

	for {
		next, err := r.NextRun()
		if err != nil {
			r.logger.Error("retention next tick failed", "schedule", r.schedule, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := next.Sub(r.now())
		if wait < time.Second {
			wait = time.Second
		}

		select {
		case <-time.After(wait):
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("retention run failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// NextRun returns the next scheduled run after now.
func (r *Runner) NextRun() (time.Time, error) {
	return gronx.NextTickAfter(r.schedule, r.now(), false)
}

// RunOnce runs every task once. A run already in progress makes this a no-op.
func (r *Runner) RunOnce(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	cutoff := r.now().Add(-r.period)
	r.logger.Info("retention run start", "cutoff", cutoff)

	var errs []error
	for _, task := range r.tasks {
		n, err := task.Run(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", task.Name, err))
		}
		if n > 0 && r.recorder != nil {
			r.recorder.Purged(task.Name, n)
		}
		r.logger.Info("retention task done", "task", task.Name, "purged", n, "error", err)
	}

	return errors.Join(errs...)
}
