package schedule

import (
	"context"
	"time"

	"burrow/internal/async"
	"burrow/internal/logging"
	"burrow/internal/store"
	"burrow/pkg/types"
)

const defaultPollInterval = 15 * time.Second

// Firer executes one due task's prompt and returns the result text.
type Firer interface {
	FireTask(ctx context.Context, task *types.ScheduledTask) (string, error)
}

// FirerFunc adapts a function to the Firer interface.
type FirerFunc func(ctx context.Context, task *types.ScheduledTask) (string, error)

func (f FirerFunc) FireTask(ctx context.Context, task *types.ScheduledTask) (string, error) {
	return f(ctx, task)
}

// Runner polls the task store and fires due tasks. After each firing it
// records lastRun/lastResult and advances nextRun; once tasks move to
// completed.
type Runner struct {
	tasks    store.TaskStore
	firer    Firer
	interval time.Duration
	logger   logging.Logger
	stop     chan struct{}
}

// NewRunner builds a runner polling at the given interval (<=0 uses the
// default).
func NewRunner(tasks store.TaskStore, firer Firer, interval time.Duration, logger logging.Logger) *Runner {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Runner{
		tasks:    tasks,
		firer:    firer,
		interval: interval,
		logger:   logging.OrNop(logger),
		stop:     make(chan struct{}),
	}
}

// Start launches the polling loop.
func (r *Runner) Start(ctx context.Context) {
	async.Go(r.logger, "schedule.runner", func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.Tick(ctx, time.Now())
			}
		}
	})
}

// Stop halts the polling loop.
func (r *Runner) Stop() {
	close(r.stop)
}

// Tick fires every task due at the given instant. Exposed so tests and the
// CLI can drive the runner without waiting for the ticker.
func (r *Runner) Tick(ctx context.Context, now time.Time) {
	due, err := r.tasks.Due(ctx, now)
	if err != nil {
		r.logger.Error("listing due tasks: %v", err)
		return
	}
	for _, task := range due {
		r.fire(ctx, task, now)
	}
}

func (r *Runner) fire(ctx context.Context, task *types.ScheduledTask, now time.Time) {
	r.logger.Info("firing task %s for agent %s", task.ID, task.AgentID)

	result, err := r.firer.FireTask(ctx, task)
	if err != nil {
		r.logger.Error("task %s failed: %v", task.ID, err)
		result = "error: " + err.Error()
	}

	ran := now
	task.LastRun = &ran
	task.LastResult = result

	if task.ScheduleKind == types.ScheduleOnce {
		task.Status = types.TaskCompleted
		task.NextRun = nil
	} else {
		next, nerr := NextRun(task.ScheduleKind, task.ScheduleValue, now)
		if nerr != nil {
			// Schedule became invalid (should not happen past ingestion);
			// park the task instead of firing it forever.
			r.logger.Error("task %s schedule invalid, pausing: %v", task.ID, nerr)
			task.Status = types.TaskPaused
			task.NextRun = nil
		} else {
			task.NextRun = next
		}
	}

	if err := r.tasks.Update(ctx, task); err != nil {
		r.logger.Error("persisting task %s after firing: %v", task.ID, err)
	}
}
