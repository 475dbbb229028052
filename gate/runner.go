package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// TaskReport is the outcome of one task in a batch run.
type TaskReport struct {
	TaskID     string
	Err        error
	BudgetUsed int
	Duration   time.Duration
}

// Runner executes a batch of tasks against the router with a bounded worker
// pool. Tasks are isolated: one task's failure or panic never aborts the
// batch, and each task's budget is released when the task finishes.
type Runner struct {
	router  *Router
	workers int
}

// NewRunner creates a batch runner over the router.
func NewRunner(router *Router, workers int) *Runner {
	if workers <= 0 {
		workers = 4
	}
	return &Runner{router: router, workers: workers}
}

// Run executes work for every task ID with at most the configured number of
// workers in flight. It returns one report per task, in input order, and an
// error only when the batch context was cancelled.
func (r *Runner) Run(ctx context.Context, taskIDs []string, work func(ctx context.Context, taskID string) error) ([]TaskReport, error) {
	reports := make([]TaskReport, len(taskIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	slog.Info("Batch run started", "tasks", len(taskIDs), "workers", r.workers)

	for i, taskID := range taskIDs {
		i, taskID := i, taskID
		g.Go(func() error {
			start := time.Now()
			err := r.runTask(gctx, taskID, work)

			report := TaskReport{
				TaskID:   taskID,
				Err:      err,
				Duration: time.Since(start),
			}
			if budget, ok := r.router.budgets.Peek(taskID); ok {
				report.BudgetUsed = budget.Used()
			}
			reports[i] = report

			r.router.ReleaseBudget(taskID)

			if err != nil {
				slog.Warn("Task failed", "task", taskID, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return reports, err
	}
	slog.Info("Batch run finished", "tasks", len(taskIDs))
	return reports, ctx.Err()
}

// runTask invokes the work function with panic isolation.
func (r *Runner) runTask(ctx context.Context, taskID string, work func(ctx context.Context, taskID string) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task %s panicked: %v", taskID, rec)
			slog.Error("Task panicked", "task", taskID, "panic", rec)
		}
	}()
	return work(ctx, taskID)
}
