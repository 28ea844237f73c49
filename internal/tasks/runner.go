package tasks

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultTaskTimeout = 5 * time.Minute

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// Runner executes one task per source. A task's failure or panic never stops
// the others.
type Runner struct {
	workers     int
	taskTimeout time.Duration
	log         zerolog.Logger
}

func NewRunner(workers int, taskTimeout time.Duration, log zerolog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if taskTimeout <= 0 {
		taskTimeout = DefaultTaskTimeout
	}
	return &Runner{workers: workers, taskTimeout: taskTimeout, log: log}
}

// Run executes tasks and returns their results in task order. Tasks run one
// after another unless the runner has more than one worker.
func (r *Runner) Run(ctx context.Context, runID string, tasks []TaskInterface) Report {
	started := time.Now()
	results := make([]Result, len(tasks))

	if r.workers == 1 || len(tasks) < 2 {
		for i, task := range tasks {
			results[i] = r.executeTask(ctx, 0, task)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(r.workers)
		for i, task := range tasks {
			g.Go(func() error {
				results[i] = r.executeTask(ctx, i%r.workers, task)
				return nil
			})
		}
		_ = g.Wait()
	}

	return Report{RunID: runID, Results: results, Duration: time.Since(started)}
}

func (r *Runner) executeTask(ctx context.Context, workerID int, task TaskInterface) (res Result) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(ctx, r.taskTimeout)
	defer cancel()

	defer func() {
		if v := recover(); v != nil {
			r.log.Error().Str("source", task.GetSourceID()).Str("stack", string(debug.Stack())).Msg("Task panicked")
			res = Result{
				Source: task.GetSourceID(),
				Phase:  PhaseUnknown,
				Err:    &panicError{value: v},
			}
		}
		res.Duration = task.GetDuration()
		if res.Source == "" {
			res.Source = task.GetSourceID()
		}
		if res.Err != nil {
			r.log.Error().
				Err(res.Err).
				Int("worker_id", workerID).
				Str("type", string(task.GetType())).
				Str("id", task.GetID()).
				Str("source", res.Source).
				Str("phase", string(res.Phase)).
				Str("kind", ErrorKind(res.Err)).
				Msg("Task execution failed")
		}
	}()

	return task.Execute(taskCtx)
}
