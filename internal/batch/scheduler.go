// Package batch drives one extraction run over a queue snapshot with a
// bounded number of in-flight operations.
package batch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ledgerscan/ledgerscan/internal/task"
)

// DefaultConcurrency is the in-flight task limit when none is configured.
const DefaultConcurrency = 3

// ProcessFunc performs the full per-task work: extraction (with retries),
// validation and, for statements, reconciliation. It returns the result to
// attach on success or the error to record on the task.
type ProcessFunc func(ctx context.Context, t *task.Task) (*task.Result, error)

// Summary reports the outcome of a single run.
type Summary struct {
	Started   int
	Completed int
	Failed    int
	Skipped   int // snapshot tasks never started because of cancellation
	Cancelled bool
}

// Scheduler processes a queue snapshot with at most K tasks in flight.
// Cancellation is cooperative: it is checked before starting a task and never
// aborts one already running; in-flight results are always applied.
type Scheduler struct {
	queue       *task.Queue
	concurrency int
	process     ProcessFunc
	log         zerolog.Logger
}

// NewScheduler creates a scheduler. A non-positive concurrency falls back to
// DefaultConcurrency.
func NewScheduler(queue *task.Queue, concurrency int, process ProcessFunc, log zerolog.Logger) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		queue:       queue,
		concurrency: concurrency,
		process:     process,
		log:         log,
	}
}

type outcome struct {
	id     string
	result *task.Result
	err    error
}

// Run takes the eligible snapshot once and processes it. It returns when the
// in-flight set is empty and either the snapshot is exhausted or cancellation
// was requested; no task is left processing afterwards. A single task's
// failure never aborts the batch.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	snapshot := s.queue.SnapshotPending()

	s.log.Info().
		Int("tasks", len(snapshot)).
		Int("concurrency", s.concurrency).
		Msg("Starting batch run")

	// Workers get a detached context: cancelling the run stops new starts
	// but lets started extractions finish ("drain, don't kill").
	workCtx := context.WithoutCancel(ctx)

	results := make(chan outcome)
	inFlight := 0
	next := 0
	var summary Summary

	for {
		for inFlight < s.concurrency && next < len(snapshot) && ctx.Err() == nil {
			t := snapshot[next]
			next++

			if err := s.queue.ApplyUpdate(workCtx, t.ID, task.StatusProcessing, nil, ""); err != nil {
				s.log.Error().Err(err).Str("task_id", t.ID).Msg("Failed to mark task processing")
				continue
			}
			inFlight++
			summary.Started++

			go func(t *task.Task) {
				res, err := s.process(workCtx, t)
				results <- outcome{id: t.ID, result: res, err: err}
			}(t)
		}

		if inFlight == 0 {
			break
		}

		o := <-results
		inFlight--
		s.apply(workCtx, o, &summary)
	}

	// Never-started snapshot tasks keep their pending/error status and are
	// picked up by the next run.
	summary.Skipped = len(snapshot) - next
	summary.Cancelled = ctx.Err() != nil

	s.log.Info().
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Bool("cancelled", summary.Cancelled).
		Msg("Batch run finished")

	return summary, ctx.Err()
}

func (s *Scheduler) apply(ctx context.Context, o outcome, summary *Summary) {
	if o.err != nil {
		summary.Failed++
		s.log.Warn().Err(o.err).Str("task_id", o.id).Msg("Task failed")
		if err := s.queue.ApplyUpdate(ctx, o.id, task.StatusError, nil, o.err.Error()); err != nil {
			s.log.Error().Err(err).Str("task_id", o.id).Msg("Failed to record task error")
		}
		return
	}

	summary.Completed++
	if err := s.queue.ApplyUpdate(ctx, o.id, task.StatusCompleted, o.result, ""); err != nil {
		s.log.Error().Err(err).Str("task_id", o.id).Msg("Failed to record task result")
	}
}

// String implements fmt.Stringer for run summaries in CLI output.
func (s Summary) String() string {
	return fmt.Sprintf("started=%d completed=%d failed=%d skipped=%d cancelled=%t",
		s.Started, s.Completed, s.Failed, s.Skipped, s.Cancelled)
}
