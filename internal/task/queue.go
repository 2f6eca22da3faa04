package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Persister receives write-through copies of queue mutations so queue state
// survives restarts. Implementations live in internal/store; a nil Persister
// keeps the queue purely in memory.
type Persister interface {
	SaveTask(ctx context.Context, t *Task) error
	UpdateTask(ctx context.Context, id string, u Update) error
}

// DuplicateFunc is invoked when an enqueued task is dropped as a duplicate.
// Duplicate submissions are a user notification, not an error.
type DuplicateFunc func(sourceName string, sourceSize int64)

// Queue is the in-memory ordered collection of document-processing tasks.
// It is the only shared mutable resource of a batch run: all status, result
// and error mutations go through ApplyUpdate, which is safe for concurrent
// use because distinct workers always address distinct task ids.
type Queue struct {
	mu          sync.Mutex
	tasks       []*Task
	byID        map[string]*Task
	seen        map[string]struct{}
	persist     Persister
	onDuplicate DuplicateFunc
	log         zerolog.Logger
}

// NewQueue creates an empty task queue. persist and onDuplicate may be nil.
func NewQueue(persist Persister, onDuplicate DuplicateFunc, log zerolog.Logger) *Queue {
	return &Queue{
		byID:        make(map[string]*Task),
		seen:        make(map[string]struct{}),
		persist:     persist,
		onDuplicate: onDuplicate,
		log:         log,
	}
}

func fingerprint(name string, size int64) string {
	return fmt.Sprintf("%s\x00%d", name, size)
}

// Enqueue appends new pending tasks, dropping any task whose (name, size)
// duplicates an existing task regardless of status. It returns the tasks that
// were accepted.
func (q *Queue) Enqueue(ctx context.Context, tasks ...*Task) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	accepted := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		fp := fingerprint(t.SourceName, t.SourceSize)
		if _, dup := q.seen[fp]; dup {
			q.log.Warn().
				Str("source_name", t.SourceName).
				Int64("source_size", t.SourceSize).
				Msg("Duplicate submission dropped")
			if q.onDuplicate != nil {
				q.onDuplicate(t.SourceName, t.SourceSize)
			}
			continue
		}

		t.Status = StatusPending
		t.Result = nil
		t.ErrorMessage = ""
		q.tasks = append(q.tasks, t)
		q.byID[t.ID] = t
		q.seen[fp] = struct{}{}
		accepted = append(accepted, t)

		if q.persist != nil {
			if err := q.persist.SaveTask(ctx, t); err != nil {
				q.log.Error().Err(err).Str("task_id", t.ID).Msg("Failed to persist task")
			}
		}
	}
	return accepted
}

// Restore loads previously persisted tasks into the queue without resetting
// their status, registering their fingerprints for duplicate detection.
// Completed and error tasks keep their results and messages.
func (q *Queue) Restore(tasks []*Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range tasks {
		fp := fingerprint(t.SourceName, t.SourceSize)
		if _, dup := q.seen[fp]; dup {
			continue
		}
		// A restart can never leave a task processing: no run is active.
		if t.Status == StatusProcessing {
			t.Status = StatusPending
		}
		q.tasks = append(q.tasks, t)
		q.byID[t.ID] = t
		q.seen[fp] = struct{}{}
	}
}

// SnapshotPending returns, at call time, the ordered list of tasks eligible
// for (re)processing: those currently pending or in error. One scheduler run
// operates on exactly this snapshot; tasks enqueued afterwards wait for the
// next run.
func (q *Queue) SnapshotPending() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Task
	for _, t := range q.tasks {
		if t.Status == StatusPending || t.Status == StatusError {
			out = append(out, t.Clone())
		}
	}
	return out
}

// ApplyUpdate is the only way task status, result and error message are
// mutated. It enforces the invariant that a result is present iff the task
// completed and an error message iff it failed.
func (q *Queue) ApplyUpdate(ctx context.Context, id string, status Status, result *Result, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("ApplyUpdate: unknown task %s", id)
	}

	switch status {
	case StatusCompleted:
		if result == nil || errMsg != "" {
			return fmt.Errorf("ApplyUpdate: completed task %s requires a result and no error", id)
		}
	case StatusError:
		if errMsg == "" || result != nil {
			return fmt.Errorf("ApplyUpdate: failed task %s requires an error message and no result", id)
		}
	case StatusPending, StatusProcessing:
		if result != nil || errMsg != "" {
			return fmt.Errorf("ApplyUpdate: %s task %s carries neither result nor error", status, id)
		}
	default:
		return fmt.Errorf("ApplyUpdate: invalid status %q", status)
	}

	t.Status = status
	t.Result = result
	t.ErrorMessage = errMsg

	if q.persist != nil {
		u := Update{Status: &status, Result: result, ErrorMessage: &errMsg}
		if err := q.persist.UpdateTask(ctx, id, u); err != nil {
			q.log.Error().Err(err).Str("task_id", id).Msg("Failed to persist task update")
		}
	}
	return nil
}

// ReplaceResult swaps the result of a completed task, used for manual
// transaction edits. The caller is responsible for recomputing derived
// totals before calling.
func (q *Queue) ReplaceResult(ctx context.Context, id string, result *Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("ReplaceResult: unknown task %s", id)
	}
	if t.Status != StatusCompleted {
		return fmt.Errorf("ReplaceResult: task %s is %s, not completed", id, t.Status)
	}
	if result == nil {
		return fmt.Errorf("ReplaceResult: task %s requires a result", id)
	}

	t.Result = result

	if q.persist != nil {
		if err := q.persist.UpdateTask(ctx, id, Update{Result: result}); err != nil {
			q.log.Error().Err(err).Str("task_id", id).Msg("Failed to persist result replacement")
		}
	}
	return nil
}

// Get returns a copy of the task with the given id.
func (q *Queue) Get(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.byID[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// All returns copies of every task in enqueue order.
func (q *Queue) All() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t.Clone())
	}
	return out
}

// Counts derives the number of tasks per status. Progress is never stored
// separately.
func (q *Queue) Counts() map[Status]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[Status]int)
	for _, t := range q.tasks {
		counts[t.Status]++
	}
	return counts
}

// Len returns the number of tasks in the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// CompletedEvidence returns the document results of completed non-statement
// tasks, in queue order. The matcher uses this as its candidate set; evidence
// is read-only and never mutated by matching.
func (q *Queue) CompletedEvidence() []Evidence {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Evidence
	for _, t := range q.tasks {
		if t.Status == StatusCompleted && t.Result != nil && t.Result.Document != nil {
			out = append(out, Evidence{SourceName: t.SourceName, Document: *t.Result.Document})
		}
	}
	return out
}
