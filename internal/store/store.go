// Package store defines the persistence contract for queue state. The core
// only requires that tasks round-trip through a store without losing status,
// result or error fields; implementations live in the subpackages.
package store

import (
	"context"
	"errors"

	"github.com/ledgerscan/ledgerscan/internal/task"
)

// ErrNotFound is returned when no task exists for the given id.
var ErrNotFound = errors.New("task not found")

// TaskStore persists tasks and their extraction results. It is a superset of
// task.Persister, so any store can back a queue's write-through.
type TaskStore interface {
	// SaveTask inserts or replaces a task.
	SaveTask(ctx context.Context, t *task.Task) error

	// UpdateTask applies a partial update to a stored task. Nil fields of u
	// are left untouched.
	UpdateTask(ctx context.Context, id string, u task.Update) error

	// GetTask retrieves a task by id.
	GetTask(ctx context.Context, id string) (*task.Task, error)

	// ListTasksByOwner retrieves all tasks of one owner in enqueue order.
	ListTasksByOwner(ctx context.Context, ownerID string) ([]*task.Task, error)

	// DeleteTask removes a task.
	DeleteTask(ctx context.Context, id string) error

	// Close releases underlying resources.
	Close() error
}
