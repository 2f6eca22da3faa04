// Package memory is an in-memory TaskStore for single-process deployments
// and tests. Data is lost on restart; use the bolt or bigquery store for
// persistence.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ledgerscan/ledgerscan/internal/store"
	"github.com/ledgerscan/ledgerscan/internal/task"
)

// Store keeps tasks in a map guarded by a mutex. It is safe for concurrent
// use.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
}

// NewStore creates an empty in-memory task store.
func NewStore() *Store {
	return &Store{tasks: make(map[string]*task.Task)}
}

// SaveTask implements TaskStore. It stores a copy to shield the map from
// external mutation.
func (s *Store) SaveTask(ctx context.Context, t *task.Task) error {
	if t.ID == "" {
		return fmt.Errorf("task ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[t.ID] = t.Clone()
	return nil
}

// UpdateTask implements TaskStore.
func (s *Store) UpdateTask(ctx context.Context, id string, u task.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}

	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Result != nil {
		t.Result = u.Result.Clone()
	}
	if u.ErrorMessage != nil {
		t.ErrorMessage = *u.ErrorMessage
	}
	// A completed update clears any stale error and vice versa.
	if u.Status != nil {
		switch *u.Status {
		case task.StatusCompleted:
			t.ErrorMessage = ""
		case task.StatusError:
			t.Result = nil
		case task.StatusPending, task.StatusProcessing:
			t.Result = nil
			t.ErrorMessage = ""
		}
	}
	return nil
}

// GetTask implements TaskStore.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return t.Clone(), nil
}

// ListTasksByOwner implements TaskStore. Tasks come back in enqueue order.
func (s *Store) ListTasksByOwner(ctx context.Context, ownerID string) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*task.Task
	for _, t := range s.tasks {
		if ownerID != "" && t.OwnerID != ownerID {
			continue
		}
		out = append(out, t.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteTask implements TaskStore.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	delete(s.tasks, id)
	return nil
}

// Close implements TaskStore.
func (s *Store) Close() error {
	return nil
}

// Ensure Store implements the persistence contract.
var _ store.TaskStore = (*Store)(nil)
var _ task.Persister = (*Store)(nil)
