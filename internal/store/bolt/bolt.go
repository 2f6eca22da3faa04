// Package bolt is a bbolt-backed TaskStore for single-user local
// deployments. Tasks are stored as JSON values keyed by id; raw document
// bytes are not persisted here, only their SourceURI reference.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ledgerscan/ledgerscan/internal/store"
	"github.com/ledgerscan/ledgerscan/internal/task"
)

const tasksBucket = "tasks"

// Store wraps a bbolt database file.
type Store struct {
	db *bbolt.DB
}

// NewStore opens (or creates) the database file at path.
func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(tasksBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveTask implements TaskStore.
func (s *Store) SaveTask(ctx context.Context, t *task.Task) error {
	if t.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshaling task: %w", err)
		}
		return tx.Bucket([]byte(tasksBucket)).Put([]byte(t.ID), data)
	})
}

// UpdateTask implements TaskStore with a read-modify-write inside one bbolt
// transaction.
func (s *Store) UpdateTask(ctx context.Context, id string, u task.Update) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tasksBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}

		var t task.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("unmarshaling task: %w", err)
		}

		if u.Status != nil {
			t.Status = *u.Status
		}
		if u.Result != nil {
			t.Result = u.Result
		}
		if u.ErrorMessage != nil {
			t.ErrorMessage = *u.ErrorMessage
		}
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

		updated, err := json.Marshal(&t)
		if err != nil {
			return fmt.Errorf("marshaling task: %w", err)
		}
		return bucket.Put([]byte(id), updated)
	})
}

// GetTask implements TaskStore.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	var t *task.Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(tasksBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasksByOwner implements TaskStore. bbolt has no secondary indexes, so
// this is a full-bucket scan; fine at single-user scale.
func (s *Store) ListTasksByOwner(ctx context.Context, ownerID string) ([]*task.Task, error) {
	var out []*task.Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(tasksBucket)).ForEach(func(k, v []byte) error {
			var t task.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("unmarshaling task %s: %w", k, err)
			}
			if ownerID != "" && t.OwnerID != ownerID {
				return nil
			}
			out = append(out, &t)
			return nil
		})
	})
	if err != nil {
		return nil, err
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
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tasksBucket))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// Close implements TaskStore.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.TaskStore = (*Store)(nil)
