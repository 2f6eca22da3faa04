// Package bigquery is a BigQuery-backed TaskStore for deployments that keep
// queue state and reconciled transactions queryable in a warehouse.
package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/ledgerscan/ledgerscan/internal/store"
	"github.com/ledgerscan/ledgerscan/internal/task"
)

const (
	tasksTable        = "tasks"
	transactionsTable = "transactions"
)

// Store holds a shared BigQuery client to avoid creating a new connection
// for each operation.
type Store struct {
	client  *bigquery.Client
	dataset string
}

// NewStore creates a BigQuery-backed task store for the given project and
// dataset.
func NewStore(ctx context.Context, projectID, dataset string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return &Store{client: client, dataset: dataset}, nil
}

// SaveTask implements TaskStore via a streaming insert.
func (s *Store) SaveTask(ctx context.Context, t *task.Task) error {
	row, err := taskToRow(t)
	if err != nil {
		return fmt.Errorf("SaveTask: %w", err)
	}

	inserter := s.client.Dataset(s.dataset).Table(tasksTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("SaveTask: inserting row: %w", err)
	}
	return nil
}

// UpdateTask implements TaskStore with parameterized DML. When a completed
// result carries a statement, its transactions are also flattened into the
// transactions table for SQL access.
func (s *Store) UpdateTask(ctx context.Context, id string, u task.Update) error {
	set := "updated_ts = @updated_ts"
	params := []bigquery.QueryParameter{
		{Name: "updated_ts", Value: time.Now()},
		{Name: "task_id", Value: id},
	}

	if u.Status != nil {
		set += ", status = @status"
		params = append(params, bigquery.QueryParameter{Name: "status", Value: string(*u.Status)})
	}
	if u.ErrorMessage != nil {
		msg := *u.ErrorMessage
		const maxLen = 2000
		if len(msg) > maxLen {
			msg = msg[:maxLen]
		}
		set += ", error_message = @error_message"
		params = append(params, bigquery.QueryParameter{Name: "error_message", Value: msg})
	}
	if u.Result != nil {
		data, err := json.Marshal(u.Result)
		if err != nil {
			return fmt.Errorf("UpdateTask: marshaling result: %w", err)
		}
		set += ", result_json = @result_json"
		params = append(params, bigquery.QueryParameter{Name: "result_json", Value: string(data)})
	}

	q := s.client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET %s
		WHERE task_id = @task_id
	`, s.dataset, tasksTable, set))
	q.Parameters = params

	if err := runAndWait(ctx, q); err != nil {
		return fmt.Errorf("UpdateTask: %w", err)
	}

	if u.Result != nil && u.Result.Statement != nil {
		if err := s.insertStatementRows(ctx, id, u.Result.Statement); err != nil {
			return fmt.Errorf("UpdateTask: %w", err)
		}
	}
	return nil
}

// insertStatementRows streams the reconciled statement lines of a completed
// task into the transactions table. Rows are append-only; readers join on
// the latest task update.
func (s *Store) insertStatementRows(ctx context.Context, taskID string, st *task.StatementResult) error {
	if len(st.Transactions) == 0 {
		return nil
	}

	now := time.Now()
	rows := make([]*TransactionRow, 0, len(st.Transactions))
	for i, tx := range st.Transactions {
		rows = append(rows, &TransactionRow{
			TaskID:          taskID,
			LineNo:          int64(i + 1),
			TransactionDate: civil.DateOf(tx.Date),
			Description:     tx.Description,
			Amount:          tx.Amount.Rat(),
			Currency:        st.Currency,
			Direction:       string(tx.Direction),
			Category:        nullString(tx.Category),
			ReferenceCode:   nullString(tx.ReferenceCode),
			MatchNote:       nullString(tx.MatchNote),
			CreatedTS:       now,
		})
	}

	inserter := s.client.Dataset(s.dataset).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("inserting transaction rows: %w", err)
	}
	return nil
}

// GetTask implements TaskStore.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT task_id, owner_id, source_name, source_size, source_uri,
		       mime_type, status, error_message, result_json, enqueued_ts, updated_ts
		FROM %s.%s
		WHERE task_id = @task_id
		LIMIT 1
	`, s.dataset, tasksTable))
	q.Parameters = []bigquery.QueryParameter{{Name: "task_id", Value: id}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetTask: query read: %w", err)
	}

	var row TaskRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("GetTask: iter next: %w", err)
	}

	return rowToTask(&row)
}

// ListTasksByOwner implements TaskStore.
func (s *Store) ListTasksByOwner(ctx context.Context, ownerID string) ([]*task.Task, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT task_id, owner_id, source_name, source_size, source_uri,
		       mime_type, status, error_message, result_json, enqueued_ts, updated_ts
		FROM %s.%s
		WHERE owner_id = @owner_id
		ORDER BY enqueued_ts, task_id
	`, s.dataset, tasksTable))
	q.Parameters = []bigquery.QueryParameter{{Name: "owner_id", Value: ownerID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTasksByOwner: query read: %w", err)
	}

	var out []*task.Task
	for {
		var row TaskRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTasksByOwner: iter next: %w", err)
		}
		t, err := rowToTask(&row)
		if err != nil {
			return nil, fmt.Errorf("ListTasksByOwner: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// DeleteTask implements TaskStore, removing the task and its flattened
// transaction rows.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	q := s.client.Query(fmt.Sprintf(`
		DELETE FROM %s.%s WHERE task_id = @task_id
	`, s.dataset, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{{Name: "task_id", Value: id}}
	if err := runAndWait(ctx, q); err != nil {
		return fmt.Errorf("DeleteTask: transactions: %w", err)
	}

	q = s.client.Query(fmt.Sprintf(`
		DELETE FROM %s.%s WHERE task_id = @task_id
	`, s.dataset, tasksTable))
	q.Parameters = []bigquery.QueryParameter{{Name: "task_id", Value: id}}
	if err := runAndWait(ctx, q); err != nil {
		return fmt.Errorf("DeleteTask: tasks: %w", err)
	}
	return nil
}

// Close releases the BigQuery client.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func runAndWait(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

func taskToRow(t *task.Task) (*TaskRow, error) {
	row := &TaskRow{
		TaskID:       t.ID,
		OwnerID:      t.OwnerID,
		SourceName:   t.SourceName,
		SourceSize:   t.SourceSize,
		SourceURI:    t.SourceURI,
		MimeType:     t.MimeType,
		Status:       string(t.Status),
		ErrorMessage: t.ErrorMessage,
		EnqueuedTS:   t.EnqueuedAt,
	}
	if t.Result != nil {
		data, err := json.Marshal(t.Result)
		if err != nil {
			return nil, fmt.Errorf("marshaling result: %w", err)
		}
		row.ResultJSON = bigquery.NullString{StringVal: string(data), Valid: true}
	}
	return row, nil
}

func rowToTask(row *TaskRow) (*task.Task, error) {
	t := &task.Task{
		ID:           row.TaskID,
		OwnerID:      row.OwnerID,
		SourceName:   row.SourceName,
		SourceSize:   row.SourceSize,
		SourceURI:    row.SourceURI,
		MimeType:     row.MimeType,
		Status:       task.Status(row.Status),
		ErrorMessage: row.ErrorMessage,
		EnqueuedAt:   row.EnqueuedTS,
	}
	if row.ResultJSON.Valid && row.ResultJSON.StringVal != "" {
		var res task.Result
		if err := json.Unmarshal([]byte(row.ResultJSON.StringVal), &res); err != nil {
			return nil, fmt.Errorf("unmarshaling result for %s: %w", row.TaskID, err)
		}
		t.Result = &res
	}
	return t, nil
}

func nullString(s string) bigquery.NullString {
	if s == "" {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: s, Valid: true}
}

var _ store.TaskStore = (*Store)(nil)
