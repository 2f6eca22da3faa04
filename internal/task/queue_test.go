package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rs/zerolog"
)

func newTestQueue(onDuplicate DuplicateFunc) *Queue {
	return NewQueue(nil, onDuplicate, zerolog.Nop())
}

func TestEnqueueDropsDuplicates(t *testing.T) {
	var dropped []string
	q := newTestQueue(func(name string, size int64) {
		dropped = append(dropped, name)
	})
	ctx := context.Background()

	a := New("u1", "statement.pdf", "application/pdf", []byte("abcd"))
	b := New("u1", "receipt.pdf", "application/pdf", []byte("efgh"))
	accepted := q.Enqueue(ctx, a, b)
	require.Len(t, accepted, 2)

	// Same name and size: duplicate even though content differs.
	dup := New("u1", "statement.pdf", "application/pdf", []byte("zzzz"))
	accepted = q.Enqueue(ctx, dup)
	assert.Empty(t, accepted)
	assert.Equal(t, []string{"statement.pdf"}, dropped)
	assert.Equal(t, 2, q.Len())

	// Same name, different size: not a duplicate.
	other := New("u1", "statement.pdf", "application/pdf", []byte("abcde"))
	accepted = q.Enqueue(ctx, other)
	assert.Len(t, accepted, 1)
	assert.Equal(t, 3, q.Len())
}

func TestSnapshotPendingSelectsPendingAndError(t *testing.T) {
	q := newTestQueue(nil)
	ctx := context.Background()

	a := New("u1", "a.pdf", "application/pdf", []byte("aa"))
	b := New("u1", "b.pdf", "application/pdf", []byte("bb"))
	c := New("u1", "c.pdf", "application/pdf", []byte("cc"))
	q.Enqueue(ctx, a, b, c)

	require.NoError(t, q.ApplyUpdate(ctx, a.ID, StatusProcessing, nil, ""))
	require.NoError(t, q.ApplyUpdate(ctx, a.ID, StatusCompleted, &Result{Document: &DocumentResult{Issuer: "Acme"}}, ""))
	require.NoError(t, q.ApplyUpdate(ctx, b.ID, StatusProcessing, nil, ""))
	require.NoError(t, q.ApplyUpdate(ctx, b.ID, StatusError, nil, "boom"))

	snapshot := q.SnapshotPending()
	require.Len(t, snapshot, 2)
	assert.Equal(t, b.ID, snapshot[0].ID, "error tasks are eligible for re-run")
	assert.Equal(t, c.ID, snapshot[1].ID)

	// Tasks enqueued after the snapshot do not appear in it.
	q.Enqueue(ctx, New("u1", "d.pdf", "application/pdf", []byte("dd")))
	assert.Len(t, snapshot, 2)
}

func TestApplyUpdateEnforcesInvariants(t *testing.T) {
	q := newTestQueue(nil)
	ctx := context.Background()

	tk := New("u1", "a.pdf", "application/pdf", []byte("aa"))
	q.Enqueue(ctx, tk)

	res := &Result{Document: &DocumentResult{Issuer: "Acme"}}

	tests := []struct {
		name    string
		status  Status
		result  *Result
		errMsg  string
		wantErr bool
	}{
		{"completed without result", StatusCompleted, nil, "", true},
		{"completed with error message", StatusCompleted, res, "boom", true},
		{"error without message", StatusError, nil, "", true},
		{"error with result", StatusError, res, "boom", true},
		{"pending with result", StatusPending, res, "", true},
		{"invalid status", Status("bogus"), nil, "", true},
		{"valid processing", StatusProcessing, nil, "", false},
		{"valid completed", StatusCompleted, res, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := q.ApplyUpdate(ctx, tk.ID, tt.status, tt.result, tt.errMsg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, q.ApplyUpdate(ctx, "no-such-id", StatusProcessing, nil, ""))
}

func TestErrorThenCompletedClearsMessage(t *testing.T) {
	q := newTestQueue(nil)
	ctx := context.Background()

	tk := New("u1", "a.pdf", "application/pdf", []byte("aa"))
	q.Enqueue(ctx, tk)

	require.NoError(t, q.ApplyUpdate(ctx, tk.ID, StatusError, nil, "first attempt failed"))
	got, ok := q.Get(tk.ID)
	require.True(t, ok)
	assert.Equal(t, "first attempt failed", got.ErrorMessage)

	require.NoError(t, q.ApplyUpdate(ctx, tk.ID, StatusCompleted, &Result{Document: &DocumentResult{Issuer: "Acme"}}, ""))
	got, ok = q.Get(tk.ID)
	require.True(t, ok)
	assert.Empty(t, got.ErrorMessage)
	require.NotNil(t, got.Result)
	assert.Equal(t, "Acme", got.Result.Document.Issuer)
}

func TestCountsDerivedFromStatuses(t *testing.T) {
	q := newTestQueue(nil)
	ctx := context.Background()

	a := New("u1", "a.pdf", "application/pdf", []byte("aa"))
	b := New("u1", "b.pdf", "application/pdf", []byte("bb"))
	c := New("u1", "c.pdf", "application/pdf", []byte("cc"))
	q.Enqueue(ctx, a, b, c)

	require.NoError(t, q.ApplyUpdate(ctx, a.ID, StatusCompleted, &Result{Document: &DocumentResult{Issuer: "x"}}, ""))
	require.NoError(t, q.ApplyUpdate(ctx, b.ID, StatusError, nil, "boom"))

	counts := q.Counts()
	assert.Equal(t, 1, counts[StatusCompleted])
	assert.Equal(t, 1, counts[StatusError])
	assert.Equal(t, 1, counts[StatusPending])
}

func TestCompletedEvidenceKeepsQueueOrder(t *testing.T) {
	q := newTestQueue(nil)
	ctx := context.Background()

	a := New("u1", "invoice-a.pdf", "application/pdf", []byte("aa"))
	b := New("u1", "statement.pdf", "application/pdf", []byte("bb"))
	c := New("u1", "invoice-c.pdf", "application/pdf", []byte("cc"))
	q.Enqueue(ctx, a, b, c)

	require.NoError(t, q.ApplyUpdate(ctx, c.ID, StatusCompleted, &Result{Document: &DocumentResult{Issuer: "C Corp"}}, ""))
	require.NoError(t, q.ApplyUpdate(ctx, a.ID, StatusCompleted, &Result{Document: &DocumentResult{Issuer: "A Corp"}}, ""))
	require.NoError(t, q.ApplyUpdate(ctx, b.ID, StatusCompleted, &Result{Statement: &StatementResult{Transactions: []Transaction{{Description: "x"}}}}, ""))

	ev := q.CompletedEvidence()
	require.Len(t, ev, 2, "statement results are not evidence")
	assert.Equal(t, "invoice-a.pdf", ev[0].SourceName, "evidence follows enqueue order, not completion order")
	assert.Equal(t, "invoice-c.pdf", ev[1].SourceName)
}

func TestRestoreResetsProcessing(t *testing.T) {
	q := newTestQueue(nil)

	a := New("u1", "a.pdf", "application/pdf", []byte("aa"))
	a.Status = StatusProcessing
	b := New("u1", "b.pdf", "application/pdf", []byte("bb"))
	b.Status = StatusCompleted
	b.Result = &Result{Document: &DocumentResult{Issuer: "Acme"}}

	q.Restore([]*Task{a, b})

	got, ok := q.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)

	got, ok = q.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Result)

	// Restored fingerprints still block duplicates.
	accepted := q.Enqueue(context.Background(), New("u1", "a.pdf", "application/pdf", []byte("xx")))
	assert.Empty(t, accepted)
}

func TestReplaceResultRequiresCompleted(t *testing.T) {
	q := newTestQueue(nil)
	ctx := context.Background()

	tk := New("u1", "a.pdf", "application/pdf", []byte("aa"))
	q.Enqueue(ctx, tk)

	res := &Result{Statement: &StatementResult{Transactions: []Transaction{{Description: "x"}}}}
	assert.Error(t, q.ReplaceResult(ctx, tk.ID, res), "pending task cannot take a result")

	require.NoError(t, q.ApplyUpdate(ctx, tk.ID, StatusCompleted, res, ""))
	edited := res.Clone()
	edited.Statement.Transactions = append(edited.Statement.Transactions, Transaction{Description: "y"})
	require.NoError(t, q.ReplaceResult(ctx, tk.ID, edited))

	got, ok := q.Get(tk.ID)
	require.True(t, ok)
	assert.Len(t, got.Result.Statement.Transactions, 2)
}
