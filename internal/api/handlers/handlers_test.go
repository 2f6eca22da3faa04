package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerscan/ledgerscan/internal/batch"
	"github.com/ledgerscan/ledgerscan/internal/task"
)

func newTestServer(t *testing.T, q *task.Queue) *httptest.Server {
	t.Helper()

	process := func(ctx context.Context, tk *task.Task) (*task.Result, error) {
		return &task.Result{Document: &task.DocumentResult{Issuer: "Stub", TotalAmount: decimal.NewFromInt(1)}}, nil
	}
	sched := batch.NewScheduler(q, 2, process, zerolog.Nop())
	runner := batch.NewRunner(sched, zerolog.Nop())

	mux := http.NewServeMux()
	RegisterRoutes(mux,
		NewTasksHandler(q, nil, "u1", zerolog.Nop()),
		NewBatchHandler(runner, q, zerolog.Nop()),
		NewExportHandler(q, zerolog.Nop()),
	)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func multipartUpload(t *testing.T, url string, files map[string][]byte) *http.Response {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := w.CreateFormFile("documents", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	resp, err := http.Post(url+"/api/tasks", w.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestUploadDocuments(t *testing.T) {
	q := task.NewQueue(nil, nil, zerolog.Nop())
	srv := newTestServer(t, q)

	resp := multipartUpload(t, srv.URL, map[string][]byte{
		"statement.pdf": []byte("statement-bytes"),
		"receipt.jpg":   []byte("receipt-bytes"),
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		Accepted   []string `json:"accepted"`
		Duplicates []string `json:"duplicates"`
	}
	decodeJSON(t, resp, &out)
	assert.Len(t, out.Accepted, 2)
	assert.Empty(t, out.Duplicates)
	assert.Equal(t, 2, q.Len())

	// Re-uploading the same file is reported, not enqueued.
	resp = multipartUpload(t, srv.URL, map[string][]byte{
		"statement.pdf": []byte("statement-bytes"),
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	decodeJSON(t, resp, &out)
	assert.Empty(t, out.Accepted)
	assert.Equal(t, []string{"statement.pdf"}, out.Duplicates)
	assert.Equal(t, 2, q.Len())
}

func TestUploadRequiresFiles(t *testing.T) {
	q := task.NewQueue(nil, nil, zerolog.Nop())
	srv := newTestServer(t, q)

	resp := multipartUpload(t, srv.URL, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetTask(t *testing.T) {
	q := task.NewQueue(nil, nil, zerolog.Nop())
	srv := newTestServer(t, q)

	tk := task.New("u1", "a.pdf", "application/pdf", []byte("aa"))
	q.Enqueue(context.Background(), tk)

	resp, err := http.Get(srv.URL + "/api/tasks/" + tk.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got task.Task
	decodeJSON(t, resp, &got)
	assert.Equal(t, tk.ID, got.ID)
	assert.Equal(t, "a.pdf", got.SourceName)

	resp, err = http.Get(srv.URL + "/api/tasks/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func completedStatementTask(t *testing.T, q *task.Queue) *task.Task {
	t.Helper()
	ctx := context.Background()

	tk := task.New("u1", "statement.pdf", "application/pdf", []byte("st"))
	q.Enqueue(ctx, tk)
	require.NoError(t, q.ApplyUpdate(ctx, tk.ID, task.StatusProcessing, nil, ""))

	amount, err := decimal.NewFromString("50.00")
	require.NoError(t, err)
	res := &task.Result{Statement: &task.StatementResult{
		Currency: "USD",
		Transactions: []task.Transaction{
			{Date: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), Description: "POS", Amount: amount, Direction: task.DirectionExpense},
		},
		TotalExpense: amount,
	}}
	require.NoError(t, q.ApplyUpdate(ctx, tk.ID, task.StatusCompleted, res, ""))
	return tk
}

func TestAddTransactionRecomputesTotals(t *testing.T) {
	q := task.NewQueue(nil, nil, zerolog.Nop())
	srv := newTestServer(t, q)
	tk := completedStatementTask(t, q)

	body := `{"date":"2026-03-12","description":"SALARY","amount":"3000.00","direction":"income"}`
	resp, err := http.Post(srv.URL+"/api/tasks/"+tk.ID+"/transactions", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		TotalIncome  string `json:"total_income"`
		TotalExpense string `json:"total_expense"`
		Net          string `json:"net"`
	}
	decodeJSON(t, resp, &out)
	assert.Equal(t, "3000", out.TotalIncome)
	assert.Equal(t, "50", out.TotalExpense)
	assert.Equal(t, "2950", out.Net)

	got, ok := q.Get(tk.ID)
	require.True(t, ok)
	assert.Len(t, got.Result.Statement.Transactions, 2)
}

func TestUpdateAndDeleteTransaction(t *testing.T) {
	q := task.NewQueue(nil, nil, zerolog.Nop())
	srv := newTestServer(t, q)
	tk := completedStatementTask(t, q)
	client := srv.Client()

	body := `{"date":"2026-03-10","description":"POS","amount":"75.00","direction":"expense"}`
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/tasks/"+tk.ID+"/transactions/0", strings.NewReader(body))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, ok := q.Get(tk.ID)
	require.True(t, ok)
	assert.Equal(t, "75", got.Result.Statement.TotalExpense.String())

	// Out-of-range index.
	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/api/tasks/"+tk.ID+"/transactions/9", nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/api/tasks/"+tk.ID+"/transactions/0", nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, ok = q.Get(tk.ID)
	require.True(t, ok)
	assert.Empty(t, got.Result.Statement.Transactions)
	assert.True(t, got.Result.Statement.TotalExpense.IsZero())
}

func TestEditRejectsNonStatementTask(t *testing.T) {
	q := task.NewQueue(nil, nil, zerolog.Nop())
	srv := newTestServer(t, q)

	tk := task.New("u1", "pending.pdf", "application/pdf", []byte("aa"))
	q.Enqueue(context.Background(), tk)

	body := `{"date":"2026-03-12","description":"X","amount":"1.00","direction":"income"}`
	resp, err := http.Post(srv.URL+"/api/tasks/"+tk.ID+"/transactions", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBatchRunAndStatus(t *testing.T) {
	q := task.NewQueue(nil, nil, zerolog.Nop())
	srv := newTestServer(t, q)

	for i := 0; i < 3; i++ {
		q.Enqueue(context.Background(), task.New("u1", fmt.Sprintf("doc-%d.pdf", i), "application/pdf", []byte{byte(i)}))
	}

	resp, err := http.Post(srv.URL+"/api/batch/run", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		return q.Counts()[task.StatusCompleted] == 3
	}, 2*time.Second, 5*time.Millisecond)

	resp, err = http.Get(srv.URL + "/api/batch/status")
	require.NoError(t, err)
	var status struct {
		Running   bool `json:"running"`
		Total     int  `json:"total"`
		Completed int  `json:"completed"`
	}
	decodeJSON(t, resp, &status)
	assert.Equal(t, 3, status.Total)
	assert.Equal(t, 3, status.Completed)
}

func TestBatchCancelWithoutRun(t *testing.T) {
	q := task.NewQueue(nil, nil, zerolog.Nop())
	srv := newTestServer(t, q)

	resp, err := http.Post(srv.URL+"/api/batch/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestExportCSV(t *testing.T) {
	q := task.NewQueue(nil, nil, zerolog.Nop())
	srv := newTestServer(t, q)
	completedStatementTask(t, q)

	resp, err := http.Get(srv.URL + "/api/export/csv")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "POS")
	assert.Contains(t, buf.String(), "total_expense")
}
