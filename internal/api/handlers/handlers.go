package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerscan/ledgerscan/internal/api/middleware"
	"github.com/ledgerscan/ledgerscan/internal/batch"
	"github.com/ledgerscan/ledgerscan/internal/export"
	"github.com/ledgerscan/ledgerscan/internal/recon"
	"github.com/ledgerscan/ledgerscan/internal/task"
)

// maxUploadBytes caps a single document upload.
const maxUploadBytes = 32 << 20 // 32 MiB

// BlobUploader stores raw document bytes and returns a durable URI.
// Satisfied by blob.GCS; nil means documents stay in memory only.
type BlobUploader interface {
	Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
}

// TasksHandler handles document upload and task inspection endpoints.
type TasksHandler struct {
	queue   *task.Queue
	blobs   BlobUploader
	ownerID string
	log     zerolog.Logger
}

// NewTasksHandler creates a new tasks handler. blobs may be nil.
func NewTasksHandler(queue *task.Queue, blobs BlobUploader, ownerID string, log zerolog.Logger) *TasksHandler {
	return &TasksHandler{
		queue:   queue,
		blobs:   blobs,
		ownerID: ownerID,
		log:     log,
	}
}

// UploadDocuments handles POST /api/tasks
// Accepts multipart form uploads under the "documents" field. Files whose
// (name, size) pair matches an existing task are reported back as duplicates
// rather than enqueued again.
func (h *TasksHandler) UploadDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	files := r.MultipartForm.File["documents"]
	if len(files) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "At least one document is required")
		return
	}

	var tasks []*task.Task
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Failed to open %s", fh.Filename))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read %s", fh.Filename))
			return
		}

		contentType := fh.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/pdf"
		}

		t := task.New(h.ownerID, filepath.Base(fh.Filename), contentType, data)

		if h.blobs != nil {
			objectName := fmt.Sprintf("uploads/%s/%s-%s", time.Now().Format("2006/01/02"), uuid.NewString(), t.SourceName)
			uri, err := h.blobs.Upload(ctx, objectName, data, contentType)
			if err != nil {
				h.log.Error().Err(err).Str("source_name", t.SourceName).Msg("Failed to upload document")
				middleware.WriteError(w, http.StatusInternalServerError, "Failed to store document")
				return
			}
			t.SourceURI = uri
		}

		tasks = append(tasks, t)
	}

	accepted := h.queue.Enqueue(ctx, tasks...)

	acceptedIDs := make([]string, 0, len(accepted))
	acceptedSet := make(map[string]bool, len(accepted))
	for _, t := range accepted {
		acceptedIDs = append(acceptedIDs, t.ID)
		acceptedSet[t.ID] = true
	}
	var duplicates []string
	for _, t := range tasks {
		if !acceptedSet[t.ID] {
			duplicates = append(duplicates, t.SourceName)
		}
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted":   acceptedIDs,
		"duplicates": duplicates,
	})
}

// ListTasks handles GET /api/tasks
func (h *TasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.queue.All()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// GetTask handles GET /api/tasks/{id}
func (h *TasksHandler) GetTask(w http.ResponseWriter, r *http.Request, taskID string) {
	t, ok := h.queue.Get(taskID)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Task not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, t)
}

// transactionRequest is the JSON body for manual transaction edits.
type transactionRequest struct {
	Date          string `json:"date"`
	Description   string `json:"description"`
	Amount        string `json:"amount"`
	Direction     string `json:"direction"`
	Category      string `json:"category"`
	ReferenceCode string `json:"reference_code"`
}

func (req *transactionRequest) toTransaction() (task.Transaction, error) {
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return task.Transaction{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", req.Date)
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return task.Transaction{}, fmt.Errorf("invalid amount %q", req.Amount)
	}
	dir := task.Direction(req.Direction)
	if dir != task.DirectionIncome && dir != task.DirectionExpense {
		return task.Transaction{}, fmt.Errorf("invalid direction %q, expected income or expense", req.Direction)
	}
	return task.Transaction{
		Date:          date,
		Description:   req.Description,
		Amount:        amount.Abs(),
		Direction:     dir,
		Category:      req.Category,
		ReferenceCode: req.ReferenceCode,
	}, nil
}

// statementForEdit fetches the task and its statement result, writing the
// appropriate error response when either is missing.
func (h *TasksHandler) statementForEdit(w http.ResponseWriter, taskID string) (*task.Task, *task.StatementResult, bool) {
	t, ok := h.queue.Get(taskID)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Task not found")
		return nil, nil, false
	}
	if t.Status != task.StatusCompleted || t.Result == nil || t.Result.Statement == nil {
		middleware.WriteError(w, http.StatusConflict, "Task has no completed statement result")
		return nil, nil, false
	}
	return t, t.Result.Statement, true
}

// AddTransaction handles POST /api/tasks/{id}/transactions
func (h *TasksHandler) AddTransaction(w http.ResponseWriter, r *http.Request, taskID string) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	tx, err := req.toTransaction()
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, st, ok := h.statementForEdit(w, taskID)
	if !ok {
		return
	}

	recon.AddTransaction(st, tx)
	h.saveStatement(w, r, t, st)
}

// UpdateTransaction handles PUT /api/tasks/{id}/transactions/{n}
func (h *TasksHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request, taskID string, index int) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	tx, err := req.toTransaction()
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, st, ok := h.statementForEdit(w, taskID)
	if !ok {
		return
	}

	if err := recon.UpdateTransaction(st, index, tx); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.saveStatement(w, r, t, st)
}

// DeleteTransaction handles DELETE /api/tasks/{id}/transactions/{n}
func (h *TasksHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request, taskID string, index int) {
	t, st, ok := h.statementForEdit(w, taskID)
	if !ok {
		return
	}

	if err := recon.DeleteTransaction(st, index); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.saveStatement(w, r, t, st)
}

func (h *TasksHandler) saveStatement(w http.ResponseWriter, r *http.Request, t *task.Task, st *task.StatementResult) {
	if err := h.queue.ReplaceResult(r.Context(), t.ID, t.Result); err != nil {
		h.log.Error().Err(err).Str("task_id", t.ID).Msg("Failed to save edited statement")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to save statement")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"task_id":       t.ID,
		"total_income":  st.TotalIncome,
		"total_expense": st.TotalExpense,
		"net":           recon.Net(st),
		"transactions":  st.Transactions,
	})
}

// BatchHandler controls batch processing runs.
type BatchHandler struct {
	runner *batch.Runner
	queue  *task.Queue
	log    zerolog.Logger
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(runner *batch.Runner, queue *task.Queue, log zerolog.Logger) *BatchHandler {
	return &BatchHandler{
		runner: runner,
		queue:  queue,
		log:    log,
	}
}

// StartRun handles POST /api/batch/run
func (h *BatchHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	// The run must outlive this request; cancellation is explicit via the
	// cancel endpoint.
	if err := h.runner.Start(context.WithoutCancel(r.Context())); err != nil {
		if errors.Is(err, batch.ErrRunInProgress) {
			middleware.WriteError(w, http.StatusConflict, "A batch run is already in progress")
			return
		}
		h.log.Error().Err(err).Msg("Failed to start batch run")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to start batch run")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// CancelRun handles POST /api/batch/cancel
func (h *BatchHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	if !h.runner.Cancel() {
		middleware.WriteError(w, http.StatusConflict, "No batch run is in progress")
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// Status handles GET /api/batch/status
// Progress is derived from queue status counts on demand.
func (h *BatchHandler) Status(w http.ResponseWriter, r *http.Request) {
	counts := h.queue.Counts()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running":    h.runner.Running(),
		"total":      h.queue.Len(),
		"pending":    counts[task.StatusPending],
		"processing": counts[task.StatusProcessing],
		"completed":  counts[task.StatusCompleted],
		"error":      counts[task.StatusError],
	})
}

// ExportHandler serves completed results as CSV.
type ExportHandler struct {
	queue *task.Queue
	log   zerolog.Logger
}

// NewExportHandler creates a new export handler.
func NewExportHandler(queue *task.Queue, log zerolog.Logger) *ExportHandler {
	return &ExportHandler{queue: queue, log: log}
}

// ExportCSV handles GET /api/export/csv
func (h *ExportHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=ledgerscan-%s.csv", time.Now().Format("20060102-150405")))

	if err := export.WriteTasks(w, h.queue.All()); err != nil {
		h.log.Error().Err(err).Msg("Failed to write CSV export")
	}
}

// HealthHandler handles GET /health
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseIndex parses a transaction index path segment.
func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid transaction index %q", s)
	}
	return n, nil
}
