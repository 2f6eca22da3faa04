package task

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of a submitted document.
type Status string

const (
	// StatusPending indicates the task is waiting to be processed.
	StatusPending Status = "pending"
	// StatusProcessing indicates the task is currently being extracted.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates extraction succeeded and a result is attached.
	StatusCompleted Status = "completed"
	// StatusError indicates extraction failed; the task may be re-submitted.
	StatusError Status = "error"
)

// Direction classifies a statement transaction as money in or money out.
type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

// DocumentResult is the extraction output for a non-statement document
// (invoice, receipt). It serves as read-only evidence during reconciliation.
type DocumentResult struct {
	Issuer                    string          `json:"issuer"`
	DocumentDate              time.Time       `json:"document_date"`
	TotalAmount               decimal.Decimal `json:"total_amount"`
	Currency                  string          `json:"currency"`
	ExchangeRate              decimal.Decimal `json:"exchange_rate"`
	AmountInReportingCurrency decimal.Decimal `json:"amount_in_reporting_currency"`
	Category                  string          `json:"category"`
	ReferenceCode             string          `json:"reference_code"`
}

// Transaction is one line item of a bank statement. It is owned exclusively
// by the StatementResult that contains it. Amount is always a non-negative
// magnitude; Direction carries the sign.
type Transaction struct {
	Date          time.Time       `json:"date"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Direction     Direction       `json:"direction"`
	Category      string          `json:"category,omitempty"`
	ReferenceCode string          `json:"reference_code,omitempty"`
	MatchNote     string          `json:"match_note,omitempty"`
}

// StatementResult is the extraction output for a bank statement. Transactions
// keep statement row order; the order matters for display only. TotalIncome
// and TotalExpense are derived values and are always recomputed from
// Transactions, never adjusted incrementally.
type StatementResult struct {
	Currency       string           `json:"currency"`
	PeriodStart    time.Time        `json:"period_start"`
	PeriodEnd      time.Time        `json:"period_end"`
	OpeningBalance *decimal.Decimal `json:"opening_balance,omitempty"`
	Transactions   []Transaction    `json:"transactions"`
	TotalIncome    decimal.Decimal  `json:"total_income"`
	TotalExpense   decimal.Decimal  `json:"total_expense"`
}

// Result is the extraction output of a completed task. Exactly one of
// Document or Statement is set.
type Result struct {
	Document  *DocumentResult  `json:"document,omitempty"`
	Statement *StatementResult `json:"statement,omitempty"`
}

// Clone returns a deep copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := &Result{}
	if r.Document != nil {
		doc := *r.Document
		out.Document = &doc
	}
	if r.Statement != nil {
		st := *r.Statement
		st.Transactions = make([]Transaction, len(r.Statement.Transactions))
		copy(st.Transactions, r.Statement.Transactions)
		if r.Statement.OpeningBalance != nil {
			ob := *r.Statement.OpeningBalance
			st.OpeningBalance = &ob
		}
		out.Statement = &st
	}
	return out
}

// Evidence pairs a completed document result with the source file it came
// from, so the matcher can name the file in its annotation.
type Evidence struct {
	SourceName string
	Document   DocumentResult
}

// Task is one document submitted for extraction.
type Task struct {
	ID      string `json:"task_id"`
	OwnerID string `json:"owner_id"`

	// SourceName and SourceSize identify the uploaded content; two tasks are
	// duplicates iff both match.
	SourceName string `json:"source_name"`
	SourceSize int64  `json:"source_size"`

	// SourceBytes holds the raw document content while it is in memory.
	// It is never mutated after enqueue and is not persisted; SourceURI is
	// the durable reference when blob storage is configured.
	SourceBytes []byte `json:"-"`
	SourceURI   string `json:"source_uri,omitempty"`
	MimeType    string `json:"mime_type"`

	Status Status `json:"status"`

	// Result is set iff Status is StatusCompleted.
	Result *Result `json:"result,omitempty"`
	// ErrorMessage is set iff Status is StatusError.
	ErrorMessage string `json:"error_message,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// New creates a pending task for the given document content.
func New(ownerID, sourceName, mimeType string, data []byte) *Task {
	return &Task{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		SourceName:  sourceName,
		SourceSize:  int64(len(data)),
		SourceBytes: data,
		MimeType:    mimeType,
		Status:      StatusPending,
		EnqueuedAt:  time.Now(),
	}
}

// Clone returns a copy of the task with a deep-copied result. SourceBytes is
// shared because it is immutable.
func (t *Task) Clone() *Task {
	out := *t
	out.Result = t.Result.Clone()
	return &out
}

// Update describes a partial mutation of a persisted task, mirroring the
// queue's ApplyUpdate semantics. Nil fields are left untouched.
type Update struct {
	Status       *Status
	Result       *Result
	ErrorMessage *string
}
