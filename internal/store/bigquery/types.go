package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

// TaskRow represents a task record in the tasks table.
type TaskRow struct {
	TaskID  string `bigquery:"task_id"`
	OwnerID string `bigquery:"owner_id"`

	SourceName string `bigquery:"source_name"`
	SourceSize int64  `bigquery:"source_size"`
	SourceURI  string `bigquery:"source_uri"`
	MimeType   string `bigquery:"mime_type"`

	Status       string `bigquery:"status"`
	ErrorMessage string `bigquery:"error_message"`

	// ResultJSON holds the serialized extraction result for completed tasks.
	ResultJSON bigquery.NullString `bigquery:"result_json"`

	EnqueuedTS time.Time              `bigquery:"enqueued_ts"`
	UpdatedTS  bigquery.NullTimestamp `bigquery:"updated_ts"`
}

// TransactionRow represents one reconciled statement line in the
// transactions table, flattened out of the result JSON for SQL access.
type TransactionRow struct {
	TaskID string `bigquery:"task_id"`
	LineNo int64  `bigquery:"line_no"`

	TransactionDate civil.Date `bigquery:"transaction_date"`
	Description     string     `bigquery:"description"`

	Amount    *big.Rat `bigquery:"amount"`
	Currency  string   `bigquery:"currency"`
	Direction string   `bigquery:"direction"`

	Category      bigquery.NullString `bigquery:"category"`
	ReferenceCode bigquery.NullString `bigquery:"reference_code"`
	MatchNote     bigquery.NullString `bigquery:"match_note"`

	CreatedTS time.Time `bigquery:"created_ts"`
}
