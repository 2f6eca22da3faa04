// Package extract defines the extraction port: the external AI collaborator
// that turns document bytes into structured financial data.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/ledgerscan/ledgerscan/internal/task"
)

// Extractor submits a document and returns structured financial data. The
// call is pure request/response with no side effects on the caller's state.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType, reportingCurrency string) (*task.Result, error)
}

// Error is the failure type of the extraction port, covering network, model
// and parse errors alike.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extraction failed: %s: %v", e.Message, e.Cause)
	}
	return "extraction failed: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrInvalidScan marks an extraction result that indicates a failed scan
// rather than a legitimately empty document. Validation failures are
// permanent; they must not be routed through the retrier.
var ErrInvalidScan = errors.New("invalid scan")

// Validate checks an extraction result for the two failed-scan signatures: a
// zero monetary total on a non-statement document, and a statement with no
// transactions at all.
func Validate(res *task.Result) error {
	if res == nil || (res.Document == nil) == (res.Statement == nil) {
		return fmt.Errorf("extraction result must hold exactly one of document or statement: %w", ErrInvalidScan)
	}
	if res.Document != nil && res.Document.TotalAmount.IsZero() {
		return fmt.Errorf("extracted total amount is zero, the scan likely failed: %w", ErrInvalidScan)
	}
	if res.Statement != nil && len(res.Statement.Transactions) == 0 {
		return fmt.Errorf("statement contains no extracted transactions, the scan likely failed: %w", ErrInvalidScan)
	}
	return nil
}
