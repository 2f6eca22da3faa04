// Package export renders completed batch results as CSV for spreadsheet
// review. One export covers a set of tasks: statement lines first, then a
// totals section, then the standalone documents used as match evidence.
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/ledgerscan/ledgerscan/internal/recon"
	"github.com/ledgerscan/ledgerscan/internal/task"
)

const dateFormat = "2006-01-02"

var transactionHeader = []string{
	"source", "row_type", "date", "description", "amount", "currency",
	"direction", "category", "reference_code", "match_note",
}

// WriteTasks writes the completed tasks among ts to w. Pending and failed
// tasks are skipped; the caller decides whether that is worth reporting.
func WriteTasks(w io.Writer, ts []*task.Task) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(transactionHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, t := range ts {
		if t.Status != task.StatusCompleted || t.Result == nil {
			continue
		}
		if err := writeResult(cw, t.SourceName, t.Result); err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	return cw.Error()
}

func writeResult(cw *csv.Writer, source string, res *task.Result) error {
	if res.Statement != nil {
		if err := writeStatement(cw, source, res.Statement); err != nil {
			return err
		}
	}
	if res.Document != nil {
		if err := writeDocument(cw, source, res.Document); err != nil {
			return err
		}
	}
	return nil
}

func writeStatement(cw *csv.Writer, source string, st *task.StatementResult) error {
	for i, tx := range st.Transactions {
		row := []string{
			source, "transaction",
			tx.Date.Format(dateFormat),
			tx.Description,
			tx.Amount.StringFixed(2),
			st.Currency,
			string(tx.Direction),
			tx.Category,
			tx.ReferenceCode,
			tx.MatchNote,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing transaction %d: %w", i+1, err)
		}
	}

	totals := [][2]string{
		{"total_income", st.TotalIncome.StringFixed(2)},
		{"total_expense", st.TotalExpense.StringFixed(2)},
		{"net", recon.Net(st).StringFixed(2)},
	}
	if closing, ok := recon.ClosingBalance(st); ok {
		totals = append(totals, [2]string{"closing_balance", closing.StringFixed(2)})
	}

	for _, tot := range totals {
		row := []string{source, tot[0], "", "", tot[1], st.Currency, "", "", "", ""}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing %s: %w", tot[0], err)
		}
	}
	return nil
}

func writeDocument(cw *csv.Writer, source string, doc *task.DocumentResult) error {
	date := ""
	if !doc.DocumentDate.IsZero() {
		date = doc.DocumentDate.Format(dateFormat)
	}
	row := []string{
		source, "document",
		date,
		doc.Issuer,
		doc.TotalAmount.StringFixed(2),
		doc.Currency,
		"",
		doc.Category,
		doc.ReferenceCode,
		"",
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("writing document row: %w", err)
	}
	return nil
}
