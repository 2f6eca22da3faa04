package recon

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ledgerscan/ledgerscan/internal/task"
)

// Recompute rebuilds TotalIncome and TotalExpense from scratch over the
// current transaction sequence. Totals are never adjusted incrementally, so
// repeated edits cannot drift.
func Recompute(st *task.StatementResult) {
	income := decimal.Zero
	expense := decimal.Zero
	for _, tx := range st.Transactions {
		switch tx.Direction {
		case task.DirectionIncome:
			income = income.Add(tx.Amount)
		case task.DirectionExpense:
			expense = expense.Add(tx.Amount)
		}
	}
	st.TotalIncome = income
	st.TotalExpense = expense
}

// Net returns income minus expense.
func Net(st *task.StatementResult) decimal.Decimal {
	return st.TotalIncome.Sub(st.TotalExpense)
}

// ClosingBalance returns opening balance plus net. The second return is false
// when no opening balance was extracted.
func ClosingBalance(st *task.StatementResult) (decimal.Decimal, bool) {
	if st.OpeningBalance == nil {
		return decimal.Zero, false
	}
	return st.OpeningBalance.Add(Net(st)), true
}

// AddTransaction appends a manually entered transaction and recomputes
// totals.
func AddTransaction(st *task.StatementResult, tx task.Transaction) {
	st.Transactions = append(st.Transactions, tx)
	Recompute(st)
}

// UpdateTransaction replaces the transaction at index i and recomputes
// totals.
func UpdateTransaction(st *task.StatementResult, i int, tx task.Transaction) error {
	if i < 0 || i >= len(st.Transactions) {
		return fmt.Errorf("UpdateTransaction: index %d out of range (%d transactions)", i, len(st.Transactions))
	}
	st.Transactions[i] = tx
	Recompute(st)
	return nil
}

// DeleteTransaction removes the transaction at index i and recomputes
// totals.
func DeleteTransaction(st *task.StatementResult, i int) error {
	if i < 0 || i >= len(st.Transactions) {
		return fmt.Errorf("DeleteTransaction: index %d out of range (%d transactions)", i, len(st.Transactions))
	}
	st.Transactions = append(st.Transactions[:i], st.Transactions[i+1:]...)
	Recompute(st)
	return nil
}
