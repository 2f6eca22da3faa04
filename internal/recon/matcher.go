// Package recon links extracted bank-statement transactions to supporting
// evidence documents and keeps statement totals consistent.
package recon

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ledgerscan/ledgerscan/internal/task"
)

// matchNotePrefix marks a transaction as already reconciled; re-matching such
// a transaction is a no-op so manual overrides survive.
const matchNotePrefix = "Verified"

var (
	// issuerAmountTolerance applies when the issuer name also appears in the
	// transaction description.
	issuerAmountTolerance = decimal.New(5, -2) // 0.05

	// bareAmountTolerance applies when the amount is the only signal, so it
	// is tighter.
	bareAmountTolerance = decimal.New(1, -2) // 0.01
)

// MatchStatement annotates each transaction of st with a link to the first
// matching evidence document. Tiers are tried in strict order per
// transaction; the first tier that yields any match wins, and within a tier
// the first candidate in evidence order is used. Unmatched transactions are
// left untouched; that is not an error. Returns the number of transactions
// annotated by this call.
func MatchStatement(st *task.StatementResult, evidence []task.Evidence) int {
	if st == nil || len(evidence) == 0 {
		return 0
	}

	matched := 0
	for i := range st.Transactions {
		tx := &st.Transactions[i]
		if strings.HasPrefix(tx.MatchNote, matchNotePrefix) {
			continue
		}

		ev, ok := findMatch(tx, evidence)
		if !ok {
			continue
		}

		tx.MatchNote = fmt.Sprintf("Verified: matched with %s (%s)", ev.SourceName, ev.Document.Issuer)
		if tx.Category == "" {
			tx.Category = ev.Document.Category
		}
		matched++
	}
	return matched
}

// findMatch evaluates the three match tiers for a single transaction.
func findMatch(tx *task.Transaction, evidence []task.Evidence) (task.Evidence, bool) {
	// Tier 1: digit-normalized reference equality. Evidence without digits in
	// its reference never matches on this tier.
	if ref := digitsOnly(tx.ReferenceCode); ref != "" {
		for _, ev := range evidence {
			if d := digitsOnly(ev.Document.ReferenceCode); d != "" && d == ref {
				return ev, true
			}
		}
	}

	// Tier 2: amount within tolerance plus the issuer name appearing in the
	// statement description.
	desc := strings.ToLower(tx.Description)
	for _, ev := range evidence {
		issuer := strings.TrimSpace(ev.Document.Issuer)
		if issuer == "" {
			continue
		}
		if amountWithin(ev.Document.TotalAmount, tx.Amount, issuerAmountTolerance) &&
			strings.Contains(desc, strings.ToLower(issuer)) {
			return ev, true
		}
	}

	// Tier 3: amount alone, last resort.
	for _, ev := range evidence {
		if amountWithin(ev.Document.TotalAmount, tx.Amount, bareAmountTolerance) {
			return ev, true
		}
	}

	return task.Evidence{}, false
}

func amountWithin(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(tolerance)
}

// digitsOnly strips every non-digit character, so "INV-4521" and "4521"
// compare equal.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
