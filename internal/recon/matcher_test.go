package recon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerscan/ledgerscan/internal/task"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func evidence(source, issuer, category, reference, total string) task.Evidence {
	return task.Evidence{
		SourceName: source,
		Document: task.DocumentResult{
			Issuer:        issuer,
			Category:      category,
			ReferenceCode: reference,
			TotalAmount:   dec(total),
		},
	}
}

func TestMatchStatementReferenceTier(t *testing.T) {
	st := &task.StatementResult{
		Transactions: []task.Transaction{
			{Description: "WIRE TRANSFER", Amount: dec("250.00"), Direction: task.DirectionExpense, ReferenceCode: "4521"},
		},
	}
	ev := []task.Evidence{
		evidence("acme-invoice.pdf", "Acme", "Services", "INV-4521", "250.00"),
	}

	matched := MatchStatement(st, ev)

	assert.Equal(t, 1, matched)
	assert.Equal(t, "Verified: matched with acme-invoice.pdf (Acme)", st.Transactions[0].MatchNote)
}

func TestMatchStatementIssuerTier(t *testing.T) {
	st := &task.StatementResult{
		Transactions: []task.Transaction{
			{Description: "CARD PAYMENT ACME CORP LONDON", Amount: dec("100.00"), Direction: task.DirectionExpense},
		},
	}
	ev := []task.Evidence{
		evidence("acme.pdf", "Acme Corp", "Office", "", "100.03"),
	}

	matched := MatchStatement(st, ev)

	assert.Equal(t, 1, matched, "0.03 difference is inside the issuer-tier tolerance")
	assert.Equal(t, "Verified: matched with acme.pdf (Acme Corp)", st.Transactions[0].MatchNote)
}

func TestMatchStatementIssuerTierToleranceBoundary(t *testing.T) {
	st := &task.StatementResult{
		Transactions: []task.Transaction{
			{Description: "CARD PAYMENT ACME CORP", Amount: dec("100.00"), Direction: task.DirectionExpense},
		},
	}
	ev := []task.Evidence{
		evidence("acme.pdf", "Acme Corp", "", "", "100.10"),
	}

	matched := MatchStatement(st, ev)

	assert.Equal(t, 0, matched, "0.10 difference is outside every tolerance")
	assert.Empty(t, st.Transactions[0].MatchNote)
}

func TestMatchStatementAmountTier(t *testing.T) {
	st := &task.StatementResult{
		Transactions: []task.Transaction{
			{Description: "POS 99887766", Amount: dec("42.00"), Direction: task.DirectionExpense},
		},
	}
	ev := []task.Evidence{
		evidence("lunch.jpg", "Cafe Milano", "Meals", "", "42.00"),
	}

	matched := MatchStatement(st, ev)

	assert.Equal(t, 1, matched, "exact amount matches even without issuer in description")
	assert.Equal(t, "Verified: matched with lunch.jpg (Cafe Milano)", st.Transactions[0].MatchNote)
}

func TestMatchStatementTierOrder(t *testing.T) {
	// The reference tier must win over a better amount match in a later tier.
	st := &task.StatementResult{
		Transactions: []task.Transaction{
			{Description: "PAYMENT BETA LTD", Amount: dec("50.00"), Direction: task.DirectionExpense, ReferenceCode: "INV 777"},
		},
	}
	ev := []task.Evidence{
		evidence("beta.pdf", "Beta Ltd", "", "", "50.00"),
		evidence("gamma.pdf", "Gamma", "", "777", "49.00"),
	}

	MatchStatement(st, ev)

	assert.Equal(t, "Verified: matched with gamma.pdf (Gamma)", st.Transactions[0].MatchNote)
}

func TestMatchStatementFirstCandidateWins(t *testing.T) {
	st := &task.StatementResult{
		Transactions: []task.Transaction{
			{Description: "POS", Amount: dec("10.00"), Direction: task.DirectionExpense},
		},
	}
	ev := []task.Evidence{
		evidence("first.pdf", "First", "", "", "10.00"),
		evidence("second.pdf", "Second", "", "", "10.00"),
	}

	MatchStatement(st, ev)

	assert.Equal(t, "Verified: matched with first.pdf (First)", st.Transactions[0].MatchNote)
}

func TestMatchStatementIdempotent(t *testing.T) {
	st := &task.StatementResult{
		Transactions: []task.Transaction{
			{Description: "POS", Amount: dec("10.00"), Direction: task.DirectionExpense},
		},
	}
	ev := []task.Evidence{
		evidence("first.pdf", "First", "", "", "10.00"),
	}

	require.Equal(t, 1, MatchStatement(st, ev))
	note := st.Transactions[0].MatchNote

	// A second run with different evidence must not touch the annotation.
	other := []task.Evidence{
		evidence("other.pdf", "Other", "", "", "10.00"),
	}
	assert.Equal(t, 0, MatchStatement(st, other))
	assert.Equal(t, note, st.Transactions[0].MatchNote)
}

func TestMatchStatementInheritsCategoryWhenEmpty(t *testing.T) {
	st := &task.StatementResult{
		Transactions: []task.Transaction{
			{Description: "POS A", Amount: dec("10.00"), Direction: task.DirectionExpense},
			{Description: "POS B", Amount: dec("20.00"), Direction: task.DirectionExpense, Category: "Travel"},
		},
	}
	ev := []task.Evidence{
		evidence("a.pdf", "A", "Meals", "", "10.00"),
		evidence("b.pdf", "B", "Office", "", "20.00"),
	}

	MatchStatement(st, ev)

	assert.Equal(t, "Meals", st.Transactions[0].Category, "empty category inherited from evidence")
	assert.Equal(t, "Travel", st.Transactions[1].Category, "existing category preserved")
}

func TestMatchStatementSkipsEmptyReferences(t *testing.T) {
	// Evidence whose reference holds no digits must not match a transaction
	// with a digitless reference on the reference tier.
	st := &task.StatementResult{
		Transactions: []task.Transaction{
			{Description: "MISC", Amount: dec("500.00"), Direction: task.DirectionExpense, ReferenceCode: "REF-"},
		},
	}
	ev := []task.Evidence{
		evidence("x.pdf", "X", "", "ABC", "9999.00"),
	}

	assert.Equal(t, 0, MatchStatement(st, ev))
}

func TestMatchStatementNoEvidence(t *testing.T) {
	st := &task.StatementResult{
		Transactions: []task.Transaction{
			{Description: "POS", Amount: dec("10.00"), Direction: task.DirectionExpense},
		},
	}
	assert.Equal(t, 0, MatchStatement(st, nil))
	assert.Equal(t, 0, MatchStatement(nil, []task.Evidence{evidence("a.pdf", "A", "", "", "10.00")}))
}
