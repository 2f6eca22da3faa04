package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerscan/ledgerscan/internal/task"
)

const dateFormat = "2006-01-02"

// resultFromModelOutput converts the model's generic JSON object into a typed
// extraction result, keyed on the document_kind discriminator.
func resultFromModelOutput(raw map[string]interface{}) (*task.Result, error) {
	kind, err := getStringField(raw, "document_kind", true)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "bank_statement":
		st, err := statementFromModelOutput(raw)
		if err != nil {
			return nil, err
		}
		return &task.Result{Statement: st}, nil
	case "invoice", "receipt":
		doc, err := documentFromModelOutput(raw)
		if err != nil {
			return nil, err
		}
		return &task.Result{Document: doc}, nil
	default:
		return nil, fmt.Errorf("unknown document_kind %q", kind)
	}
}

func documentFromModelOutput(raw map[string]interface{}) (*task.DocumentResult, error) {
	issuer, err := getStringField(raw, "issuer", true)
	if err != nil {
		return nil, err
	}
	dateStr, err := getStringField(raw, "document_date", true)
	if err != nil {
		return nil, err
	}
	date, err := time.Parse(dateFormat, dateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid document_date %q: %w", dateStr, err)
	}
	total, err := getFloat64Field(raw, "total_amount", true)
	if err != nil {
		return nil, err
	}
	currency, err := getStringField(raw, "currency", true)
	if err != nil {
		return nil, err
	}
	ratePtr, err := getOptionalFloat64Field(raw, "exchange_rate")
	if err != nil {
		return nil, err
	}
	rate := 1.0
	if ratePtr != nil && *ratePtr > 0 {
		rate = *ratePtr
	}
	category, err := getStringField(raw, "category", false)
	if err != nil {
		return nil, err
	}
	reference, err := getStringField(raw, "reference_code", false)
	if err != nil {
		return nil, err
	}

	totalDec := decimal.NewFromFloat(total)
	rateDec := decimal.NewFromFloat(rate)

	return &task.DocumentResult{
		Issuer:                    issuer,
		DocumentDate:              date,
		TotalAmount:               totalDec,
		Currency:                  strings.ToUpper(currency),
		ExchangeRate:              rateDec,
		AmountInReportingCurrency: totalDec.Mul(rateDec).Round(2),
		Category:                  category,
		ReferenceCode:             reference,
	}, nil
}

func statementFromModelOutput(raw map[string]interface{}) (*task.StatementResult, error) {
	currency, err := getStringField(raw, "currency", true)
	if err != nil {
		return nil, err
	}
	periodStart, err := getOptionalDateField(raw, "period_start")
	if err != nil {
		return nil, err
	}
	periodEnd, err := getOptionalDateField(raw, "period_end")
	if err != nil {
		return nil, err
	}
	openingPtr, err := getOptionalFloat64Field(raw, "opening_balance")
	if err != nil {
		return nil, err
	}

	txAny, ok := raw["transactions"]
	if !ok {
		return nil, fmt.Errorf("missing 'transactions' key in model output")
	}
	txSlice, ok := txAny.([]interface{})
	if !ok {
		return nil, fmt.Errorf("'transactions' is %T, want []interface{}", txAny)
	}

	txs := make([]task.Transaction, 0, len(txSlice))
	for i, item := range txSlice {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("transaction %d is %T, want map[string]interface{}", i, item)
		}
		tx, err := transactionFromModelOutput(obj)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		txs = append(txs, tx)
	}

	st := &task.StatementResult{
		Currency:     strings.ToUpper(currency),
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		Transactions: txs,
	}
	if openingPtr != nil {
		opening := decimal.NewFromFloat(*openingPtr)
		st.OpeningBalance = &opening
	}
	return st, nil
}

func transactionFromModelOutput(obj map[string]interface{}) (task.Transaction, error) {
	var zero task.Transaction

	dateStr, err := getStringField(obj, "date", true)
	if err != nil {
		return zero, err
	}
	date, err := time.Parse(dateFormat, dateStr)
	if err != nil {
		return zero, fmt.Errorf("invalid date %q: %w", dateStr, err)
	}
	desc, err := getStringField(obj, "description", true)
	if err != nil {
		return zero, err
	}
	amount, err := getFloat64Field(obj, "amount", true)
	if err != nil {
		return zero, err
	}
	dirStr, err := getStringField(obj, "direction", true)
	if err != nil {
		return zero, err
	}
	var direction task.Direction
	switch strings.ToLower(strings.TrimSpace(dirStr)) {
	case "income", "in", "credit":
		direction = task.DirectionIncome
	case "expense", "out", "debit":
		direction = task.DirectionExpense
	default:
		return zero, fmt.Errorf("invalid direction %q", dirStr)
	}
	category, err := getStringField(obj, "category", false)
	if err != nil {
		return zero, err
	}
	reference, err := getStringField(obj, "reference_code", false)
	if err != nil {
		return zero, err
	}

	return task.Transaction{
		Date:          date,
		Description:   desc,
		Amount:        decimal.NewFromFloat(amount).Abs(),
		Direction:     direction,
		Category:      category,
		ReferenceCode: reference,
	}, nil
}

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return val, nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

func getFloat64Field(m map[string]interface{}, key string, required bool) (float64, error) {
	v, ok := m[key]
	if !ok {
		if required {
			return 0, fmt.Errorf("missing required field %q", key)
		}
		return 0, nil
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case int: // unlikely from encoding/json, but harmless to support
		return float64(val), nil
	default:
		return 0, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}

func getOptionalFloat64Field(m map[string]interface{}, key string) (*float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case float64:
		f := val
		return &f, nil
	case int:
		f := float64(val)
		return &f, nil
	default:
		return nil, fmt.Errorf("field %q has type %T, want number or null", key, v)
	}
}

func getOptionalDateField(m map[string]interface{}, key string) (time.Time, error) {
	s, err := getStringField(m, key, false)
	if err != nil {
		return time.Time{}, err
	}
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return t, nil
}
