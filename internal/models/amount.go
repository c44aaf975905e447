package models

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Threshold rules shared by the heuristic models. Placeholders for a
// learned scorer satisfying the same signature.
const (
	highAmountLimit    = 10000.0
	extremeAmountLimit = 25000.0
)

// AmountModel scores on transaction amount magnitude.
type AmountModel struct{}

// NewAmountModel creates the amount heuristic model.
func NewAmountModel() *AmountModel { return &AmountModel{} }

func (m *AmountModel) Name() string { return "AMOUNT-HEURISTIC" }

func (m *AmountModel) Score(ctx context.Context, tx *domain.Transaction, v *features.Vector) (domain.ModelPrediction, error) {
	if v == nil {
		return domain.ModelPrediction{}, &domain.ModelUnavailableError{ModelName: m.Name(), Err: errNilVector}
	}

	confidence := 0.2
	rationale := "Normal transaction amount"

	switch {
	case v.Amount > extremeAmountLimit:
		confidence = 0.8
		rationale = fmt.Sprintf("Extreme transaction amount $%.2f", v.Amount)
	case v.Amount > highAmountLimit:
		confidence = 0.6
		rationale = fmt.Sprintf("High transaction amount $%.2f", v.Amount)
	}

	// Withdrawals of large sums carry extra weight.
	if confidence >= 0.6 && tx.Type == domain.TypeWithdrawal {
		confidence = min1(confidence + 0.1)
		rationale += " on withdrawal"
	}

	return prediction(m.Name(), confidence, rationale), nil
}

func min1(f float64) float64 {
	if f > 1.0 {
		return 1.0
	}
	return f
}
