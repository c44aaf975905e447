package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

var errNilVector = errors.New("feature vector is nil")

// TemporalModel scores on when the transaction happened.
type TemporalModel struct{}

// NewTemporalModel creates the timing heuristic model.
func NewTemporalModel() *TemporalModel { return &TemporalModel{} }

func (m *TemporalModel) Name() string { return "TEMPORAL-HEURISTIC" }

func (m *TemporalModel) Score(ctx context.Context, tx *domain.Transaction, v *features.Vector) (domain.ModelPrediction, error) {
	if v == nil {
		return domain.ModelPrediction{}, &domain.ModelUnavailableError{ModelName: m.Name(), Err: errNilVector}
	}

	confidence := 0.25
	rationale := "Normal transaction hours"

	if v.LateNight {
		confidence = 0.6
		rationale = fmt.Sprintf("Late-night transaction at %02d:00", v.Hour)
	}
	if v.Weekend && !v.BusinessHours {
		confidence = min1(confidence + 0.1)
		if v.LateNight {
			rationale += " on a weekend"
		} else {
			rationale = "Weekend transaction outside business hours"
		}
	}

	return prediction(m.Name(), confidence, rationale), nil
}
