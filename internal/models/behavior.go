package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// BehaviorModel scores on deviation from the user's historical
// behavior: amount relative to their average, account age in
// transaction count, and submission velocity. Requires user aggregates
// in the vector; a vector built without them means the lookup
// collaborator was down, which is a ModelUnavailableError, not a
// default score.
type BehaviorModel struct{}

// burstVelocityLimit is the number of evaluations within the velocity
// window at which a user's submission rate itself becomes suspicious.
const burstVelocityLimit = 5

// NewBehaviorModel creates the behavioral deviation model.
func NewBehaviorModel() *BehaviorModel { return &BehaviorModel{} }

func (m *BehaviorModel) Name() string { return "BEHAVIOR-HEURISTIC" }

var errNoAggregates = errors.New("user aggregates missing from feature vector")

func (m *BehaviorModel) Score(ctx context.Context, tx *domain.Transaction, v *features.Vector) (domain.ModelPrediction, error) {
	if v == nil {
		return domain.ModelPrediction{}, &domain.ModelUnavailableError{ModelName: m.Name(), Err: errNilVector}
	}
	if !v.AggregatesPresent {
		return domain.ModelPrediction{}, &domain.ModelUnavailableError{ModelName: m.Name(), Err: errNoAggregates}
	}
	if v.UserTxCount == 0 || v.UserAvgAmount <= 0 {
		// A genuinely new user has no history; score on composite
		// risk alone.
		confidence := 0.3 + 0.3*v.CompositeRisk
		confidence, rationale := velocityAdjust(v, confidence, "First transaction for user")
		return prediction(m.Name(), confidence, rationale), nil
	}

	confidence := 0.3
	rationale := "Consistent with user history"

	switch {
	case v.AmountDeviation >= 10:
		confidence = 0.7
		rationale = fmt.Sprintf("Amount is %.0fx the user average of $%.2f", v.AmountDeviation, v.UserAvgAmount)
	case v.AmountDeviation >= 5:
		confidence = 0.55
		rationale = fmt.Sprintf("Amount is %.0fx the user average of $%.2f", v.AmountDeviation, v.UserAvgAmount)
	case v.AmountDeviation >= 3:
		confidence = 0.45
		rationale = fmt.Sprintf("Amount exceeds %.1fx the user average", v.AmountDeviation)
	}

	// Thin history makes deviation less reliable but the account more
	// interesting.
	if v.UserTxCount < 5 && confidence >= 0.45 {
		confidence = min1(confidence + 0.05)
		rationale += " (limited history)"
	}

	confidence, rationale = velocityAdjust(v, confidence, rationale)

	return prediction(m.Name(), confidence, rationale), nil
}

// velocityAdjust raises the score when the user is submitting in
// bursts. A zero RecentTxCount means the counter was unavailable and
// the score is left alone.
func velocityAdjust(v *features.Vector, confidence float64, rationale string) (float64, string) {
	if v.RecentTxCount >= burstVelocityLimit {
		confidence = min1(confidence + 0.15)
		rationale += fmt.Sprintf("; %d transactions in the velocity window", v.RecentTxCount)
	}
	return confidence, rationale
}
