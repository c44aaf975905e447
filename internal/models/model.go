// Package models provides the scoring model implementations behind the
// ensemble. Every model is a pure, stateless evaluator exposing the
// same interface, so a future learned scorer can be substituted
// without touching the aggregator.
package models

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Scorer is the uniform scoring interface. Implementations are
// side-effect-free and hold no per-call state. A model that cannot
// evaluate must fail with a ModelUnavailableError rather than silently
// returning a default.
type Scorer interface {
	// Name returns the stable model identifier recorded in predictions.
	Name() string

	// Score evaluates one transaction against the pre-built feature
	// vector and returns a confidence in [0,1], a binary flag, and a
	// short rationale.
	Score(ctx context.Context, tx *domain.Transaction, v *features.Vector) (domain.ModelPrediction, error)
}

// flagCutoff is the per-model confidence at which the binary flag is
// raised. It is a model property, distinct from the engine's
// aggregated fraud threshold.
const flagCutoff = 0.5

// prediction builds a ModelPrediction with the flag derived from the
// confidence.
func prediction(name string, confidence float64, rationale string) domain.ModelPrediction {
	return domain.ModelPrediction{
		ModelName:  name,
		Confidence: confidence,
		Flagged:    confidence >= flagCutoff,
		Rationale:  rationale,
	}
}
