// Package ensemble runs all registered scoring models against one
// transaction and combines their outputs into a single fraud-detection
// result. The fan-out is embarrassingly parallel: models share the
// pre-built feature vector and nothing else.
package ensemble

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/models"
)

// Aggregator evaluates the registered models and aggregates their
// confidences by unweighted arithmetic mean. Registration order is
// fixed and breaks primary-reason ties (first registered wins).
//
// The structurally similar credit-risk assessor uses fixed differing
// weights per model; this aggregator deliberately does not.
type Aggregator struct {
	scorers        []models.Scorer
	fraudThreshold float64
	modelTimeout   time.Duration
}

// New creates an aggregator over the given models, in registration
// order. Thresholds come from configuration, never from literals here.
func New(scorers []models.Scorer, cfg domain.EngineConfig) *Aggregator {
	timeout := cfg.ModelTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Aggregator{
		scorers:        scorers,
		fraudThreshold: cfg.FraudThreshold,
		modelTimeout:   timeout,
	}
}

// ModelCount returns the number of registered models.
func (a *Aggregator) ModelCount() int { return len(a.scorers) }

// scoreOutcome is the fan-in record for one model run.
type scoreOutcome struct {
	prediction domain.ModelPrediction
	err        error
}

// Evaluate builds the feature vector once, fans out every model, and
// aggregates the survivors. A model that fails or does not respond
// within the timeout is excluded and recorded; if all models fail the
// evaluation fails with an EnsembleEvaluationError and the transaction
// is left unscored.
func (a *Aggregator) Evaluate(ctx context.Context, tx *domain.Transaction, agg *domain.UserAggregates) (*domain.FraudResult, error) {
	if len(a.scorers) == 0 {
		return nil, fmt.Errorf("no models registered")
	}

	vector, err := features.Extract(tx, agg)
	if err != nil {
		return nil, err
	}

	outcomes := make([]scoreOutcome, len(a.scorers))
	var wg sync.WaitGroup

	for i, scorer := range a.scorers {
		wg.Add(1)
		go func(idx int, s models.Scorer) {
			defer wg.Done()
			outcomes[idx] = a.runModel(ctx, s, tx, vector)
		}(i, scorer)
	}

	wg.Wait()

	result := &domain.FraudResult{EvaluatedAt: time.Now().UTC()}

	var sum float64
	for i, out := range outcomes {
		if out.err != nil {
			result.FailedModels = append(result.FailedModels, domain.ModelFailure{
				ModelName: a.scorers[i].Name(),
				Reason:    out.err.Error(),
			})
			continue
		}
		p := out.prediction
		if p.Confidence < 0 || p.Confidence > 1 {
			// A confidence outside [0,1] is a programming error in the
			// model; never clamp or renormalize it.
			return nil, fmt.Errorf("model %s returned confidence %v outside [0,1]", p.ModelName, p.Confidence)
		}
		result.Predictions = append(result.Predictions, p)
		sum += p.Confidence
	}

	if len(result.Predictions) == 0 {
		return nil, &domain.EnsembleEvaluationError{
			TransactionID: tx.ID,
			Failures:      result.FailedModels,
		}
	}

	result.Confidence = roundConfidence(sum / float64(len(result.Predictions)))
	result.IsFraud = result.Confidence >= a.fraudThreshold
	result.PrimaryReason = primaryReason(result.Predictions)

	return result, nil
}

// runModel executes one scorer with a bounded timeout. A model that
// hangs is treated as failed for this evaluation rather than stalling
// the transaction.
func (a *Aggregator) runModel(ctx context.Context, s models.Scorer, tx *domain.Transaction, v *features.Vector) scoreOutcome {
	modelCtx, cancel := context.WithTimeout(ctx, a.modelTimeout)
	defer cancel()

	done := make(chan scoreOutcome, 1)
	start := time.Now()

	go func() {
		p, err := s.Score(modelCtx, tx, v)
		p.ProcessMs = time.Since(start).Milliseconds()
		done <- scoreOutcome{prediction: p, err: err}
	}()

	select {
	case out := <-done:
		return out
	case <-modelCtx.Done():
		return scoreOutcome{err: &domain.ModelUnavailableError{ModelName: s.Name(), Err: modelCtx.Err()}}
	}
}

// primaryReason picks the rationale of the model with the highest
// confidence. Predictions arrive in registration order, so a strict
// comparison makes the first registered model win ties.
func primaryReason(predictions []domain.ModelPrediction) string {
	best := predictions[0]
	for _, p := range predictions[1:] {
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	return best.Rationale
}

// roundConfidence rounds to 4 decimal places for storage and display.
func roundConfidence(c float64) float64 {
	return math.Round(c*10000) / 10000
}
