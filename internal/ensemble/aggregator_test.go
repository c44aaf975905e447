package ensemble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/models"
)

// stubScorer is a fixed-output model for aggregation tests.
type stubScorer struct {
	name       string
	confidence float64
	rationale  string
	err        error
	delay      time.Duration
}

func (s *stubScorer) Name() string { return s.name }

func (s *stubScorer) Score(ctx context.Context, tx *domain.Transaction, v *features.Vector) (domain.ModelPrediction, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.ModelPrediction{}, ctx.Err()
		}
	}
	if s.err != nil {
		return domain.ModelPrediction{}, s.err
	}
	return domain.ModelPrediction{
		ModelName:  s.name,
		Confidence: s.confidence,
		Flagged:    s.confidence >= 0.5,
		Rationale:  s.rationale,
	}, nil
}

func testConfig() domain.EngineConfig {
	return domain.EngineConfig{
		FraudThreshold: 0.7,
		StoreThreshold: 0.5,
		ModelTimeout:   100 * time.Millisecond,
	}
}

func pendingTx() *domain.Transaction {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	return &domain.Transaction{
		ID:        "tx-001",
		Reference: "REF-001",
		Type:      domain.TypeTransfer,
		Amount:    250,
		Status:    domain.StatusPending,
		UserID:    "user-001",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("MeanBelowThreshold", func(t *testing.T) {
		agg := New([]models.Scorer{
			&stubScorer{name: "A", confidence: 0.6, rationale: "a"},
			&stubScorer{name: "B", confidence: 0.5, rationale: "b"},
			&stubScorer{name: "C", confidence: 0.6, rationale: "c"},
		}, testConfig())

		result, err := agg.Evaluate(ctx, pendingTx(), nil)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}

		if result.Confidence != 0.5667 {
			t.Errorf("expected mean 0.5667, got %v", result.Confidence)
		}
		if result.IsFraud {
			t.Error("0.5667 should not cross the 0.7 threshold")
		}
		if len(result.Predictions) != 3 {
			t.Errorf("expected 3 predictions, got %d", len(result.Predictions))
		}
	})

	t.Run("MeanAtThreshold", func(t *testing.T) {
		agg := New([]models.Scorer{
			&stubScorer{name: "A", confidence: 0.8, rationale: "high amount"},
			&stubScorer{name: "B", confidence: 0.7, rationale: "timing"},
			&stubScorer{name: "C", confidence: 0.9, rationale: "deviation"},
		}, testConfig())

		result, err := agg.Evaluate(ctx, pendingTx(), nil)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}

		if result.Confidence != 0.8 {
			t.Errorf("expected mean 0.8, got %v", result.Confidence)
		}
		if !result.IsFraud {
			t.Error("0.8 should cross the 0.7 threshold")
		}
		if result.PrimaryReason != "deviation" {
			t.Errorf("expected primary reason from highest model, got %q", result.PrimaryReason)
		}
	})

	t.Run("PrimaryReasonTieBreak", func(t *testing.T) {
		agg := New([]models.Scorer{
			&stubScorer{name: "FIRST", confidence: 0.6, rationale: "first registered"},
			&stubScorer{name: "SECOND", confidence: 0.6, rationale: "second registered"},
		}, testConfig())

		result, err := agg.Evaluate(ctx, pendingTx(), nil)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if result.PrimaryReason != "first registered" {
			t.Errorf("tie should go to first registered model, got %q", result.PrimaryReason)
		}
	})

	t.Run("PartialFailure", func(t *testing.T) {
		agg := New([]models.Scorer{
			&stubScorer{name: "A", confidence: 0.6, rationale: "a"},
			&stubScorer{name: "B", err: &domain.ModelUnavailableError{ModelName: "B", Err: errors.New("down")}},
			&stubScorer{name: "C", confidence: 0.8, rationale: "c"},
		}, testConfig())

		result, err := agg.Evaluate(ctx, pendingTx(), nil)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}

		if len(result.Predictions) != 2 {
			t.Errorf("expected 2 surviving predictions, got %d", len(result.Predictions))
		}
		if len(result.FailedModels) != 1 {
			t.Fatalf("expected 1 failed model, got %d", len(result.FailedModels))
		}
		if result.FailedModels[0].ModelName != "B" {
			t.Errorf("expected failure recorded for B, got %s", result.FailedModels[0].ModelName)
		}
		// Mean over survivors only: (0.6 + 0.8) / 2
		if result.Confidence != 0.7 {
			t.Errorf("expected mean 0.7 over survivors, got %v", result.Confidence)
		}
	})

	t.Run("AllModelsFail", func(t *testing.T) {
		agg := New([]models.Scorer{
			&stubScorer{name: "A", err: errors.New("down")},
			&stubScorer{name: "B", err: errors.New("down")},
		}, testConfig())

		_, err := agg.Evaluate(ctx, pendingTx(), nil)
		var ensErr *domain.EnsembleEvaluationError
		if !errors.As(err, &ensErr) {
			t.Fatalf("expected EnsembleEvaluationError, got %v", err)
		}
		if len(ensErr.Failures) != 2 {
			t.Errorf("expected 2 recorded failures, got %d", len(ensErr.Failures))
		}
	})

	t.Run("ModelTimeout", func(t *testing.T) {
		agg := New([]models.Scorer{
			&stubScorer{name: "FAST", confidence: 0.6, rationale: "fast"},
			&stubScorer{name: "SLOW", confidence: 0.9, rationale: "slow", delay: time.Second},
		}, testConfig())

		result, err := agg.Evaluate(ctx, pendingTx(), nil)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}

		if len(result.Predictions) != 1 {
			t.Fatalf("expected only the fast model to survive, got %d", len(result.Predictions))
		}
		if result.Predictions[0].ModelName != "FAST" {
			t.Errorf("expected FAST prediction, got %s", result.Predictions[0].ModelName)
		}
		if len(result.FailedModels) != 1 || result.FailedModels[0].ModelName != "SLOW" {
			t.Errorf("expected SLOW recorded as failed: %+v", result.FailedModels)
		}
	})

	t.Run("OutOfRangeConfidence", func(t *testing.T) {
		agg := New([]models.Scorer{
			&stubScorer{name: "A", confidence: 0.5, rationale: "a"},
			&stubScorer{name: "BAD", confidence: 1.5, rationale: "broken"},
		}, testConfig())

		_, err := agg.Evaluate(ctx, pendingTx(), nil)
		if err == nil {
			t.Fatal("expected error for out-of-range confidence")
		}
		// Fail-fast is a plain error, not a model failure record.
		var ensErr *domain.EnsembleEvaluationError
		if errors.As(err, &ensErr) {
			t.Error("out-of-range confidence must not degrade to an ensemble failure")
		}
	})

	t.Run("BadInput", func(t *testing.T) {
		agg := New([]models.Scorer{
			&stubScorer{name: "A", confidence: 0.5, rationale: "a"},
		}, testConfig())

		tx := pendingTx()
		tx.Type = "LOAN"

		_, err := agg.Evaluate(ctx, tx, nil)
		var feErr *domain.FeatureExtractionError
		if !errors.As(err, &feErr) {
			t.Fatalf("expected FeatureExtractionError, got %v", err)
		}
	})

	t.Run("NoModels", func(t *testing.T) {
		agg := New(nil, testConfig())
		if _, err := agg.Evaluate(ctx, pendingTx(), nil); err == nil {
			t.Fatal("expected error with no registered models")
		}
	})
}
