// Package engine is the fraud-decision core: it evaluates each
// transaction synchronously through the ensemble, applies the
// lifecycle decision atomically, and persists the categorized pattern
// record. All status/score mutation flows through this package,
// serialized per transaction id.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/aggregates"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/lifecycle"
	"github.com/opensource-finance/kestrel/internal/patterns"
)

var tracer = otel.Tracer("kestrel-engine")

// velocityWindow bounds the per-user submission counter consumed by
// the behavior model.
const velocityWindow = 10 * time.Minute

// Engine wires the aggregator, categorizer and lifecycle over the
// persistence collaborator. The event bus is decoration: the core
// contract is synchronous, bounded-latency evaluation.
type Engine struct {
	repo        domain.Repository
	aggregator  *ensemble.Aggregator
	categorizer *patterns.Categorizer
	aggregates  *aggregates.Service
	bus         domain.EventBus

	txLocks *keyedMutex
}

// New creates the decision engine.
func New(repo domain.Repository, agg *ensemble.Aggregator, cat *patterns.Categorizer, lookup *aggregates.Service, bus domain.EventBus) *Engine {
	return &Engine{
		repo:        repo,
		aggregator:  agg,
		categorizer: cat,
		aggregates:  lookup,
		bus:         bus,
		txLocks:     newKeyedMutex(),
	}
}

// Submit validates and persists a new PENDING transaction, then runs
// the synchronous evaluation. The caller receives the final decision
// before the request completes.
func (e *Engine) Submit(ctx context.Context, req *domain.TransactionRequest) (*domain.Decision, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	tx := req.ToTransaction(uuid.New().String())

	if err := e.repo.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}

	decision, evalErr := e.EvaluateAndDecide(ctx, tx.ID)

	// Published after the synchronous evaluation so async consumers can
	// only ever re-drive a transaction that stayed PENDING, never race
	// the submitter for the decision.
	e.publish(ctx, domain.TopicTransactionSubmitted, tx)

	if evalErr != nil {
		return nil, evalErr
	}
	return decision, nil
}

// EvaluateAndDecide runs the ensemble for the transaction and applies
// the resulting lifecycle transition once, atomically, at the end.
//
// Failure policy is fail-pending: if the ensemble cannot score the
// transaction (bad input or every model down) it stays PENDING and the
// decision reports it as awaiting manual review. It is never silently
// approved or blocked.
func (e *Engine) EvaluateAndDecide(ctx context.Context, txID string) (*domain.Decision, error) {
	ctx, span := tracer.Start(ctx, "engine.EvaluateAndDecide")
	defer span.End()
	span.SetAttributes(attribute.String("tx.id", txID))

	e.txLocks.Lock(txID)
	defer e.txLocks.Unlock(txID)

	tx, err := e.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusPending {
		return nil, &domain.InvalidStateTransitionError{From: tx.Status, To: tx.Status, Role: domain.RoleSystem}
	}

	userAgg := e.lookupAggregates(ctx, tx.UserID)

	result, err := e.aggregator.Evaluate(ctx, tx, userAgg)
	if err != nil {
		var feErr *domain.FeatureExtractionError
		var ensErr *domain.EnsembleEvaluationError
		if errors.As(err, &feErr) || errors.As(err, &ensErr) {
			slog.Error("transaction could not be scored, awaiting manual review",
				"tx_id", tx.ID,
				"error", err,
			)
			return &domain.Decision{Transaction: tx, AwaitingReview: true}, nil
		}
		return nil, err
	}

	decision, err := e.applyDecision(ctx, tx, result)
	if err != nil {
		return nil, err
	}

	slog.Info("transaction decided",
		"tx_id", tx.ID,
		"reference", tx.Reference,
		"status", decision.Transaction.Status,
		"confidence", result.Confidence,
		"models", len(result.Predictions),
		"failed_models", len(result.FailedModels),
	)

	return decision, nil
}

// applyDecision maps the ensemble result to a lifecycle transition,
// persists the updated transaction, and stores the pattern when the
// confidence meets the storage threshold.
func (e *Engine) applyDecision(ctx context.Context, tx *domain.Transaction, result *domain.FraudResult) (*domain.Decision, error) {
	target := domain.StatusCompleted
	if result.IsFraud {
		target = domain.StatusFraudDetected
	}

	if err := lifecycle.Validate(tx.Status, target, domain.RoleSystem); err != nil {
		return nil, err
	}

	score := result.Confidence
	tx.Status = target
	tx.FraudScore = &score
	tx.UpdatedAt = time.Now().UTC()

	if err := e.repo.UpdateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}

	if e.aggregates != nil {
		e.aggregates.Invalidate(ctx, tx.UserID)
	}

	decision := &domain.Decision{Transaction: tx, Result: result}

	if e.categorizer.ShouldStore(result.Confidence) {
		pattern := e.categorizer.Categorize(tx, result)
		if err := e.repo.SavePattern(ctx, pattern); err != nil {
			return nil, fmt.Errorf("failed to save pattern: %w", err)
		}
		decision.Pattern = pattern
		e.publish(ctx, domain.TopicPatternDetected, pattern)

		slog.Info("pattern stored",
			"pattern_id", pattern.ID,
			"tx_id", tx.ID,
			"type", pattern.Type,
			"confidence", pattern.Confidence,
		)
	}

	e.publish(ctx, domain.TopicTransactionDecided, decision)

	return decision, nil
}

// Cancel moves a still-pending transaction to CANCELLED. Only the
// owner or an administrator may trigger it.
func (e *Engine) Cancel(ctx context.Context, txID string, actor domain.Actor) (*domain.Transaction, error) {
	return e.transition(ctx, txID, domain.StatusCancelled, actor, func(tx *domain.Transaction) error {
		if actor.Role == domain.RoleOwner && actor.ID != tx.UserID {
			return &domain.InvalidStateTransitionError{From: tx.Status, To: domain.StatusCancelled, Role: actor.Role}
		}
		return nil
	})
}

// Retry moves a FAILED transaction back to PENDING. Administrative
// action only; the transaction can then be re-evaluated.
func (e *Engine) Retry(ctx context.Context, txID string, actor domain.Actor) (*domain.Transaction, error) {
	return e.transition(ctx, txID, domain.StatusPending, actor, nil)
}

// Override moves a FRAUD_DETECTED transaction to COMPLETED after human
// review. Administrative action only.
func (e *Engine) Override(ctx context.Context, txID string, actor domain.Actor) (*domain.Transaction, error) {
	return e.transition(ctx, txID, domain.StatusCompleted, actor, nil)
}

// MarkFailed records a system-level processing failure.
func (e *Engine) MarkFailed(ctx context.Context, txID string) (*domain.Transaction, error) {
	return e.transition(ctx, txID, domain.StatusFailed, domain.Actor{Role: domain.RoleSystem}, nil)
}

// transition is the single authorized mutation path for explicit
// status changes, serialized per transaction id like evaluations.
func (e *Engine) transition(ctx context.Context, txID string, target domain.TransactionStatus, actor domain.Actor, check func(*domain.Transaction) error) (*domain.Transaction, error) {
	e.txLocks.Lock(txID)
	defer e.txLocks.Unlock(txID)

	tx, err := e.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	if check != nil {
		if err := check(tx); err != nil {
			return nil, err
		}
	}

	if err := lifecycle.Validate(tx.Status, target, actor.Role); err != nil {
		return nil, err
	}

	from := tx.Status
	tx.Status = target
	tx.UpdatedAt = time.Now().UTC()

	if err := e.repo.UpdateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}

	slog.Info("transaction transitioned",
		"tx_id", tx.ID,
		"from", from,
		"to", target,
		"actor_id", actor.ID,
		"actor_role", actor.Role,
	)

	return tx, nil
}

// ReviewPattern records reviewer identity, timestamp and notes against
// a stored pattern. Re-reviewing overwrites the notes but never clears
// the reviewed flag.
func (e *Engine) ReviewPattern(ctx context.Context, patternID, reviewerID, notes string) (*domain.FraudPattern, error) {
	if reviewerID == "" {
		return nil, fmt.Errorf("reviewerID is required")
	}

	pattern, err := e.repo.GetPattern(ctx, patternID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	pattern.Reviewed = true
	pattern.ReviewedBy = reviewerID
	pattern.ReviewedAt = &now
	pattern.ReviewNotes = notes

	if err := e.repo.UpdatePatternReview(ctx, pattern); err != nil {
		return nil, fmt.Errorf("failed to update pattern review: %w", err)
	}

	e.publish(ctx, domain.TopicPatternReviewed, pattern)

	slog.Info("pattern reviewed",
		"pattern_id", pattern.ID,
		"reviewer_id", reviewerID,
	)

	return pattern, nil
}

// lookupAggregates fetches user statistics for the feature extractor
// and bumps the per-user velocity counter for this evaluation. A
// lookup failure is not fatal: models that require aggregates report
// themselves unavailable and the rest of the ensemble still runs.
func (e *Engine) lookupAggregates(ctx context.Context, userID string) *domain.UserAggregates {
	if e.aggregates == nil {
		return nil
	}
	agg, err := e.aggregates.Lookup(ctx, userID)
	if err != nil {
		slog.Warn("user aggregate lookup failed", "user_id", userID, "error", err)
		return nil
	}

	if count, err := e.aggregates.Velocity(ctx, userID, velocityWindow); err == nil {
		agg.RecentCount = count
	} else {
		slog.Debug("velocity counter unavailable", "user_id", userID, "error", err)
	}

	return agg
}

func (e *Engine) publish(ctx context.Context, topic string, payload any) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, topic, data); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func validateRequest(req *domain.TransactionRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is required", domain.ErrValidation)
	}
	if req.Reference == "" {
		return fmt.Errorf("%w: reference is required", domain.ErrValidation)
	}
	if req.UserID == "" {
		return fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	if !domain.ValidType(req.Type) {
		return fmt.Errorf("%w: unknown transaction type %q", domain.ErrValidation, req.Type)
	}
	if req.Amount < domain.MinAmount {
		return fmt.Errorf("%w: amount must be at least %.2f", domain.ErrValidation, domain.MinAmount)
	}
	return nil
}
