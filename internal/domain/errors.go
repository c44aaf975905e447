package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for lookup failures. The engine never surfaces a raw
// error for a domain condition; every failure is one of the kinds below.
var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicateReference = errors.New("transaction reference already exists")
	ErrValidation         = errors.New("validation failed")
)

// FeatureExtractionError reports bad or missing input to the feature
// extractor. The caller treats this as "cannot score" and leaves the
// transaction pending.
type FeatureExtractionError struct {
	Field  string
	Reason string
}

func (e *FeatureExtractionError) Error() string {
	return fmt.Sprintf("feature extraction failed: %s: %s", e.Field, e.Reason)
}

// ModelUnavailableError reports a single scoring model that could not
// evaluate. The aggregator excludes it and continues.
type ModelUnavailableError struct {
	ModelName string
	Err       error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %s unavailable: %v", e.ModelName, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// EnsembleEvaluationError reports that every registered model failed,
// which is fatal for the evaluation. The transaction stays unscored.
type EnsembleEvaluationError struct {
	TransactionID string
	Failures      []ModelFailure
}

func (e *EnsembleEvaluationError) Error() string {
	return fmt.Sprintf("ensemble evaluation failed for transaction %s: all %d models failed",
		e.TransactionID, len(e.Failures))
}

// InvalidStateTransitionError reports an illegal lifecycle move. The
// transition is rejected and no mutation occurs.
type InvalidStateTransitionError struct {
	From TransactionStatus
	To   TransactionStatus
	Role Role
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s (role %s)", e.From, e.To, e.Role)
}
