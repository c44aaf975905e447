package domain

import "time"

// ModelPrediction is the output of a single scoring model for one
// transaction.
type ModelPrediction struct {
	ModelName  string  `json:"modelName"`
	Confidence float64 `json:"confidence"` // [0,1]
	Flagged    bool    `json:"flagged"`
	Rationale  string  `json:"rationale"`
	ProcessMs  int64   `json:"processMs"`
}

// ModelFailure records a model that was excluded from aggregation.
type ModelFailure struct {
	ModelName string `json:"modelName"`
	Reason    string `json:"reason"`
}

// FraudResult is the aggregated outcome of one ensemble evaluation.
type FraudResult struct {
	IsFraud       bool              `json:"isFraud"`
	Confidence    float64           `json:"confidence"` // unweighted mean of surviving models
	PrimaryReason string            `json:"primaryReason"`
	Predictions   []ModelPrediction `json:"perModel"`
	FailedModels  []ModelFailure    `json:"failedModels,omitempty"`
	EvaluatedAt   time.Time         `json:"evaluatedAt"`
}

// FlaggedCount returns how many surviving models flagged the
// transaction as fraudulent.
func (r *FraudResult) FlaggedCount() int {
	n := 0
	for _, p := range r.Predictions {
		if p.Flagged {
			n++
		}
	}
	return n
}

// Decision is what the engine hands back to its caller after an
// evaluation: the final lifecycle status, the ensemble result, and the
// stored pattern when one was created.
type Decision struct {
	Transaction *Transaction  `json:"transaction"`
	Result      *FraudResult  `json:"result,omitempty"`
	Pattern     *FraudPattern `json:"pattern,omitempty"`

	// AwaitingReview is set when the ensemble could not score the
	// transaction and it was left PENDING for manual handling.
	AwaitingReview bool `json:"awaitingReview,omitempty"`
}
