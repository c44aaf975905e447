// Package patterns turns an ensemble result into the persisted,
// categorized audit record analysts review. Categorization is
// deterministic: the same transaction snapshot and aggregated
// confidence always produce the same type and metadata.
package patterns

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Amount limits for the classification table.
const (
	highAmountLimit   = 10000.0
	mediumAmountLimit = 5000.0
)

// mediumConfidenceFloor separates the medium band from borderline.
const mediumConfidenceFloor = 0.6

// Categorizer classifies stored patterns. Thresholds are injected so
// the classification table stays testable against varied values.
type Categorizer struct {
	storeThreshold float64
	fraudThreshold float64
}

// New creates a categorizer with the engine's thresholds.
func New(cfg domain.EngineConfig) *Categorizer {
	return &Categorizer{
		storeThreshold: cfg.StoreThreshold,
		fraudThreshold: cfg.FraudThreshold,
	}
}

// ShouldStore reports whether the aggregated confidence warrants a
// stored pattern. Deliberately lower than the fraud threshold so
// borderline cases are recorded for trend-mining.
func (c *Categorizer) ShouldStore(confidence float64) bool {
	return confidence >= c.storeThreshold
}

// Categorize builds the pattern record for a transaction whose
// aggregated confidence met the storage threshold. The pattern type
// depends only on the confidence band and the transaction snapshot.
func (c *Categorizer) Categorize(tx *domain.Transaction, result *domain.FraudResult) *domain.FraudPattern {
	now := time.Now().UTC()
	hour := tx.CreatedAt.UTC().Hour()
	day := isoWeekday(tx.CreatedAt.UTC())

	return &domain.FraudPattern{
		ID:            uuid.New().String(),
		TransactionID: tx.ID,
		Type:          c.patternType(tx.Amount, hour, result.Confidence),
		Description:   describe(tx, result),
		Confidence:    result.Confidence,
		DetectorModel: domain.DetectorEnsemble,
		Metadata: domain.PatternMetadata{
			Confidence:    result.Confidence,
			Threshold:     c.fraudThreshold,
			Amount:        tx.Amount,
			Hour:          hour,
			DayOfWeek:     day,
			Type:          tx.Type,
			Weekend:       day >= 6,
			BusinessHours: hour >= 9 && hour < 17,
			DetectedAt:    now,
		},
		DetectedAt: now,
	}
}

// patternType implements the classification table. Bands are evaluated
// high to low; within the high band, combined amount and timing
// conditions take priority over either alone.
func (c *Categorizer) patternType(amount float64, hour int, confidence float64) domain.PatternType {
	lateNight := hour >= 22 || hour < 6

	if confidence >= c.fraudThreshold {
		switch {
		case amount > highAmountLimit && lateNight:
			return domain.PatternHighAmountLateNight
		case amount > highAmountLimit:
			return domain.PatternHighAmountUnusual
		case lateNight:
			return domain.PatternLateNightTransaction
		default:
			return domain.PatternSuspiciousActivity
		}
	}

	if confidence >= mediumConfidenceFloor {
		if amount > mediumAmountLimit {
			return domain.PatternMediumRiskHighAmount
		}
		return domain.PatternMediumRiskUnusual
	}

	return domain.PatternBorderlineSuspicious
}

// describe names the transaction, amount and type, and when two or
// more models flagged fraud, states how many and summarizes each
// flagging model's rationale.
func describe(tx *domain.Transaction, result *domain.FraudResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transaction %s: $%.2f %s.", tx.Reference, tx.Amount, tx.Type)

	flagged := result.FlaggedCount()
	fmt.Fprintf(&b, " %d of %d models flagged as fraud.", flagged, len(result.Predictions))

	if flagged >= 2 {
		for _, p := range result.Predictions {
			if p.Flagged {
				fmt.Fprintf(&b, " %s: %s.", p.ModelName, p.Rationale)
			}
		}
	}

	return b.String()
}

// isoWeekday returns Monday=1 ... Sunday=7.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
