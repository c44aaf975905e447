package domain

import "time"

// PatternType enumerates the fixed categories a stored fraud pattern
// can be filed under.
type PatternType string

const (
	PatternHighAmountUnusual    PatternType = "HIGH_AMOUNT_UNUSUAL"
	PatternHighAmountLateNight  PatternType = "HIGH_AMOUNT_LATE_NIGHT"
	PatternLateNightTransaction PatternType = "LATE_NIGHT_TRANSACTION"
	PatternSuspiciousActivity   PatternType = "SUSPICIOUS_ACTIVITY"
	PatternMediumRiskHighAmount PatternType = "MEDIUM_RISK_HIGH_AMOUNT"
	PatternMediumRiskUnusual    PatternType = "MEDIUM_RISK_UNUSUAL_PATTERN"
	PatternBorderlineSuspicious PatternType = "BORDERLINE_SUSPICIOUS"
)

// DetectorEnsemble is the detector identifier recorded on patterns
// produced by the full ensemble rather than a single model.
const DetectorEnsemble = "ENSEMBLE"

// PatternMetadata is the structured record attached to every stored
// pattern. Downstream analytics consume these fields, so the field set
// is a stable contract.
type PatternMetadata struct {
	Confidence    float64         `json:"confidence"`
	Threshold     float64         `json:"threshold"`
	Amount        float64         `json:"amount"`
	Hour          int             `json:"hour"`
	DayOfWeek     int             `json:"dayOfWeek"` // 1 = Monday ... 7 = Sunday
	Type          TransactionType `json:"type"`
	Weekend       bool            `json:"isWeekend"`
	BusinessHours bool            `json:"isBusinessHours"`
	DetectedAt    time.Time       `json:"detectionTimestamp"`
}

// FraudPattern is a persisted, categorized audit record explaining why
// a transaction was scored as it was. Created exclusively by the
// categorizer at evaluation time, mutated only by the review workflow,
// never deleted.
type FraudPattern struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transactionId"`
	Type          PatternType     `json:"patternType"`
	Description   string          `json:"description"`
	Confidence    float64         `json:"confidence"` // [0,1], equals triggering ensemble confidence
	DetectorModel string          `json:"detectorModel"`
	Metadata      PatternMetadata `json:"metadata"`
	DetectedAt    time.Time       `json:"detectedAt"`

	Reviewed    bool       `json:"reviewed"`
	ReviewedBy  string     `json:"reviewedBy,omitempty"`
	ReviewedAt  *time.Time `json:"reviewedAt,omitempty"`
	ReviewNotes string     `json:"reviewNotes,omitempty"`
}

// SeverityBand maps a pattern confidence to a reporting severity.
func SeverityBand(confidence float64) string {
	switch {
	case confidence >= 0.9:
		return "CRITICAL"
	case confidence >= 0.75:
		return "HIGH"
	case confidence >= 0.6:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// PatternStatistics summarizes stored patterns for the reporting surface.
type PatternStatistics struct {
	Total      int64            `json:"total"`
	Reviewed   int64            `json:"reviewed"`
	Unreviewed int64            `json:"unreviewed"`
	BySeverity map[string]int64 `json:"bySeverity"`
	ByType     map[string]int64 `json:"byType"`
}
