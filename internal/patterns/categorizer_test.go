package patterns

import (
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func testCategorizer() *Categorizer {
	return New(domain.EngineConfig{FraudThreshold: 0.7, StoreThreshold: 0.5})
}

func txAt(amount float64, hour int) *domain.Transaction {
	// Wednesday 2026-03-04 at the given hour
	at := time.Date(2026, 3, 4, hour, 0, 0, 0, time.UTC)
	return &domain.Transaction{
		ID:        "tx-001",
		Reference: "REF-001",
		Type:      domain.TypeTransfer,
		Amount:    amount,
		Status:    domain.StatusPending,
		UserID:    "user-001",
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestShouldStore(t *testing.T) {
	c := testCategorizer()

	cases := []struct {
		confidence float64
		want       bool
	}{
		{0.49, false},
		{0.5, true},
		{0.4999, false},
		{0.7, true},
		{1.0, true},
	}

	for _, tc := range cases {
		if got := c.ShouldStore(tc.confidence); got != tc.want {
			t.Errorf("ShouldStore(%v) = %v, want %v", tc.confidence, got, tc.want)
		}
	}
}

func TestPatternType(t *testing.T) {
	c := testCategorizer()

	cases := []struct {
		name       string
		amount     float64
		hour       int
		confidence float64
		want       domain.PatternType
	}{
		{"HighConfHighAmountLateNight", 45000, 2, 0.8, domain.PatternHighAmountLateNight},
		{"HighConfHighAmountDaytime", 45000, 14, 0.8, domain.PatternHighAmountUnusual},
		{"HighConfLateNightSmall", 300, 23, 0.75, domain.PatternLateNightTransaction},
		{"HighConfOtherwise", 300, 14, 0.72, domain.PatternSuspiciousActivity},
		{"MediumConfHighAmount", 7000, 14, 0.65, domain.PatternMediumRiskHighAmount},
		{"MediumConfLowAmount", 300, 14, 0.65, domain.PatternMediumRiskUnusual},
		{"Borderline", 300, 14, 0.55, domain.PatternBorderlineSuspicious},
		{"ExactFraudThreshold", 300, 14, 0.7, domain.PatternSuspiciousActivity},
		{"ExactMediumBoundary", 300, 14, 0.6, domain.PatternMediumRiskUnusual},
		{"BoundaryAmountNotHigh", 10000, 14, 0.8, domain.PatternSuspiciousActivity},
		{"EarlyMorningIsLateNight", 15000, 5, 0.8, domain.PatternHighAmountLateNight},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := txAt(tc.amount, tc.hour)
			result := &domain.FraudResult{Confidence: tc.confidence}

			p := c.Categorize(tx, result)
			if p.Type != tc.want {
				t.Errorf("expected %s, got %s", tc.want, p.Type)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	c := testCategorizer()

	tx := txAt(12500, 23)
	result := &domain.FraudResult{
		IsFraud:    true,
		Confidence: 0.82,
		Predictions: []domain.ModelPrediction{
			{ModelName: "AMOUNT-HEURISTIC", Confidence: 0.8, Flagged: true, Rationale: "High transaction amount"},
			{ModelName: "TEMPORAL-HEURISTIC", Confidence: 0.9, Flagged: true, Rationale: "Late-night transaction"},
			{ModelName: "BEHAVIOR-HEURISTIC", Confidence: 0.3, Flagged: false, Rationale: "Consistent with history"},
		},
	}

	p := c.Categorize(tx, result)

	t.Run("Identity", func(t *testing.T) {
		if p.ID == "" {
			t.Error("expected generated pattern ID")
		}
		if p.TransactionID != tx.ID {
			t.Errorf("expected transaction ID %s, got %s", tx.ID, p.TransactionID)
		}
		if p.DetectorModel != domain.DetectorEnsemble {
			t.Errorf("expected detector %s, got %s", domain.DetectorEnsemble, p.DetectorModel)
		}
		if p.Confidence != 0.82 {
			t.Errorf("pattern confidence must equal ensemble confidence, got %v", p.Confidence)
		}
		if p.Reviewed {
			t.Error("new pattern must start unreviewed")
		}
	})

	t.Run("Metadata", func(t *testing.T) {
		md := p.Metadata
		if md.Confidence != 0.82 {
			t.Errorf("metadata confidence: got %v", md.Confidence)
		}
		if md.Threshold != 0.7 {
			t.Errorf("metadata threshold: got %v", md.Threshold)
		}
		if md.Amount != 12500 {
			t.Errorf("metadata amount: got %v", md.Amount)
		}
		if md.Hour != 23 {
			t.Errorf("metadata hour: got %d", md.Hour)
		}
		if md.DayOfWeek != 3 {
			t.Errorf("metadata day of week: got %d", md.DayOfWeek)
		}
		if md.Weekend {
			t.Error("Wednesday is not a weekend")
		}
		if md.BusinessHours {
			t.Error("23:00 is not business hours")
		}
		if md.DetectedAt.IsZero() {
			t.Error("expected detection timestamp")
		}
	})

	t.Run("Description", func(t *testing.T) {
		if !strings.Contains(p.Description, "REF-001") {
			t.Errorf("description should name the reference: %q", p.Description)
		}
		if !strings.Contains(p.Description, "2 of 3 models flagged") {
			t.Errorf("description should count flagging models: %q", p.Description)
		}
		// Two or more flags: each flagging model's rationale appears.
		if !strings.Contains(p.Description, "High transaction amount") ||
			!strings.Contains(p.Description, "Late-night transaction") {
			t.Errorf("description should summarize flagging rationales: %q", p.Description)
		}
		if strings.Contains(p.Description, "Consistent with history") {
			t.Errorf("non-flagging rationale should not appear: %q", p.Description)
		}
	})

	t.Run("DeterministicType", func(t *testing.T) {
		q := c.Categorize(tx, result)
		if q.Type != p.Type {
			t.Errorf("same input must categorize identically: %s vs %s", q.Type, p.Type)
		}
	})
}

func TestDescribeSingleFlag(t *testing.T) {
	c := testCategorizer()

	tx := txAt(600, 14)
	result := &domain.FraudResult{
		Confidence: 0.55,
		Predictions: []domain.ModelPrediction{
			{ModelName: "AMOUNT-HEURISTIC", Confidence: 0.55, Flagged: true, Rationale: "Round amount"},
			{ModelName: "TEMPORAL-HEURISTIC", Confidence: 0.25, Flagged: false, Rationale: "Normal hours"},
		},
	}

	p := c.Categorize(tx, result)
	if !strings.Contains(p.Description, "1 of 2 models flagged") {
		t.Errorf("expected flag count in description: %q", p.Description)
	}
	// Below two flags the per-model rationales are omitted.
	if strings.Contains(p.Description, "Round amount") {
		t.Errorf("single-flag description should not list rationales: %q", p.Description)
	}
}
