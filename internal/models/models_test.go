package models

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// almostEqual compares confidences produced by runtime float addition.
func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func buildVector(t *testing.T, tx *domain.Transaction, agg *domain.UserAggregates) *features.Vector {
	t.Helper()
	v, err := features.Extract(tx, agg)
	if err != nil {
		t.Fatalf("feature extraction failed: %v", err)
	}
	return v
}

func makeTx(txType domain.TransactionType, amount float64, at time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:        "tx-001",
		Reference: "REF-001",
		Type:      txType,
		Amount:    amount,
		Status:    domain.StatusPending,
		UserID:    "user-001",
		CreatedAt: at,
		UpdatedAt: at,
	}
}

var (
	weekdayMorning = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)  // Wednesday
	lateNight      = time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC)   // Wednesday 02:00
	saturdayNight  = time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC)  // Saturday 23:00
)

func TestAmountModel(t *testing.T) {
	m := NewAmountModel()
	ctx := context.Background()

	t.Run("NormalAmount", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 150, weekdayMorning)
		p, err := m.Score(ctx, tx, buildVector(t, tx, nil))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if p.Confidence != 0.2 {
			t.Errorf("expected 0.2, got %v", p.Confidence)
		}
		if p.Flagged {
			t.Error("normal amount should not be flagged")
		}
	})

	t.Run("HighAmount", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 15000, weekdayMorning)
		p, err := m.Score(ctx, tx, buildVector(t, tx, nil))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if p.Confidence != 0.6 {
			t.Errorf("expected 0.6, got %v", p.Confidence)
		}
		if !p.Flagged {
			t.Error("high amount should be flagged")
		}
	})

	t.Run("ExtremeAmount", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 50000, weekdayMorning)
		p, err := m.Score(ctx, tx, buildVector(t, tx, nil))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if p.Confidence != 0.8 {
			t.Errorf("expected 0.8, got %v", p.Confidence)
		}
	})

	t.Run("LargeWithdrawalBump", func(t *testing.T) {
		tx := makeTx(domain.TypeWithdrawal, 15000, weekdayMorning)
		p, err := m.Score(ctx, tx, buildVector(t, tx, nil))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if !almostEqual(p.Confidence, 0.7) {
			t.Errorf("expected 0.7 for large withdrawal, got %v", p.Confidence)
		}
	})

	t.Run("NilVector", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 100, weekdayMorning)
		_, err := m.Score(ctx, tx, nil)
		var unavail *domain.ModelUnavailableError
		if !errors.As(err, &unavail) {
			t.Fatalf("expected ModelUnavailableError, got %v", err)
		}
	})
}

func TestTemporalModel(t *testing.T) {
	m := NewTemporalModel()
	ctx := context.Background()

	t.Run("BusinessHours", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 100, weekdayMorning)
		p, err := m.Score(ctx, tx, buildVector(t, tx, nil))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if p.Confidence != 0.25 {
			t.Errorf("expected 0.25, got %v", p.Confidence)
		}
	})

	t.Run("LateNight", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 100, lateNight)
		p, err := m.Score(ctx, tx, buildVector(t, tx, nil))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if p.Confidence != 0.6 {
			t.Errorf("expected 0.6, got %v", p.Confidence)
		}
		if !p.Flagged {
			t.Error("late night should be flagged")
		}
	})

	t.Run("WeekendLateNight", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 100, saturdayNight)
		p, err := m.Score(ctx, tx, buildVector(t, tx, nil))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		// 0.6 late night + 0.1 weekend outside business hours
		if !almostEqual(p.Confidence, 0.7) {
			t.Errorf("expected 0.7, got %v", p.Confidence)
		}
	})
}

func TestBehaviorModel(t *testing.T) {
	m := NewBehaviorModel()
	ctx := context.Background()

	t.Run("NoAggregates", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 100, weekdayMorning)
		_, err := m.Score(ctx, tx, buildVector(t, tx, nil))
		var unavail *domain.ModelUnavailableError
		if !errors.As(err, &unavail) {
			t.Fatalf("expected ModelUnavailableError without aggregates, got %v", err)
		}
	})

	t.Run("NewUser", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 100, weekdayMorning)
		agg := &domain.UserAggregates{UserID: "user-001"}
		p, err := m.Score(ctx, tx, buildVector(t, tx, agg))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if p.Rationale != "First transaction for user" {
			t.Errorf("unexpected rationale: %q", p.Rationale)
		}
		if p.Confidence < 0.3 || p.Confidence > 0.6 {
			t.Errorf("new-user confidence %v outside expected band", p.Confidence)
		}
	})

	t.Run("ConsistentHistory", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 110, weekdayMorning)
		agg := &domain.UserAggregates{UserID: "user-001", TransactionCount: 20, AverageAmount: 100}
		p, err := m.Score(ctx, tx, buildVector(t, tx, agg))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if p.Confidence != 0.3 {
			t.Errorf("expected 0.3, got %v", p.Confidence)
		}
	})

	t.Run("LargeDeviation", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 1200, weekdayMorning)
		agg := &domain.UserAggregates{UserID: "user-001", TransactionCount: 20, AverageAmount: 100}
		p, err := m.Score(ctx, tx, buildVector(t, tx, agg))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if p.Confidence != 0.7 {
			t.Errorf("expected 0.7 for 12x deviation, got %v", p.Confidence)
		}
	})

	t.Run("ThinHistoryBump", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 600, weekdayMorning)
		agg := &domain.UserAggregates{UserID: "user-001", TransactionCount: 2, AverageAmount: 100}
		p, err := m.Score(ctx, tx, buildVector(t, tx, agg))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		// 6x deviation -> 0.55, plus 0.05 thin history
		if !almostEqual(p.Confidence, 0.6) {
			t.Errorf("expected 0.6, got %v", p.Confidence)
		}
	})

	t.Run("BurstVelocity", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 110, weekdayMorning)
		agg := &domain.UserAggregates{UserID: "user-001", TransactionCount: 20, AverageAmount: 100, RecentCount: 6}
		p, err := m.Score(ctx, tx, buildVector(t, tx, agg))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		// Consistent amount (0.3) plus 0.15 for the submission burst.
		if !almostEqual(p.Confidence, 0.45) {
			t.Errorf("expected 0.45, got %v", p.Confidence)
		}
		if !strings.Contains(p.Rationale, "6 transactions") {
			t.Errorf("rationale should name the burst: %q", p.Rationale)
		}
	})

	t.Run("VelocityBelowLimit", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 110, weekdayMorning)
		agg := &domain.UserAggregates{UserID: "user-001", TransactionCount: 20, AverageAmount: 100, RecentCount: 4}
		p, err := m.Score(ctx, tx, buildVector(t, tx, agg))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if p.Confidence != 0.3 {
			t.Errorf("velocity below the burst limit must not adjust the score, got %v", p.Confidence)
		}
	})

	t.Run("NewUserBurst", func(t *testing.T) {
		tx := makeTx(domain.TypePayment, 100, weekdayMorning)
		agg := &domain.UserAggregates{UserID: "user-001", RecentCount: 7}
		p, err := m.Score(ctx, tx, buildVector(t, tx, agg))
		if err != nil {
			t.Fatalf("Score failed: %v", err)
		}
		if !strings.Contains(p.Rationale, "First transaction for user") {
			t.Errorf("unexpected rationale: %q", p.Rationale)
		}
		if !strings.Contains(p.Rationale, "7 transactions") {
			t.Errorf("rationale should name the burst: %q", p.Rationale)
		}
		if p.Confidence < 0.45 || p.Confidence > 0.75 {
			t.Errorf("burst new-user confidence %v outside expected band", p.Confidence)
		}
	})
}
