// Package features converts a transaction snapshot plus user-level
// aggregates into the fixed-order numeric vector consumed by the
// scoring models. Extraction is a pure function of its inputs:
// identical inputs always yield an identical vector.
package features

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Vector is the fixed-order feature set for one transaction.
type Vector struct {
	Amount     float64
	AmountLog  float64 // log(1+amount)
	AmountSqrt float64

	Hour    int
	HourSin float64
	HourCos float64

	DayOfWeek int // 1 = Monday ... 7 = Sunday
	DaySin    float64
	DayCos    float64

	Weekend       bool
	BusinessHours bool // 09:00-17:00
	LateNight     bool // 22:00-06:00

	TypeCode int

	// AggregatesPresent distinguishes "lookup collaborator was down"
	// from "genuinely new user with no history".
	AggregatesPresent bool
	UserTxCount       int64
	UserAvgAmount     float64
	AmountDeviation   float64 // ratio of amount to the user's average
	RecentTxCount     int64   // evaluations within the velocity window

	CompositeRisk float64 // [0,1], from amount and timing
	HighRisk      bool    // CompositeRisk > HighRiskCutoff
}

// HighRiskCutoff is the composite-risk level above which the vector is
// marked high risk.
const HighRiskCutoff = 0.7

// Values returns the vector as an ordered float slice, with booleans
// encoded as 0/1. The order is part of the model contract.
func (v *Vector) Values() []float64 {
	return []float64{
		v.Amount, v.AmountLog, v.AmountSqrt,
		float64(v.Hour), v.HourSin, v.HourCos,
		float64(v.DayOfWeek), v.DaySin, v.DayCos,
		boolToFloat(v.Weekend), boolToFloat(v.BusinessHours), boolToFloat(v.LateNight),
		float64(v.TypeCode),
		float64(v.UserTxCount), v.UserAvgAmount, v.AmountDeviation,
		float64(v.RecentTxCount),
		v.CompositeRisk, boolToFloat(v.HighRisk),
	}
}

// Extract builds the feature vector for a transaction. Missing or
// malformed input fails with a FeatureExtractionError; the caller
// treats that as "cannot score".
func Extract(tx *domain.Transaction, agg *domain.UserAggregates) (*Vector, error) {
	if tx == nil {
		return nil, &domain.FeatureExtractionError{Field: "transaction", Reason: "is nil"}
	}
	if tx.CreatedAt.IsZero() {
		return nil, &domain.FeatureExtractionError{Field: "createdAt", Reason: "timestamp is zero"}
	}
	if tx.Amount < domain.MinAmount {
		return nil, &domain.FeatureExtractionError{Field: "amount", Reason: "below minimum"}
	}
	typeCode := domain.TypeCode(tx.Type)
	if typeCode < 0 {
		return nil, &domain.FeatureExtractionError{Field: "type", Reason: "unknown transaction type"}
	}

	ts := tx.CreatedAt.UTC()
	hour := ts.Hour()
	day := isoWeekday(ts)

	v := &Vector{
		Amount:     tx.Amount,
		AmountLog:  math.Log1p(tx.Amount),
		AmountSqrt: math.Sqrt(tx.Amount),

		Hour:    hour,
		HourSin: math.Sin(2 * math.Pi * float64(hour) / 24),
		HourCos: math.Cos(2 * math.Pi * float64(hour) / 24),

		DayOfWeek: day,
		DaySin:    math.Sin(2 * math.Pi * float64(day) / 7),
		DayCos:    math.Cos(2 * math.Pi * float64(day) / 7),

		Weekend:       day >= 6,
		BusinessHours: hour >= 9 && hour < 17,
		LateNight:     hour >= 22 || hour < 6,

		TypeCode: typeCode,
	}

	if agg != nil {
		v.AggregatesPresent = true
		v.UserTxCount = agg.TransactionCount
		v.UserAvgAmount = agg.AverageAmount
		v.RecentTxCount = agg.RecentCount
		if agg.AverageAmount > 0 {
			v.AmountDeviation = tx.Amount / agg.AverageAmount
		}
	}

	v.CompositeRisk = compositeRisk(v)
	v.HighRisk = v.CompositeRisk > HighRiskCutoff

	return v, nil
}

// compositeRisk folds amount magnitude and timing into a single [0,1]
// score. Amount dominates; off-hours timing adds the rest.
func compositeRisk(v *Vector) float64 {
	amountRisk := math.Min(v.Amount/20000, 1.0)

	risk := amountRisk * 0.6
	if v.LateNight {
		risk += 0.25
	}
	if v.Weekend {
		risk += 0.15
	}

	return math.Min(risk, 1.0)
}

// isoWeekday returns Monday=1 ... Sunday=7.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
