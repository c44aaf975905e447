// Package credit scores credit risk for SME users. It is structurally
// parallel to the fraud ensemble but separately scoped: its models
// carry fixed, differing weights and the aggregate is a weighted mean,
// not the fraud engine's unweighted average.
package credit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Profile is the SME financial snapshot a credit assessment runs over.
type Profile struct {
	UserID             string  `json:"userId"`
	AnnualRevenue      float64 `json:"annualRevenue"`
	OutstandingDebt    float64 `json:"outstandingDebt"`
	CreditHistoryScore float64 `json:"creditHistoryScore"` // 0-100, higher is better
	Sector             string  `json:"sector"`
	YearsInBusiness    int     `json:"yearsInBusiness"`
}

// DebtRatio returns outstanding debt over annual revenue.
func (p *Profile) DebtRatio() float64 {
	if p.AnnualRevenue <= 0 {
		return 1.0
	}
	return p.OutstandingDebt / p.AnnualRevenue
}

// RiskCategory bands an aggregated risk score.
type RiskCategory string

const (
	RiskLow      RiskCategory = "LOW"
	RiskMedium   RiskCategory = "MEDIUM"
	RiskHigh     RiskCategory = "HIGH"
	RiskCritical RiskCategory = "CRITICAL"
)

// ModelScore is one model's contribution to an assessment.
type ModelScore struct {
	ModelName string  `json:"modelName"`
	RiskScore float64 `json:"riskScore"` // [0,1], higher is riskier
	Weight    float64 `json:"weight"`
	Rationale string  `json:"rationale"`
}

// Assessment is the aggregated credit-risk result.
type Assessment struct {
	UserID     string       `json:"userId"`
	RiskScore  float64      `json:"riskScore"` // weighted mean, [0,1]
	Category   RiskCategory `json:"category"`
	Scores     []ModelScore `json:"perModel"`
	AssessedAt time.Time    `json:"assessedAt"`
}

// Model is the uniform credit-scoring interface.
type Model interface {
	Name() string
	Assess(ctx context.Context, p *Profile) (ModelScore, error)
}

// weighted pairs a model with its fixed ensemble weight.
type weighted struct {
	model  Model
	weight float64
}

// Assessor runs the weighted credit ensemble. Unlike the fraud
// aggregator, a model failure fails the whole assessment: dropping a
// fixed-weight model would silently skew the normalization.
type Assessor struct {
	models []weighted
}

// NewAssessor creates the default three-model assessor with the fixed
// production weights.
func NewAssessor() *Assessor {
	return &Assessor{
		models: []weighted{
			{&LeverageModel{}, 0.35},
			{&HistoryModel{}, 0.35},
			{&SectorModel{}, 0.30},
		},
	}
}

// Assess evaluates the profile against every model and returns the
// weighted aggregate with its risk category.
func (a *Assessor) Assess(ctx context.Context, p *Profile) (*Assessment, error) {
	if p == nil || p.UserID == "" {
		return nil, fmt.Errorf("profile with userId is required")
	}

	result := &Assessment{
		UserID:     p.UserID,
		AssessedAt: time.Now().UTC(),
	}

	var sum, totalWeight float64
	for _, w := range a.models {
		score, err := w.model.Assess(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("credit model %s failed: %w", w.model.Name(), err)
		}
		score.Weight = w.weight
		result.Scores = append(result.Scores, score)
		sum += score.RiskScore * w.weight
		totalWeight += w.weight
	}

	result.RiskScore = math.Round(sum/totalWeight*10000) / 10000
	result.Category = categorize(result.RiskScore)

	return result, nil
}

func categorize(score float64) RiskCategory {
	switch {
	case score >= 0.8:
		return RiskCritical
	case score >= 0.6:
		return RiskHigh
	case score >= 0.4:
		return RiskMedium
	default:
		return RiskLow
	}
}

// LeverageModel scores on the debt-to-revenue ratio.
type LeverageModel struct{}

func (m *LeverageModel) Name() string { return "LEVERAGE" }

func (m *LeverageModel) Assess(ctx context.Context, p *Profile) (ModelScore, error) {
	ratio := p.DebtRatio()
	score := math.Min(ratio, 1.0)

	rationale := fmt.Sprintf("Debt ratio %.2f", ratio)
	if ratio > 0.7 {
		rationale = fmt.Sprintf("Heavily leveraged: debt ratio %.2f", ratio)
	}

	return ModelScore{ModelName: m.Name(), RiskScore: score, Rationale: rationale}, nil
}

// HistoryModel scores on credit history and business age.
type HistoryModel struct{}

func (m *HistoryModel) Name() string { return "HISTORY" }

func (m *HistoryModel) Assess(ctx context.Context, p *Profile) (ModelScore, error) {
	if p.CreditHistoryScore < 0 || p.CreditHistoryScore > 100 {
		return ModelScore{}, fmt.Errorf("credit history score %v outside [0,100]", p.CreditHistoryScore)
	}

	// Invert: a good history means low risk.
	score := 1.0 - p.CreditHistoryScore/100

	// Young businesses carry extra uncertainty.
	if p.YearsInBusiness < 2 {
		score = math.Min(score+0.15, 1.0)
	}

	return ModelScore{
		ModelName: m.Name(),
		RiskScore: score,
		Rationale: fmt.Sprintf("Credit history %.0f/100, %d years in business", p.CreditHistoryScore, p.YearsInBusiness),
	}, nil
}

// SectorModel scores on sector baseline risk.
type SectorModel struct{}

func (m *SectorModel) Name() string { return "SECTOR" }

func (m *SectorModel) Assess(ctx context.Context, p *Profile) (ModelScore, error) {
	score := 0.5
	sector := strings.ToLower(p.Sector)

	switch {
	case strings.Contains(sector, "healthcare"):
		score = 0.4
	case strings.Contains(sector, "retail"):
		score = 0.6
	case strings.Contains(sector, "hospitality"):
		score = 0.7
	}

	return ModelScore{
		ModelName: m.Name(),
		RiskScore: score,
		Rationale: fmt.Sprintf("Sector baseline for %q", p.Sector),
	}, nil
}
