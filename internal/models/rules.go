package models

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// RuleExpr is one configurable scoring rule. The CEL expression is
// evaluated over the transaction's feature variables and must return a
// bool (scored 0/1) or a double confidence in [0,1].
type RuleExpr struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Rationale  string `json:"rationale"`
}

// RuleModel evaluates a fixed list of CEL expressions and reports the
// strongest match. It lets operators add heuristics without a deploy,
// behind the same Scorer interface as the built-in models.
type RuleModel struct {
	env      *cel.Env
	compiled []compiledRule
	baseline float64
}

type compiledRule struct {
	expr    RuleExpr
	program cel.Program
}

// NewRuleModel compiles the given rules. A rule that does not compile
// is a configuration error and fails construction.
func NewRuleModel(exprs []RuleExpr) (*RuleModel, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("amount_log", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("is_weekend", cel.BoolType),
		cel.Variable("is_business_hours", cel.BoolType),
		cel.Variable("is_late_night", cel.BoolType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("user_tx_count", cel.IntType),
		cel.Variable("user_avg_amount", cel.DoubleType),
		cel.Variable("amount_deviation", cel.DoubleType),
		cel.Variable("composite_risk", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	m := &RuleModel{env: env, baseline: 0.2}

	for _, e := range exprs {
		ast, issues := env.Compile(e.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", e.Name, issues.Err())
		}
		out := ast.OutputType()
		if out != cel.BoolType && out != cel.DoubleType {
			return nil, fmt.Errorf("rule %s: expression must return bool or double, got %s", e.Name, out)
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for rule %s: %w", e.Name, err)
		}
		m.compiled = append(m.compiled, compiledRule{expr: e, program: program})
	}

	return m, nil
}

// DefaultRules returns the shipped rule set.
func DefaultRules() []RuleExpr {
	return []RuleExpr{
		{
			Name:       "round-amount",
			Expression: `amount >= 1000.0 && amount == double(int(amount / 1000.0)) * 1000.0 ? 0.55 : 0.0`,
			Rationale:  "Suspiciously round transaction amount",
		},
		{
			Name:       "late-night-withdrawal",
			Expression: `is_late_night && tx_type == "WITHDRAWAL" ? 0.65 : 0.0`,
			Rationale:  "Late-night withdrawal",
		},
		{
			Name:       "composite-risk",
			Expression: `composite_risk > 0.7 ? composite_risk : 0.0`,
			Rationale:  "High composite risk from amount and timing",
		},
	}
}

func (m *RuleModel) Name() string { return "CEL-RULES" }

// RuleCount returns the number of compiled rules.
func (m *RuleModel) RuleCount() int { return len(m.compiled) }

func (m *RuleModel) Score(ctx context.Context, tx *domain.Transaction, v *features.Vector) (domain.ModelPrediction, error) {
	if v == nil {
		return domain.ModelPrediction{}, &domain.ModelUnavailableError{ModelName: m.Name(), Err: errNilVector}
	}

	activation := map[string]any{
		"amount":            v.Amount,
		"amount_log":        v.AmountLog,
		"hour":              int64(v.Hour),
		"day_of_week":       int64(v.DayOfWeek),
		"is_weekend":        v.Weekend,
		"is_business_hours": v.BusinessHours,
		"is_late_night":     v.LateNight,
		"tx_type":           string(tx.Type),
		"user_tx_count":     v.UserTxCount,
		"user_avg_amount":   v.UserAvgAmount,
		"amount_deviation":  v.AmountDeviation,
		"composite_risk":    v.CompositeRisk,
	}

	confidence := m.baseline
	rationale := "No rule matched"

	for _, r := range m.compiled {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			return domain.ModelPrediction{}, &domain.ModelUnavailableError{
				ModelName: m.Name(),
				Err:       fmt.Errorf("rule %s evaluation: %w", r.expr.Name, err),
			}
		}

		score := toScore(out)
		if score < 0 || score > 1 {
			return domain.ModelPrediction{}, &domain.ModelUnavailableError{
				ModelName: m.Name(),
				Err:       fmt.Errorf("rule %s returned score %v outside [0,1]", r.expr.Name, score),
			}
		}
		if score > confidence {
			confidence = score
			rationale = r.expr.Rationale
		}
	}

	return prediction(m.Name(), confidence, rationale), nil
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
