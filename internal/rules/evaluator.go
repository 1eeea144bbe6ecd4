package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/fundops/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// SkipReason classifies why a rule was not applied to an (event, role)
// pair. Skips are informational; only SkipEvaluationError carries an
// error, and it is fatal for that rule only.
type SkipReason string

const (
	SkipInactive         SkipReason = "inactive"
	SkipOutOfDateRange   SkipReason = "out_of_date_range"
	SkipEntityMismatch   SkipReason = "entity_mismatch"
	SkipConditionsNotMet SkipReason = "conditions_not_met"
	SkipEvaluationError  SkipReason = "evaluation_error"
)

// Context is the evaluation input for one (event, role) pair. Aggregates
// are precomputed by the caller for the entity filling the role.
type Context struct {
	Event      *domain.DistributionEvent
	Role       domain.EntityType
	EntityName string
	Aggregates map[domain.CalculationBasis]decimal.Decimal
}

// BaseAmount resolves the amount a rule's schedule applies to.
func (c *Context) BaseAmount(basis domain.CalculationBasis) (decimal.Decimal, error) {
	if basis == domain.BasisDistributionAmount {
		return c.Event.Amount, nil
	}
	agg, ok := c.Aggregates[basis]
	if !ok {
		return decimal.Zero, fmt.Errorf("aggregate for basis %q not available in context", basis)
	}
	return agg, nil
}

// Outcome is the result of evaluating one rule against a context.
type Outcome struct {
	RuleID      string     `json:"ruleId"`
	RuleVersion int        `json:"ruleVersion"`
	Applicable  bool       `json:"applicable"`
	SkipReason  SkipReason `json:"skipReason,omitempty"`

	ConditionsMet int           `json:"conditionsMet"`
	Elapsed       time.Duration `json:"-"`

	Err error `json:"-"`
}

// Evaluator performs applicability checks and rule selection.
type Evaluator struct{}

// NewEvaluator creates a rule evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate runs the applicability checks for one rule, short-circuiting
// on the first failure: active -> date window -> entity match ->
// condition groups.
func (e *Evaluator) Evaluate(rule *domain.Rule, ctx *Context) Outcome {
	start := time.Now()

	out := Outcome{
		RuleID:      rule.ID,
		RuleVersion: rule.Version,
	}

	switch {
	case !rule.Active:
		out.SkipReason = SkipInactive

	case !rule.InEffect(ctx.Event.Date):
		out.SkipReason = SkipOutOfDateRange

	case !rule.MatchesEntity(ctx.Role, ctx.EntityName):
		out.SkipReason = SkipEntityMismatch

	default:
		passed, met, err := evalConditionGroups(rule.Conditions, ctx)
		out.ConditionsMet = met
		if err != nil {
			out.SkipReason = SkipEvaluationError
			out.Err = err
		} else if !passed {
			out.SkipReason = SkipConditionsNotMet
		} else {
			out.Applicable = true
		}
	}

	out.Elapsed = time.Since(start)
	return out
}

// Select evaluates candidate rules in ascending priority order and
// returns the first applicable one, terminating early. Rules are never
// combined or stacked for a single role on a single event. The returned
// outcomes cover every rule evaluated before (and including) the match.
func (e *Evaluator) Select(candidates []*domain.Rule, ctx *Context) (*domain.Rule, []Outcome) {
	ordered := make([]*domain.Rule, len(candidates))
	copy(ordered, candidates)

	// Ties broken by ID then version for deterministic replay.
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		if ordered[i].ID != ordered[j].ID {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].Version < ordered[j].Version
	})

	outcomes := make([]Outcome, 0, len(ordered))
	for _, rule := range ordered {
		out := e.Evaluate(rule, ctx)
		outcomes = append(outcomes, out)
		if out.Applicable {
			return rule, outcomes
		}
	}

	return nil, outcomes
}
