// Package rules provides commission rule validation, applicability
// evaluation, and priority-ordered selection.
package rules

import (
	"fmt"

	"github.com/fundops/harrier/internal/domain"
)

// Problem is one structural validation finding.
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Field, p.Message)
}

// Validate runs structural pre-validation on a rule. Rules with problems
// are excluded from runs with a warning; they are never silently included.
// Tier gaps and overlaps are hard failures here: a malformed tier table
// would silently under- or over-charge.
func Validate(rule *domain.Rule) []Problem {
	var problems []Problem

	add := func(field, format string, args ...any) {
		problems = append(problems, Problem{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch rule.EntityType {
	case domain.EntityDistributor, domain.EntityReferrer, domain.EntityPartner:
	default:
		add("entityType", "unknown entity type %q", rule.EntityType)
	}

	switch rule.VATMode {
	case domain.VATIncluded, domain.VATAdded, domain.VATNotApplicable:
	default:
		add("vatMode", "unknown VAT mode %q", rule.VATMode)
	}

	switch rule.Basis {
	case domain.BasisDistributionAmount, domain.BasisCumulativeAmount,
		domain.BasisMonthlyVolume, domain.BasisQuarterlyVolume, domain.BasisAnnualVolume:
	default:
		add("calculationBasis", "unknown calculation basis %q", rule.Basis)
	}

	if rule.EffectiveTo != nil && !rule.EffectiveFrom.Before(*rule.EffectiveTo) {
		add("effectiveFrom", "effective_from must precede effective_to")
	}

	if rule.Schedule == nil {
		add("schedule", "schedule is required")
	} else {
		validateSchedule(rule.Schedule, add)
	}

	for i, cond := range rule.Conditions {
		validateCondition(i, cond, add)
	}

	return problems
}

func validateSchedule(s domain.Schedule, add func(field, format string, args ...any)) {
	switch v := s.(type) {
	case domain.PercentageSchedule:
		if v.Rate.IsNegative() {
			add("schedule.rate", "rate must not be negative")
		}
		if v.MaxAmount != nil && !v.MinAmount.LessThan(*v.MaxAmount) {
			add("schedule.minAmount", "min_amount must be less than max_amount")
		}

	case domain.FixedSchedule:
		if v.Amount.IsNegative() {
			add("schedule.fixedAmount", "fixed amount must not be negative")
		}

	case domain.TieredSchedule:
		validateTiers(v.Tiers, add)

	case domain.HybridSchedule:
		if v.Rate.IsNegative() {
			add("schedule.rate", "rate must not be negative")
		}
		if v.FixedAmount.IsNegative() {
			add("schedule.fixedAmount", "fixed amount must not be negative")
		}
		if v.MaxAmount != nil && !v.MinAmount.LessThan(*v.MaxAmount) {
			add("schedule.minAmount", "min_amount must be less than max_amount")
		}

	default:
		add("schedule", "unknown schedule type %T", s)
	}
}

// validateTiers requires tiers to partition an amount range contiguously
// from zero: sorted by order, no gaps, no overlaps, unbounded tiers only
// in last position.
func validateTiers(tiers []domain.Tier, add func(field, format string, args ...any)) {
	if len(tiers) == 0 {
		add("schedule.tiers", "tiered rule requires at least one tier")
		return
	}

	for i := 1; i < len(tiers); i++ {
		if tiers[i].Order <= tiers[i-1].Order {
			add("schedule.tiers", "tier orders must be strictly ascending (tier %d)", i)
			return
		}
	}

	if !tiers[0].MinThreshold.IsZero() {
		add("schedule.tiers", "first tier must start at 0, starts at %s", tiers[0].MinThreshold)
	}

	for i, tier := range tiers {
		if tier.Rate.IsNegative() {
			add("schedule.tiers", "tier %d rate must not be negative", tier.Order)
		}
		if tier.MaxThreshold != nil && !tier.MinThreshold.LessThan(*tier.MaxThreshold) {
			add("schedule.tiers", "tier %d min_threshold must be less than max_threshold", tier.Order)
		}

		if i == len(tiers)-1 {
			continue
		}
		if tier.MaxThreshold == nil {
			add("schedule.tiers", "tier %d is unbounded but not the last tier", tier.Order)
			continue
		}

		next := tiers[i+1]
		switch {
		case next.MinThreshold.GreaterThan(*tier.MaxThreshold):
			add("schedule.tiers", "gap between tier %d and tier %d", tier.Order, next.Order)
		case next.MinThreshold.LessThan(*tier.MaxThreshold):
			add("schedule.tiers", "overlap between tier %d and tier %d", tier.Order, next.Order)
		}
	}
}

func validateCondition(i int, cond domain.RuleCondition, add func(field, format string, args ...any)) {
	field := fmt.Sprintf("conditions[%d]", i)

	if cond.Field == "" {
		add(field, "condition field name is required")
	}

	switch cond.Operator {
	case domain.OpEquals, domain.OpGreaterThan, domain.OpLessThan,
		domain.OpGreaterEqual, domain.OpLessEqual,
		domain.OpBetween, domain.OpIn, domain.OpNotIn:
	default:
		add(field, "unknown operator %q", cond.Operator)
		return
	}

	if len(cond.Value) == 0 {
		add(field, "condition value is required")
		return
	}

	// Shape check only; typed interpretation happens at evaluation time
	// against the resolved field.
	switch cond.Operator {
	case domain.OpBetween:
		if _, _, err := parseBetweenOperands(cond.Value); err != nil {
			add(field, "%v", err)
		}
	case domain.OpIn, domain.OpNotIn:
		if _, err := parseListOperand(cond.Value); err != nil {
			add(field, "%v", err)
		}
	}
}
