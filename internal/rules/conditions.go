package rules

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fundops/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// fieldValue is a resolved condition operand: either a decimal amount or
// a string. Exactly one side is set.
type fieldValue struct {
	amount   decimal.Decimal
	str      string
	isAmount bool
}

// resolveField looks up a condition field against the evaluation context.
// The field set is closed: event attributes plus the computed historical
// aggregates.
func resolveField(name string, ctx *Context) (fieldValue, error) {
	switch name {
	case "amount":
		return fieldValue{amount: ctx.Event.Amount, isAmount: true}, nil
	case "investor_name":
		return fieldValue{str: ctx.Event.InvestorName}, nil
	case "fund_name":
		return fieldValue{str: ctx.Event.FundName}, nil
	case "entity_name":
		return fieldValue{str: ctx.EntityName}, nil
	case "distributor_name":
		return fieldValue{str: ctx.Event.DistributorName}, nil
	case "referrer_name":
		return fieldValue{str: ctx.Event.ReferrerName}, nil
	case "partner_name":
		return fieldValue{str: ctx.Event.PartnerName}, nil
	case "cumulative_amount", "monthly_volume", "quarterly_volume", "annual_volume":
		agg, ok := ctx.Aggregates[domain.CalculationBasis(name)]
		if !ok {
			return fieldValue{}, fmt.Errorf("aggregate %q not available in context", name)
		}
		return fieldValue{amount: agg, isAmount: true}, nil
	default:
		return fieldValue{}, fmt.Errorf("unknown condition field %q", name)
	}
}

// parseScalarOperand decodes a JSON scalar into a decimal or string.
func parseScalarOperand(raw json.RawMessage) (fieldValue, error) {
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		d, derr := decimal.NewFromString(num.String())
		if derr != nil {
			return fieldValue{}, fmt.Errorf("malformed numeric operand %q", num)
		}
		return fieldValue{amount: d, isAmount: true}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		// Numeric strings compare numerically against amount fields.
		if d, derr := decimal.NewFromString(s); derr == nil {
			return fieldValue{amount: d, str: s, isAmount: true}, nil
		}
		return fieldValue{str: s}, nil
	}

	return fieldValue{}, fmt.Errorf("malformed condition operand %s", raw)
}

func parseBetweenOperands(raw json.RawMessage) (fieldValue, fieldValue, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return fieldValue{}, fieldValue{}, fmt.Errorf("between requires a two-element array")
	}

	lo, err := parseScalarOperand(pair[0])
	if err != nil {
		return fieldValue{}, fieldValue{}, err
	}
	hi, err := parseScalarOperand(pair[1])
	if err != nil {
		return fieldValue{}, fieldValue{}, err
	}
	return lo, hi, nil
}

func parseListOperand(raw json.RawMessage) ([]fieldValue, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("in/not_in requires an array operand")
	}

	values := make([]fieldValue, 0, len(items))
	for _, item := range items {
		v, err := parseScalarOperand(item)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// evalCondition evaluates one condition against the context.
func evalCondition(cond domain.RuleCondition, ctx *Context) (bool, error) {
	field, err := resolveField(cond.Field, ctx)
	if err != nil {
		return false, err
	}

	switch cond.Operator {
	case domain.OpEquals:
		operand, err := parseScalarOperand(cond.Value)
		if err != nil {
			return false, err
		}
		return equalValues(field, operand), nil

	case domain.OpGreaterThan, domain.OpLessThan, domain.OpGreaterEqual, domain.OpLessEqual:
		operand, err := parseScalarOperand(cond.Value)
		if err != nil {
			return false, err
		}
		if !field.isAmount || !operand.isAmount {
			return false, fmt.Errorf("operator %s requires numeric operands for field %q", cond.Operator, cond.Field)
		}
		cmp := field.amount.Cmp(operand.amount)
		switch cond.Operator {
		case domain.OpGreaterThan:
			return cmp > 0, nil
		case domain.OpLessThan:
			return cmp < 0, nil
		case domain.OpGreaterEqual:
			return cmp >= 0, nil
		default:
			return cmp <= 0, nil
		}

	case domain.OpBetween:
		lo, hi, err := parseBetweenOperands(cond.Value)
		if err != nil {
			return false, err
		}
		if !field.isAmount || !lo.isAmount || !hi.isAmount {
			return false, fmt.Errorf("between requires numeric operands for field %q", cond.Field)
		}
		return field.amount.Cmp(lo.amount) >= 0 && field.amount.Cmp(hi.amount) <= 0, nil

	case domain.OpIn, domain.OpNotIn:
		values, err := parseListOperand(cond.Value)
		if err != nil {
			return false, err
		}
		found := false
		for _, v := range values {
			if equalValues(field, v) {
				found = true
				break
			}
		}
		if cond.Operator == domain.OpIn {
			return found, nil
		}
		return !found, nil

	default:
		return false, fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

func equalValues(a, b fieldValue) bool {
	if a.isAmount && b.isAmount {
		return a.amount.Equal(b.amount)
	}
	if !a.isAmount && !b.isAmount {
		return a.str == b.str
	}
	return false
}

// evalConditionGroups applies the OR-of-ANDs group semantics: within a
// group every required condition must pass; any one passing group
// satisfies the rule. Rules with no conditions always pass.
// Returns (passed, conditionsMet, error).
func evalConditionGroups(conds []domain.RuleCondition, ctx *Context) (bool, int, error) {
	if len(conds) == 0 {
		return true, 0, nil
	}

	groups := make(map[int][]domain.RuleCondition)
	for _, c := range conds {
		groups[c.Group] = append(groups[c.Group], c)
	}

	groupIDs := make([]int, 0, len(groups))
	for id := range groups {
		groupIDs = append(groupIDs, id)
	}
	sort.Ints(groupIDs)

	met := 0
	anyGroupPassed := false

	for _, id := range groupIDs {
		groupPassed := true
		for _, cond := range groups[id] {
			ok, err := evalCondition(cond, ctx)
			if err != nil {
				return false, met, err
			}
			if ok {
				met++
			} else if cond.Required {
				groupPassed = false
			}
		}
		if groupPassed {
			anyGroupPassed = true
		}
	}

	return anyGroupPassed, met, nil
}
