// Package calc implements the pure commission calculation functions:
// schedule application, VAT treatment, and the audit trace. No I/O.
package calc

import (
	"errors"
	"fmt"

	"github.com/fundops/harrier/internal/domain"
	"github.com/fundops/harrier/internal/money"
	"github.com/shopspring/decimal"
)

// ErrNoApplicableTier is returned when a tiered schedule's brackets do
// not cover the full base amount.
var ErrNoApplicableTier = errors.New("no applicable tier covers the base amount")

// Input is the calculation request for one (event, role) pairing after
// rule selection.
type Input struct {
	// BaseAmount per the rule's calculation basis.
	BaseAmount decimal.Decimal

	// Discount reduces the base before rate application. Distinct from
	// credits, which net the payable amount after VAT.
	Discount decimal.Decimal

	// VATRate for the event's fund, from the caller's VATTable.
	VATRate decimal.Decimal
}

// Result is the commission computation before credit netting.
type Result struct {
	BaseAmount  decimal.Decimal
	AppliedRate decimal.Decimal
	TierApplied *int

	Gross decimal.Decimal
	VATRate decimal.Decimal
	VAT   decimal.Decimal
	Net   decimal.Decimal
	Total decimal.Decimal

	Trace []domain.TraceEntry
}

// Calculate applies the rule's schedule and VAT mode to the input.
// Order of operations is a correctness invariant, not a convention:
// discount -> schedule -> VAT (credit netting happens afterwards, on the
// payable amount, by the caller).
func Calculate(rule *domain.Rule, input Input) (*Result, error) {
	res := &Result{VATRate: input.VATRate}

	base := input.BaseAmount
	res.addTrace(domain.StepBaseAmount, "", "",
		map[string]string{"basis": string(rule.Basis)},
		map[string]string{"base_amount": base.String()})

	if input.Discount.IsPositive() {
		discounted := base.Sub(input.Discount)
		if discounted.IsNegative() {
			discounted = decimal.Zero
		}
		res.addTrace(domain.StepDiscount,
			"base - discount",
			"discount reduces the base before rate application",
			map[string]string{"base": base.String(), "discount": input.Discount.String()},
			map[string]string{"base": discounted.String()})
		base = discounted
	}
	res.BaseAmount = base

	if err := res.applySchedule(rule.Schedule, base); err != nil {
		return nil, err
	}

	if err := res.applyVAT(rule.VATMode, input.VATRate); err != nil {
		return nil, err
	}

	return res, nil
}

// applySchedule dispatches exhaustively over the closed schedule union.
func (r *Result) applySchedule(schedule domain.Schedule, base decimal.Decimal) error {
	switch s := schedule.(type) {
	case domain.PercentageSchedule:
		raw := base.Mul(s.Rate)
		r.AppliedRate = s.Rate
		r.Gross = raw
		r.addTrace(domain.StepSchedule,
			"gross = base x rate",
			"",
			map[string]string{"base": base.String(), "rate": s.Rate.String()},
			map[string]string{"gross": raw.String()})
		r.clamp(&s.MinAmount, s.MaxAmount)
		return nil

	case domain.FixedSchedule:
		r.Gross = s.Amount
		r.addTrace(domain.StepSchedule,
			"gross = fixed_amount",
			"fixed rules are not scaled by the base amount",
			map[string]string{"fixed_amount": s.Amount.String()},
			map[string]string{"gross": s.Amount.String()})
		return nil

	case domain.TieredSchedule:
		return r.applyTiers(s.Tiers, base)

	case domain.HybridSchedule:
		raw := s.FixedAmount.Add(base.Mul(s.Rate))
		r.AppliedRate = s.Rate
		r.Gross = raw
		r.addTrace(domain.StepSchedule,
			"gross = fixed_amount + base x rate",
			"",
			map[string]string{"base": base.String(), "rate": s.Rate.String(), "fixed_amount": s.FixedAmount.String()},
			map[string]string{"gross": raw.String()})
		r.clamp(&s.MinAmount, s.MaxAmount)
		return nil

	default:
		return fmt.Errorf("unknown schedule type %T", schedule)
	}
}

// applyTiers walks tiers in ascending order, charging each bracket's
// rate on the portion of base within [min_threshold, max_threshold).
func (r *Result) applyTiers(tiers []domain.Tier, base decimal.Decimal) error {
	gross := decimal.Zero
	covered := decimal.Zero

	for i := range tiers {
		tier := tiers[i]
		if base.LessThanOrEqual(tier.MinThreshold) {
			break
		}

		upper := base
		if tier.MaxThreshold != nil && upper.GreaterThan(*tier.MaxThreshold) {
			upper = *tier.MaxThreshold
		}

		portion := upper.Sub(tier.MinThreshold)
		if !portion.IsPositive() {
			continue
		}

		charge := tier.Rate.Mul(portion).Add(tier.FixedAmount)
		gross = gross.Add(charge)
		covered = covered.Add(portion)

		order := tier.Order
		r.TierApplied = &order
		r.AppliedRate = tier.Rate

		r.addTrace(domain.StepTier,
			"charge = rate x portion + fixed_amount",
			"",
			map[string]string{
				"tier":    fmt.Sprintf("%d", tier.Order),
				"portion": portion.String(),
				"rate":    tier.Rate.String(),
			},
			map[string]string{"charge": charge.String(), "gross": gross.String()})

		if upper.Equal(base) {
			break
		}
	}

	if covered.LessThan(base) {
		return fmt.Errorf("%w: %s of %s allocated", ErrNoApplicableTier, covered, base)
	}

	r.Gross = gross
	return nil
}

// clamp bounds the gross to [min, max] and records the adjustment.
func (r *Result) clamp(min, max *decimal.Decimal) {
	clamped := money.Clamp(r.Gross, min, max)
	if clamped.Equal(r.Gross) {
		return
	}

	bound := "min_amount"
	if max != nil && clamped.Equal(*max) {
		bound = "max_amount"
	}
	r.addTrace(domain.StepClamp,
		"gross = clamp(gross, min_amount, max_amount)",
		"clamped to "+bound,
		map[string]string{"gross": r.Gross.String()},
		map[string]string{"gross": clamped.String()})
	r.Gross = clamped
}

func (r *Result) addTrace(step, formula, notes string, inputs, outputs map[string]string) {
	r.Trace = append(r.Trace, domain.TraceEntry{
		Step:    step,
		Inputs:  inputs,
		Outputs: outputs,
		Formula: formula,
		Notes:   notes,
	})
}
