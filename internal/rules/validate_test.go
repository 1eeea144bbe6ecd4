package rules

import (
	"strings"
	"testing"
	"time"

	"github.com/fundops/harrier/internal/domain"
	"github.com/fundops/harrier/internal/money"
)

func validRule() *domain.Rule {
	return &domain.Rule{
		ID:            "test-rule",
		Version:       1,
		Name:          "Test rule",
		EntityType:    domain.EntityDistributor,
		VATMode:       domain.VATAdded,
		Basis:         domain.BasisDistributionAmount,
		Active:        true,
		EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Schedule: domain.PercentageSchedule{
			Rate:      money.MustParse("0.01"),
			MinAmount: money.Zero,
		},
	}
}

func problemMentioning(problems []Problem, fragment string) bool {
	for _, p := range problems {
		if strings.Contains(p.Message, fragment) {
			return true
		}
	}
	return false
}

func TestValidate(t *testing.T) {
	t.Run("SampleRulesAreValid", func(t *testing.T) {
		for _, rule := range SampleRules() {
			if problems := Validate(rule); len(problems) > 0 {
				t.Errorf("rule %s: unexpected problems %v", rule.ID, problems)
			}
		}
	})

	t.Run("UnknownEnums", func(t *testing.T) {
		rule := validRule()
		rule.EntityType = "broker"
		rule.VATMode = "sometimes"
		rule.Basis = "vibes"

		problems := Validate(rule)
		if len(problems) != 3 {
			t.Fatalf("expected 3 problems, got %d: %v", len(problems), problems)
		}
	})

	t.Run("InvertedEffectiveWindow", func(t *testing.T) {
		rule := validRule()
		before := rule.EffectiveFrom.Add(-24 * time.Hour)
		rule.EffectiveTo = &before

		if problems := Validate(rule); !problemMentioning(problems, "must precede") {
			t.Errorf("expected window problem, got %v", problems)
		}
	})

	t.Run("MissingSchedule", func(t *testing.T) {
		rule := validRule()
		rule.Schedule = nil

		if problems := Validate(rule); !problemMentioning(problems, "schedule is required") {
			t.Errorf("expected missing-schedule problem, got %v", problems)
		}
	})

	t.Run("NegativeRate", func(t *testing.T) {
		rule := validRule()
		rule.Schedule = domain.PercentageSchedule{Rate: money.MustParse("-0.01")}

		if problems := Validate(rule); !problemMentioning(problems, "must not be negative") {
			t.Errorf("expected negative-rate problem, got %v", problems)
		}
	})

	t.Run("MinNotBelowMax", func(t *testing.T) {
		max := money.MustParse("10")
		rule := validRule()
		rule.Schedule = domain.PercentageSchedule{
			Rate:      money.MustParse("0.01"),
			MinAmount: money.MustParse("100"),
			MaxAmount: &max,
		}

		if problems := Validate(rule); !problemMentioning(problems, "less than max_amount") {
			t.Errorf("expected min/max problem, got %v", problems)
		}
	})

	t.Run("TierGap", func(t *testing.T) {
		cap100 := money.MustParse("100")
		rule := validRule()
		rule.Schedule = domain.TieredSchedule{
			Tiers: []domain.Tier{
				{Order: 1, MinThreshold: money.Zero, MaxThreshold: &cap100, Rate: money.MustParse("0.01")},
				{Order: 2, MinThreshold: money.MustParse("200"), Rate: money.MustParse("0.02")},
			},
		}

		if problems := Validate(rule); !problemMentioning(problems, "gap between tier") {
			t.Errorf("expected gap problem, got %v", problems)
		}
	})

	t.Run("TierOverlap", func(t *testing.T) {
		cap100 := money.MustParse("100")
		rule := validRule()
		rule.Schedule = domain.TieredSchedule{
			Tiers: []domain.Tier{
				{Order: 1, MinThreshold: money.Zero, MaxThreshold: &cap100, Rate: money.MustParse("0.01")},
				{Order: 2, MinThreshold: money.MustParse("50"), Rate: money.MustParse("0.02")},
			},
		}

		if problems := Validate(rule); !problemMentioning(problems, "overlap between tier") {
			t.Errorf("expected overlap problem, got %v", problems)
		}
	})

	t.Run("UnboundedTierNotLast", func(t *testing.T) {
		cap100 := money.MustParse("100")
		rule := validRule()
		rule.Schedule = domain.TieredSchedule{
			Tiers: []domain.Tier{
				{Order: 1, MinThreshold: money.Zero, Rate: money.MustParse("0.01")},
				{Order: 2, MinThreshold: money.MustParse("50"), MaxThreshold: &cap100, Rate: money.MustParse("0.02")},
			},
		}

		if problems := Validate(rule); !problemMentioning(problems, "unbounded but not the last") {
			t.Errorf("expected unbounded-position problem, got %v", problems)
		}
	})

	t.Run("FirstTierMustStartAtZero", func(t *testing.T) {
		rule := validRule()
		rule.Schedule = domain.TieredSchedule{
			Tiers: []domain.Tier{
				{Order: 1, MinThreshold: money.MustParse("10"), Rate: money.MustParse("0.01")},
			},
		}

		if problems := Validate(rule); !problemMentioning(problems, "must start at 0") {
			t.Errorf("expected first-tier problem, got %v", problems)
		}
	})

	t.Run("TierOrdersNotAscending", func(t *testing.T) {
		cap100 := money.MustParse("100")
		rule := validRule()
		rule.Schedule = domain.TieredSchedule{
			Tiers: []domain.Tier{
				{Order: 2, MinThreshold: money.Zero, MaxThreshold: &cap100, Rate: money.MustParse("0.01")},
				{Order: 1, MinThreshold: cap100, Rate: money.MustParse("0.02")},
			},
		}

		if problems := Validate(rule); !problemMentioning(problems, "strictly ascending") {
			t.Errorf("expected order problem, got %v", problems)
		}
	})

	t.Run("EmptyTiers", func(t *testing.T) {
		rule := validRule()
		rule.Schedule = domain.TieredSchedule{}

		if problems := Validate(rule); !problemMentioning(problems, "at least one tier") {
			t.Errorf("expected empty-tiers problem, got %v", problems)
		}
	})

	t.Run("ConditionProblems", func(t *testing.T) {
		rule := validRule()
		rule.Conditions = []domain.RuleCondition{
			{Field: "", Operator: domain.OpEquals, Value: []byte(`"x"`)},
			{Field: "amount", Operator: "resembles", Value: []byte(`"x"`)},
			{Field: "amount", Operator: domain.OpBetween, Value: []byte(`[1]`)},
			{Field: "fund_name", Operator: domain.OpIn, Value: []byte(`"not-an-array"`)},
			{Field: "amount", Operator: domain.OpGreaterThan},
		}

		problems := Validate(rule)
		if len(problems) != 5 {
			t.Errorf("expected 5 problems, got %d: %v", len(problems), problems)
		}
	})
}
