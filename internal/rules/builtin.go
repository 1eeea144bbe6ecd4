package rules

import (
	"time"

	"github.com/fundops/harrier/internal/domain"
	"github.com/fundops/harrier/internal/money"
)

// BuiltinRules returns an empty slice - production rules must be
// configured via the database and created through POST /rules.
func BuiltinRules() []*domain.Rule {
	return []*domain.Rule{}
}

// SampleRules returns a small sealed rule set for demos and tests:
// a wildcard percentage rule per role plus a tiered distributor
// schedule that takes precedence for the "Atlas Growth Fund".
func SampleRules() []*domain.Rule {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cap100k := money.MustParse("100000")

	set := []*domain.Rule{
		{
			ID:         "dist-tiered-atlas",
			Version:    1,
			Name:       "Atlas distributor tiered schedule",
			EntityType: domain.EntityDistributor,
			Priority:   1,
			VATMode:    domain.VATAdded,
			Basis:      domain.BasisDistributionAmount,
			Active:     true,
			EffectiveFrom: from,
			Schedule: domain.TieredSchedule{
				Tiers: []domain.Tier{
					{Order: 1, MinThreshold: money.Zero, MaxThreshold: &cap100k, Rate: money.MustParse("0.01")},
					{Order: 2, MinThreshold: cap100k, Rate: money.MustParse("0.015")},
				},
			},
			Conditions: []domain.RuleCondition{
				{
					Field:    "fund_name",
					Operator: domain.OpEquals,
					Value:    []byte(`"Atlas Growth Fund"`),
					Required: true,
				},
			},
		},
		{
			ID:         "dist-standard-pct",
			Version:    1,
			Name:       "Standard distributor percentage",
			EntityType: domain.EntityDistributor,
			Priority:   10,
			VATMode:    domain.VATAdded,
			Basis:      domain.BasisDistributionAmount,
			Active:     true,
			EffectiveFrom: from,
			Schedule: domain.PercentageSchedule{
				Rate:      money.MustParse("0.008"),
				MinAmount: money.MustParse("50"),
			},
		},
		{
			ID:         "ref-standard-pct",
			Version:    1,
			Name:       "Standard referrer percentage",
			EntityType: domain.EntityReferrer,
			Priority:   10,
			VATMode:    domain.VATIncluded,
			Basis:      domain.BasisDistributionAmount,
			Active:     true,
			EffectiveFrom: from,
			Schedule: domain.PercentageSchedule{
				Rate:      money.MustParse("0.005"),
				MinAmount: money.Zero,
			},
		},
		{
			ID:         "partner-flat-fee",
			Version:    1,
			Name:       "Partner onboarding flat fee",
			EntityType: domain.EntityPartner,
			Priority:   10,
			VATMode:    domain.VATNotApplicable,
			Basis:      domain.BasisDistributionAmount,
			Active:     true,
			EffectiveFrom: from,
			Schedule:   domain.FixedSchedule{Amount: money.MustParse("250")},
		},
	}

	for _, r := range set {
		// Sample rules are static; sealing cannot fail.
		_ = Seal(r)
	}
	return set
}
