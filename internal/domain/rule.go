package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies which commission-earning role a rule applies to.
type EntityType string

const (
	EntityDistributor EntityType = "distributor"
	EntityReferrer    EntityType = "referrer"
	EntityPartner     EntityType = "partner"
)

// EntityTypes lists all commission-earning roles in processing order.
var EntityTypes = []EntityType{EntityDistributor, EntityReferrer, EntityPartner}

// RuleType is the closed set of commission schedule shapes.
type RuleType string

const (
	RulePercentage RuleType = "percentage"
	RuleFixed      RuleType = "fixed"
	RuleTiered     RuleType = "tiered"
	RuleHybrid     RuleType = "hybrid"
)

// VATMode determines how VAT is applied to the gross commission.
type VATMode string

const (
	// VATIncluded means the quoted rate already contains tax; VAT is
	// extracted from the gross amount.
	VATIncluded VATMode = "included"

	// VATAdded means tax is layered on top of the gross amount.
	VATAdded VATMode = "added"

	// VATNotApplicable means no VAT treatment.
	VATNotApplicable VATMode = "not_applicable"
)

// CalculationBasis selects the amount a rule's schedule is applied to.
type CalculationBasis string

const (
	BasisDistributionAmount CalculationBasis = "distribution_amount"
	BasisCumulativeAmount   CalculationBasis = "cumulative_amount"
	BasisMonthlyVolume      CalculationBasis = "monthly_volume"
	BasisQuarterlyVolume    CalculationBasis = "quarterly_volume"
	BasisAnnualVolume       CalculationBasis = "annual_volume"
)

// Rule is a versioned, immutable commission rule. Once a completed run has
// referenced a version, edits create a new version; the checksum pins the
// exact content into every calculation that used it.
type Rule struct {
	ID       string `json:"id"`
	Version  int    `json:"version"`
	Checksum string `json:"checksum,omitempty"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	EntityType EntityType `json:"entityType"`

	// EntityName empty means wildcard: the rule matches any entity of its type.
	EntityName string `json:"entityName,omitempty"`

	// Priority orders evaluation; lower evaluates first.
	Priority int `json:"priority"`

	VATMode VATMode          `json:"vatMode"`
	Basis   CalculationBasis `json:"calculationBasis"`

	EffectiveFrom time.Time  `json:"effectiveFrom"`
	EffectiveTo   *time.Time `json:"effectiveTo,omitempty"`

	Active bool `json:"active"`

	// Schedule carries the type-specific rate terms. Exactly one variant
	// per RuleType; see PercentageSchedule, FixedSchedule, TieredSchedule,
	// HybridSchedule.
	Schedule Schedule `json:"-"`

	Conditions []RuleCondition `json:"conditions,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Schedule is the closed tagged union of commission schedule shapes.
type Schedule interface {
	Type() RuleType
}

// PercentageSchedule computes gross = clamp(base x rate, min, max).
type PercentageSchedule struct {
	Rate      decimal.Decimal  `json:"rate"`
	MinAmount decimal.Decimal  `json:"minAmount"`
	MaxAmount *decimal.Decimal `json:"maxAmount,omitempty"`
}

func (PercentageSchedule) Type() RuleType { return RulePercentage }

// FixedSchedule pays a flat amount regardless of base. Fixed rules carry
// no min/max: clamping only applies to scaled schedules.
type FixedSchedule struct {
	Amount decimal.Decimal `json:"fixedAmount"`
}

func (FixedSchedule) Type() RuleType { return RuleFixed }

// Tier is a contiguous amount bracket with its own rate and/or flat fee.
// The bracket covers [MinThreshold, MaxThreshold); a nil MaxThreshold is
// unbounded above.
type Tier struct {
	Order        int              `json:"order"`
	MinThreshold decimal.Decimal  `json:"minThreshold"`
	MaxThreshold *decimal.Decimal `json:"maxThreshold,omitempty"`
	Rate         decimal.Decimal  `json:"rate"`
	FixedAmount  decimal.Decimal  `json:"fixedAmount"`
}

// TieredSchedule walks tiers in ascending order, charging each bracket's
// rate on the portion of the base that falls within it.
type TieredSchedule struct {
	Tiers []Tier `json:"tiers"`
}

func (TieredSchedule) Type() RuleType { return RuleTiered }

// HybridSchedule computes gross = clamp(fixed + rate x base, min, max).
type HybridSchedule struct {
	Rate        decimal.Decimal  `json:"rate"`
	FixedAmount decimal.Decimal  `json:"fixedAmount"`
	MinAmount   decimal.Decimal  `json:"minAmount"`
	MaxAmount   *decimal.Decimal `json:"maxAmount,omitempty"`
}

func (HybridSchedule) Type() RuleType { return RuleHybrid }

// ConditionOperator is the closed set of condition comparisons.
type ConditionOperator string

const (
	OpEquals       ConditionOperator = "equals"
	OpGreaterThan  ConditionOperator = "greater_than"
	OpLessThan     ConditionOperator = "less_than"
	OpGreaterEqual ConditionOperator = "greater_equal"
	OpLessEqual    ConditionOperator = "less_equal"
	OpBetween      ConditionOperator = "between"
	OpIn           ConditionOperator = "in"
	OpNotIn        ConditionOperator = "not_in"
)

// RuleCondition gates rule applicability. Within a group all required
// conditions must pass (AND); across groups any one passing group
// satisfies the rule (OR-of-ANDs).
type RuleCondition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`

	// Value holds the comparison operand(s): a JSON scalar for the
	// relational operators, a two-element array for between, an array
	// for in/not_in.
	Value json.RawMessage `json:"value"`

	Required bool `json:"required"`
	Group    int  `json:"group"`
}

// scheduleEnvelope is the wire/storage form of a Schedule.
type scheduleEnvelope struct {
	Type        RuleType         `json:"type"`
	Rate        *decimal.Decimal `json:"rate,omitempty"`
	FixedAmount *decimal.Decimal `json:"fixedAmount,omitempty"`
	MinAmount   *decimal.Decimal `json:"minAmount,omitempty"`
	MaxAmount   *decimal.Decimal `json:"maxAmount,omitempty"`
	Tiers       []Tier           `json:"tiers,omitempty"`
}

// EncodeSchedule serializes a schedule with its type tag.
func EncodeSchedule(s Schedule) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("schedule is required")
	}

	var env scheduleEnvelope
	env.Type = s.Type()

	switch v := s.(type) {
	case PercentageSchedule:
		env.Rate = &v.Rate
		env.MinAmount = &v.MinAmount
		env.MaxAmount = v.MaxAmount
	case FixedSchedule:
		env.FixedAmount = &v.Amount
	case TieredSchedule:
		env.Tiers = v.Tiers
	case HybridSchedule:
		env.Rate = &v.Rate
		env.FixedAmount = &v.FixedAmount
		env.MinAmount = &v.MinAmount
		env.MaxAmount = v.MaxAmount
	default:
		return nil, fmt.Errorf("unknown schedule type %T", s)
	}

	return json.Marshal(env)
}

// DecodeSchedule parses a schedule from its tagged wire form.
func DecodeSchedule(data []byte) (Schedule, error) {
	var env scheduleEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse schedule: %w", err)
	}

	switch env.Type {
	case RulePercentage:
		s := PercentageSchedule{MaxAmount: env.MaxAmount}
		if env.Rate != nil {
			s.Rate = *env.Rate
		}
		if env.MinAmount != nil {
			s.MinAmount = *env.MinAmount
		}
		return s, nil

	case RuleFixed:
		s := FixedSchedule{}
		if env.FixedAmount != nil {
			s.Amount = *env.FixedAmount
		}
		return s, nil

	case RuleTiered:
		return TieredSchedule{Tiers: env.Tiers}, nil

	case RuleHybrid:
		s := HybridSchedule{MaxAmount: env.MaxAmount}
		if env.Rate != nil {
			s.Rate = *env.Rate
		}
		if env.FixedAmount != nil {
			s.FixedAmount = *env.FixedAmount
		}
		if env.MinAmount != nil {
			s.MinAmount = *env.MinAmount
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown schedule type %q", env.Type)
	}
}

// ruleJSON is Rule with the schedule flattened into its envelope form.
type ruleJSON struct {
	ID            string           `json:"id"`
	Version       int              `json:"version"`
	Checksum      string           `json:"checksum,omitempty"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	EntityType    EntityType       `json:"entityType"`
	EntityName    string           `json:"entityName,omitempty"`
	Priority      int              `json:"priority"`
	VATMode       VATMode          `json:"vatMode"`
	Basis         CalculationBasis `json:"calculationBasis"`
	EffectiveFrom time.Time        `json:"effectiveFrom"`
	EffectiveTo   *time.Time       `json:"effectiveTo,omitempty"`
	Active        bool             `json:"active"`
	Schedule      json.RawMessage  `json:"schedule"`
	Conditions    []RuleCondition  `json:"conditions,omitempty"`
	CreatedAt     time.Time        `json:"createdAt,omitempty"`
	UpdatedAt     time.Time        `json:"updatedAt,omitempty"`
}

// MarshalJSON flattens the schedule union into its tagged envelope.
func (r Rule) MarshalJSON() ([]byte, error) {
	sched, err := EncodeSchedule(r.Schedule)
	if err != nil {
		return nil, err
	}

	return json.Marshal(ruleJSON{
		ID:            r.ID,
		Version:       r.Version,
		Checksum:      r.Checksum,
		Name:          r.Name,
		Description:   r.Description,
		EntityType:    r.EntityType,
		EntityName:    r.EntityName,
		Priority:      r.Priority,
		VATMode:       r.VATMode,
		Basis:         r.Basis,
		EffectiveFrom: r.EffectiveFrom,
		EffectiveTo:   r.EffectiveTo,
		Active:        r.Active,
		Schedule:      sched,
		Conditions:    r.Conditions,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	})
}

// UnmarshalJSON restores the schedule union from its tagged envelope.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var rj ruleJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return err
	}

	sched, err := DecodeSchedule(rj.Schedule)
	if err != nil {
		return err
	}

	*r = Rule{
		ID:            rj.ID,
		Version:       rj.Version,
		Checksum:      rj.Checksum,
		Name:          rj.Name,
		Description:   rj.Description,
		EntityType:    rj.EntityType,
		EntityName:    rj.EntityName,
		Priority:      rj.Priority,
		VATMode:       rj.VATMode,
		Basis:         rj.Basis,
		EffectiveFrom: rj.EffectiveFrom,
		EffectiveTo:   rj.EffectiveTo,
		Active:        rj.Active,
		Schedule:      sched,
		Conditions:    rj.Conditions,
		CreatedAt:     rj.CreatedAt,
		UpdatedAt:     rj.UpdatedAt,
	}
	return nil
}

// InEffect reports whether the rule's validity window covers t.
// Either bound may be open.
func (r *Rule) InEffect(t time.Time) bool {
	if t.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && t.After(*r.EffectiveTo) {
		return false
	}
	return true
}

// MatchesEntity reports whether the rule applies to the named entity.
// Wildcard rules (empty EntityName) match any entity of the right type.
func (r *Rule) MatchesEntity(entityType EntityType, entityName string) bool {
	if r.EntityType != entityType {
		return false
	}
	return r.EntityName == "" || r.EntityName == entityName
}
