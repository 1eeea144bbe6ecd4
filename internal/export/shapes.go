// Package export renders calculation results into the standard report
// shapes and verifies locked runs by replay.
package export

import (
	"sort"
	"time"

	"github.com/fundops/harrier/internal/domain"
	"github.com/fundops/harrier/internal/money"
	"github.com/shopspring/decimal"
)

// Export shape names. The set is fixed; each shape has a stable column
// contract and its own checksum.
const (
	ShapeSummary = "summary"
	ShapeDetail  = "detail"
	ShapeVAT     = "vat"
	ShapeAudit   = "audit"
)

// ShapeNames lists all export shapes in rendering order.
var ShapeNames = []string{ShapeSummary, ShapeDetail, ShapeVAT, ShapeAudit}

// Monetary columns render at currency precision; rates keep full
// precision. Rounding happens here, at presentation, never earlier.
const currencyPlaces = 2

// SummaryRow aggregates commissions per entity and role.
type SummaryRow struct {
	EntityType      string `json:"entity_type"`
	EntityName      string `json:"entity_name"`
	GrossCommission string `json:"gross_commission"`
	VATAmount       string `json:"vat_amount"`
	NetCommission   string `json:"net_commission"`
	LineCount       int    `json:"line_count"`
}

// DetailRow is one calculation line.
type DetailRow struct {
	CalculationID   string `json:"calculation_id"`
	EntityType      string `json:"entity_type"`
	EntityName      string `json:"entity_name"`
	BaseAmount      string `json:"base_amount"`
	AppliedRate     string `json:"applied_rate"`
	GrossCommission string `json:"gross_commission"`
	VATRate         string `json:"vat_rate"`
	VATAmount       string `json:"vat_amount"`
	NetCommission   string `json:"net_commission"`
	RuleID          string `json:"rule_id"`
	CalculatedAt    string `json:"calculated_at"`
}

// VATRow groups commissions by effective VAT rate.
type VATRow struct {
	VATRate     string `json:"vat_rate"`
	GrossAmount string `json:"gross_amount"`
	VATAmount   string `json:"vat_amount"`
	NetAmount   string `json:"net_amount"`
	LineCount   int    `json:"line_count"`
}

// AuditRow carries the full trace context per calculation.
type AuditRow struct {
	CalculationID   string `json:"calculation_id"`
	RuleID          string `json:"rule_id"`
	RuleVersion     int    `json:"rule_version"`
	RuleSnapshot    string `json:"rule_snapshot"`
	BaseAmount      string `json:"base_amount"`
	TierApplied     *int   `json:"tier_applied"`
	AppliedRate     string `json:"applied_rate"`
	GrossCommission string `json:"gross_commission"`
	VATAmount       string `json:"vat_amount"`
	NetCommission   string `json:"net_commission"`
	ActorID         string `json:"actor_id"`
	StartedAt       string `json:"started_at"`
	FinishedAt      string `json:"finished_at"`
}

// Shapes holds all four rendered shapes for a run.
type Shapes struct {
	Summary []SummaryRow
	Detail  []DetailRow
	VAT     []VATRow
	Audit   []AuditRow

	// RoundingDiff is the aggregate delta introduced by presentation
	// rounding: sum over results of (rounded - exact) for gross, VAT
	// and net.
	RoundingDiff decimal.Decimal
}

// Rows returns the named shape's rows as a generic slice for hashing.
func (s *Shapes) Rows(shape string) []any {
	switch shape {
	case ShapeSummary:
		return toAny(s.Summary)
	case ShapeDetail:
		return toAny(s.Detail)
	case ShapeVAT:
		return toAny(s.VAT)
	case ShapeAudit:
		return toAny(s.Audit)
	}
	return nil
}

func toAny[T any](rows []T) []any {
	out := make([]any, len(rows))
	for i := range rows {
		out[i] = rows[i]
	}
	return out
}

// Build renders all shapes from a run's calculation results. Rows are
// canonically ordered so the output is independent of computation order.
func Build(results []*domain.CalculationResult) *Shapes {
	shapes := &Shapes{RoundingDiff: decimal.Zero}

	type entityKey struct {
		entityType string
		entityName string
	}
	summaries := make(map[entityKey]*SummaryAccumulator)
	vatGroups := make(map[string]*SummaryAccumulator)

	for _, res := range results {
		ek := entityKey{string(res.EntityType), res.EntityName}
		acc, ok := summaries[ek]
		if !ok {
			acc = newAccumulator()
			summaries[ek] = acc
		}
		acc.add(res)

		rateKey := res.VATRate.String()
		vacc, ok := vatGroups[rateKey]
		if !ok {
			vacc = newAccumulator()
			vatGroups[rateKey] = vacc
		}
		vacc.add(res)

		shapes.Detail = append(shapes.Detail, DetailRow{
			CalculationID:   res.ID,
			EntityType:      string(res.EntityType),
			EntityName:      res.EntityName,
			BaseAmount:      money.ToFixed(res.BaseAmount, currencyPlaces),
			AppliedRate:     res.AppliedRate.String(),
			GrossCommission: money.ToFixed(res.GrossCommission, currencyPlaces),
			VATRate:         res.VATRate.String(),
			VATAmount:       money.ToFixed(res.VATAmount, currencyPlaces),
			NetCommission:   money.ToFixed(res.NetCommission, currencyPlaces),
			RuleID:          res.RuleID,
			CalculatedAt:    res.CalculatedAt.UTC().Format(time.RFC3339),
		})

		shapes.Audit = append(shapes.Audit, AuditRow{
			CalculationID:   res.ID,
			RuleID:          res.RuleID,
			RuleVersion:     res.RuleVersion,
			RuleSnapshot:    string(res.RuleSnapshot),
			BaseAmount:      money.ToFixed(res.BaseAmount, currencyPlaces),
			TierApplied:     res.TierApplied,
			AppliedRate:     res.AppliedRate.String(),
			GrossCommission: money.ToFixed(res.GrossCommission, currencyPlaces),
			VATAmount:       money.ToFixed(res.VATAmount, currencyPlaces),
			NetCommission:   money.ToFixed(res.NetCommission, currencyPlaces),
			ActorID:         res.ActorID,
			StartedAt:       res.StartedAt.UTC().Format(time.RFC3339),
			FinishedAt:      res.CalculatedAt.UTC().Format(time.RFC3339),
		})

		shapes.RoundingDiff = shapes.RoundingDiff.
			Add(money.RoundTo(res.GrossCommission, currencyPlaces).Sub(res.GrossCommission)).
			Add(money.RoundTo(res.VATAmount, currencyPlaces).Sub(res.VATAmount)).
			Add(money.RoundTo(res.NetCommission, currencyPlaces).Sub(res.NetCommission))
	}

	for ek, acc := range summaries {
		shapes.Summary = append(shapes.Summary, SummaryRow{
			EntityType:      ek.entityType,
			EntityName:      ek.entityName,
			GrossCommission: money.ToFixed(acc.gross, currencyPlaces),
			VATAmount:       money.ToFixed(acc.vat, currencyPlaces),
			NetCommission:   money.ToFixed(acc.net, currencyPlaces),
			LineCount:       acc.lines,
		})
	}

	for rate, acc := range vatGroups {
		shapes.VAT = append(shapes.VAT, VATRow{
			VATRate:     rate,
			GrossAmount: money.ToFixed(acc.gross, currencyPlaces),
			VATAmount:   money.ToFixed(acc.vat, currencyPlaces),
			NetAmount:   money.ToFixed(acc.net, currencyPlaces),
			LineCount:   acc.lines,
		})
	}

	sort.Slice(shapes.Summary, func(i, j int) bool {
		if shapes.Summary[i].EntityType != shapes.Summary[j].EntityType {
			return shapes.Summary[i].EntityType < shapes.Summary[j].EntityType
		}
		return shapes.Summary[i].EntityName < shapes.Summary[j].EntityName
	})
	sort.Slice(shapes.Detail, func(i, j int) bool {
		return shapes.Detail[i].CalculationID < shapes.Detail[j].CalculationID
	})
	sort.Slice(shapes.VAT, func(i, j int) bool {
		return shapes.VAT[i].VATRate < shapes.VAT[j].VATRate
	})
	sort.Slice(shapes.Audit, func(i, j int) bool {
		return shapes.Audit[i].CalculationID < shapes.Audit[j].CalculationID
	})

	return shapes
}

// SummaryAccumulator sums exact amounts before presentation rounding.
type SummaryAccumulator struct {
	gross decimal.Decimal
	vat   decimal.Decimal
	net   decimal.Decimal
	lines int
}

func newAccumulator() *SummaryAccumulator {
	return &SummaryAccumulator{
		gross: decimal.Zero,
		vat:   decimal.Zero,
		net:   decimal.Zero,
	}
}

func (a *SummaryAccumulator) add(res *domain.CalculationResult) {
	a.gross = a.gross.Add(res.GrossCommission)
	a.vat = a.vat.Add(res.VATAmount)
	a.net = a.net.Add(res.NetCommission)
	a.lines++
}
