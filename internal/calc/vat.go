package calc

import (
	"fmt"

	"github.com/fundops/harrier/internal/domain"
	"github.com/fundops/harrier/internal/money"
	"github.com/shopspring/decimal"
)

// applyVAT splits the gross commission per the rule's VAT mode.
//
//	added:          vat = gross x rate;        total = gross + vat; net = gross
//	included:       vat = gross x rate/(1+r);  net = gross - vat;  total = gross
//	not_applicable: vat = 0;                   net = total = gross
func (r *Result) applyVAT(mode domain.VATMode, rate decimal.Decimal) error {
	switch mode {
	case domain.VATAdded:
		r.VAT = r.Gross.Mul(rate)
		r.Net = r.Gross
		r.Total = r.Gross.Add(r.VAT)
		r.addTrace(domain.StepVAT,
			"vat = gross x vat_rate; total = gross + vat",
			"VAT added on top of the quoted commission",
			map[string]string{"gross": r.Gross.String(), "vat_rate": rate.String()},
			map[string]string{"vat": r.VAT.String(), "net": r.Net.String(), "total": r.Total.String()})

	case domain.VATIncluded:
		divisor := decimal.New(1, 0).Add(rate)
		vat, err := money.Div(r.Gross.Mul(rate), divisor)
		if err != nil {
			return fmt.Errorf("vat extraction: %w", err)
		}
		r.VAT = vat
		r.Net = r.Gross.Sub(vat)
		r.Total = r.Gross
		r.addTrace(domain.StepVAT,
			"vat = gross x vat_rate / (1 + vat_rate); net = gross - vat",
			"VAT extracted from the quoted commission",
			map[string]string{"gross": r.Gross.String(), "vat_rate": rate.String()},
			map[string]string{"vat": r.VAT.String(), "net": r.Net.String(), "total": r.Total.String()})

	case domain.VATNotApplicable:
		r.VAT = decimal.Zero
		r.VATRate = decimal.Zero
		r.Net = r.Gross
		r.Total = r.Gross
		r.addTrace(domain.StepVAT,
			"vat = 0",
			"no VAT treatment",
			map[string]string{"gross": r.Gross.String()},
			map[string]string{"net": r.Net.String(), "total": r.Total.String()})

	default:
		return fmt.Errorf("unknown VAT mode %q", mode)
	}

	return nil
}
