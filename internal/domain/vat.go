package domain

import "github.com/shopspring/decimal"

// VATTable maps funds to their jurisdiction VAT rate. It is passed
// explicitly into every calculation call; pure calculation functions
// carry no ambient default rate.
type VATTable struct {
	DefaultRate decimal.Decimal            `json:"defaultRate"`
	RatesByFund map[string]decimal.Decimal `json:"ratesByFund,omitempty"`
}

// RateFor returns the VAT rate for a fund, falling back to the default.
func (t VATTable) RateFor(fundName string) decimal.Decimal {
	if r, ok := t.RatesByFund[fundName]; ok {
		return r
	}
	return t.DefaultRate
}
