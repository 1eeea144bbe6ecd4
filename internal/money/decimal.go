// Package money provides precision-decimal arithmetic for commission amounts.
// All monetary values that reach a persisted result route through
// shopspring/decimal; float64 is never used for money.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrDivisionByZero is returned when a divisor is zero.
var ErrDivisionByZero = errors.New("division by zero")

func init() {
	// Internal precision for division results. The audit contract requires
	// at least 9 fractional digits before presentation rounding.
	decimal.DivisionPrecision = 16
}

// Zero is the zero amount.
var Zero = decimal.Zero

// New builds a decimal from an unscaled value and exponent.
func New(value int64, exp int32) decimal.Decimal {
	return decimal.New(value, exp)
}

// FromString parses a decimal string.
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustParse parses a decimal string and panics on failure.
// For constants in tests and built-in rule definitions only.
func MustParse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Div divides a by b, returning ErrDivisionByZero on a zero divisor
// instead of panicking.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	return a.Div(b), nil
}

// RoundTo rounds half-up to the given number of fractional digits.
func RoundTo(d decimal.Decimal, places int32) decimal.Decimal {
	// decimal.Round rounds half away from zero; amounts in this domain are
	// non-negative, so this is round-half-up.
	return d.Round(places)
}

// ToFixed renders d with exactly the given number of fractional digits.
// Presentation only; never feed the result back into arithmetic.
func ToFixed(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

// Clamp bounds d to [min, max]. A nil bound is open.
func Clamp(d decimal.Decimal, min, max *decimal.Decimal) decimal.Decimal {
	if min != nil && d.LessThan(*min) {
		return *min
	}
	if max != nil && d.GreaterThan(*max) {
		return *max
	}
	return d
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
