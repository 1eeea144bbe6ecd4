package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDivByZero(t *testing.T) {
	_, err := Div(MustParse("100"), decimal.Zero)
	if !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestDivPrecision(t *testing.T) {
	got, err := Div(MustParse("1"), MustParse("3"))
	if err != nil {
		t.Fatalf("div failed: %v", err)
	}

	// At least 9 fractional digits of internal precision.
	want := MustParse("0.333333333")
	if got.Sub(want).Abs().GreaterThan(MustParse("0.0000001")) {
		t.Errorf("expected ~0.333333333, got %s", got)
	}
	if got.Exponent() > -9 {
		t.Errorf("expected >= 9 fractional digits, got exponent %d", got.Exponent())
	}
}

func TestRoundToHalfUp(t *testing.T) {
	cases := []struct {
		in     string
		places int32
		want   string
	}{
		{"2.345", 2, "2.35"},
		{"2.344", 2, "2.34"},
		{"297.505", 2, "297.51"},
		{"0.5", 0, "1"},
		{"1750", 2, "1750"},
	}

	for _, c := range cases {
		got := RoundTo(MustParse(c.in), c.places)
		if !got.Equal(MustParse(c.want)) {
			t.Errorf("RoundTo(%s, %d) = %s, want %s", c.in, c.places, got, c.want)
		}
	}
}

func TestToFixed(t *testing.T) {
	if got := ToFixed(MustParse("1750"), 2); got != "1750.00" {
		t.Errorf("expected 1750.00, got %s", got)
	}
	if got := ToFixed(MustParse("297.5"), 2); got != "297.50" {
		t.Errorf("expected 297.50, got %s", got)
	}
}

func TestClamp(t *testing.T) {
	min := MustParse("100")
	max := MustParse("500")

	if got := Clamp(MustParse("50"), &min, &max); !got.Equal(min) {
		t.Errorf("expected clamp to min, got %s", got)
	}
	if got := Clamp(MustParse("900"), &min, &max); !got.Equal(max) {
		t.Errorf("expected clamp to max, got %s", got)
	}
	if got := Clamp(MustParse("250"), &min, &max); !got.Equal(MustParse("250")) {
		t.Errorf("expected passthrough, got %s", got)
	}
	if got := Clamp(MustParse("900"), &min, nil); !got.Equal(MustParse("900")) {
		t.Errorf("expected open upper bound, got %s", got)
	}
}

func TestValueEquality(t *testing.T) {
	// Equality is value-based, not representation-based.
	a := MustParse("1.50")
	b := MustParse("1.5")
	if !a.Equal(b) {
		t.Error("1.50 and 1.5 should be equal")
	}
}
