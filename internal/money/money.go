// Package money converts decimal amounts into the representations gateways
// and customers need: minor or major gateway units, locale formatted display
// strings, and back.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Units selects the amount representation a gateway expects.
type Units int

const (
	MajorUnits Units = iota
	MinorUnits
)

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// Scale returns the ISO 4217 minor-unit exponent for code (2 for SAR).
func Scale(code string) (int32, error) {
	u, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return 0, fmt.Errorf("currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(u)
	return int32(scale), nil
}

// GatewayAmount is an amount ready to be put on the wire.
type GatewayAmount struct {
	Units    Units
	Minor    int64
	Major    decimal.Decimal
	Scale    int32
	Currency string
}

// String renders the amount the way it goes into a request body:
// an integer for minor units, a fixed-scale decimal otherwise.
func (a GatewayAmount) String() string {
	if a.Units == MinorUnits {
		return fmt.Sprintf("%d", a.Minor)
	}
	return a.Major.StringFixed(a.Scale)
}

// ToGatewayUnits converts a major-unit amount for a gateway. Minor units are
// round(amount * 10^scale), which is round(amount*100) for two-decimal currencies.
func ToGatewayUnits(amount decimal.Decimal, code string, units Units) (GatewayAmount, error) {
	if amount.IsNegative() {
		return GatewayAmount{}, fmt.Errorf("negative amount %s", amount)
	}
	scale, err := Scale(code)
	if err != nil {
		return GatewayAmount{}, err
	}
	out := GatewayAmount{Units: units, Scale: scale, Currency: strings.ToUpper(code)}
	rounded := amount.Round(scale)
	out.Major = rounded
	if units == MinorUnits {
		out.Minor = amount.Shift(scale).Round(0).IntPart()
	}
	return out, nil
}

// FromMinorUnits is the inverse of ToGatewayUnits for minor-unit gateways.
func FromMinorUnits(minor int64, code string) (decimal.Decimal, error) {
	scale, err := Scale(code)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(minor, -scale), nil
}
