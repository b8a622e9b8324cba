//go:build property
// +build property

package money_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/aq2208/gcheckout/internal/money"
)

// Property: Parse(Format(x)) == Round2(x) for non-negative amounts with at most two decimals.
func TestFormatParseRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	locales := []string{"en-US", "ar-SA", "de-DE", "fr-FR"}

	properties.Property("format then parse returns the rounded amount", prop.ForAll(
		func(minor int64, li int) bool {
			amount := decimal.New(minor, -2)
			loc := locales[li]
			f, err := money.Format(amount, loc, money.Options{Currency: "SAR"})
			if err != nil {
				return false
			}
			got, err := money.Parse(f.Full, loc)
			if err != nil {
				return false
			}
			return got.Equal(money.Round2(amount))
		},
		gen.Int64Range(0, 99999999999),
		gen.IntRange(0, len(locales)-1),
	))

	properties.TestingRun(t)
}

// Property: minor units are exactly the amount shifted by two places.
func TestMinorUnitsExact(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("minor units equal amount*100 for two-decimal amounts", prop.ForAll(
		func(minor int64) bool {
			a, err := money.ToGatewayUnits(decimal.New(minor, -2), "SAR", money.MinorUnits)
			return err == nil && a.Minor == minor
		},
		gen.Int64Range(0, 99999999999),
	))

	properties.TestingRun(t)
}
