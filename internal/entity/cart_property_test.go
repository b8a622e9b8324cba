//go:build property
// +build property

package domain_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	domain "github.com/aq2208/gcheckout/internal/entity"
)

// Property: total == round2(subtotal*1.15) and a freshly built snapshot always validates.
func TestCartTotalsInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("totals follow subtotal", prop.ForAll(
		func(minor int64) bool {
			sub := decimal.New(minor, -2)
			tax, total := domain.Totals(sub)
			return tax.Equal(sub.Mul(domain.TaxRate).Round(2)) &&
				total.Equal(sub.Mul(decimal.RequireFromString("1.15")).Round(2))
		},
		gen.Int64Range(0, 99999999),
	))

	properties.Property("built snapshots validate", prop.ForAll(
		func(prices []int64, qty int) bool {
			items := make([]domain.LineItem, 0, len(prices))
			for i, p := range prices {
				items = append(items, domain.LineItem{
					ProductID: string(rune('a' + i%26)),
					UnitPrice: decimal.New(p, -2),
					Quantity:  qty,
				})
			}
			c := domain.NewCartSnapshot("SAR", items)
			if !c.Total.IsPositive() {
				return c.Validate() != nil
			}
			return c.Validate() == nil
		},
		gen.SliceOfN(5, gen.Int64Range(0, 500000)),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
