package domain

import (
	"fmt"

	"github.com/aq2208/gcheckout/internal/apperr"
	"github.com/aq2208/gcheckout/internal/money"
	"github.com/shopspring/decimal"
)

// TaxRate is the fixed VAT applied on the subtotal.
var TaxRate = decimal.RequireFromString("0.15")

type LineItem struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// CartSnapshot is the cart as it was when the customer pressed pay. It is
// never mutated after an intent is created for it.
type CartSnapshot struct {
	Items     []LineItem      `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"itemCount"`
	Currency  string          `json:"currency"`
}

// Totals derives tax and total from a subtotal.
func Totals(subtotal decimal.Decimal) (tax, total decimal.Decimal) {
	subtotal = money.Round2(subtotal)
	tax = money.Round2(subtotal.Mul(TaxRate))
	total = money.Round2(subtotal.Add(tax))
	return tax, total
}

// Subtotal is Σ unitPrice×quantity rounded to two places.
func Subtotal(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return money.Round2(sum)
}

// NewCartSnapshot builds a snapshot with consistent totals.
func NewCartSnapshot(currency string, items []LineItem) CartSnapshot {
	sub := Subtotal(items)
	tax, total := Totals(sub)
	count := 0
	for _, it := range items {
		count += it.Quantity
	}
	return CartSnapshot{
		Items:     append([]LineItem(nil), items...),
		Subtotal:  sub,
		Tax:       tax,
		Total:     total,
		ItemCount: count,
		Currency:  currency,
	}
}

// Validate recomputes the totals and rejects a snapshot that disagrees with them.
func (c CartSnapshot) Validate() error {
	if len(c.Items) == 0 {
		return apperr.Validation("cart.items", "cart is empty")
	}
	if _, err := money.Scale(c.Currency); err != nil {
		return apperr.Validation("cart.currency", "unsupported currency")
	}
	count := 0
	for i, it := range c.Items {
		field := fmt.Sprintf("cart.items[%d]", i)
		if it.ProductID == "" {
			return apperr.Validation(field+".productId", "product id required")
		}
		if it.Quantity <= 0 {
			return apperr.Validation(field+".quantity", "quantity must be positive")
		}
		if it.UnitPrice.IsNegative() {
			return apperr.Validation(field+".unitPrice", "unit price must not be negative")
		}
		count += it.Quantity
	}
	if count != c.ItemCount {
		return apperr.Validation("cart.itemCount", "item count does not match items")
	}

	sub := Subtotal(c.Items)
	tax, total := Totals(sub)
	switch {
	case !sub.Equal(c.Subtotal):
		return apperr.Validation("cart.subtotal", fmt.Sprintf("subtotal %s does not match items (%s)", c.Subtotal, sub))
	case !tax.Equal(c.Tax):
		return apperr.Validation("cart.tax", fmt.Sprintf("tax %s does not match subtotal (%s)", c.Tax, tax))
	case !total.Equal(c.Total):
		return apperr.Validation("cart.total", fmt.Sprintf("total %s does not match (%s)", c.Total, total))
	case !total.IsPositive():
		return apperr.Validation("cart.total", "amount must be positive")
	}
	return nil
}
