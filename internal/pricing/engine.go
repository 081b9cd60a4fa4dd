package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidPolicy is returned when a pricing policy carries negative values.
var ErrInvalidPolicy = errors.New("pricing: invalid policy")

// Line describes a priced cart line. UnitPrice is the price captured when the
// line was added and is never refreshed from the catalog.
type Line struct {
	ProductID string          `json:"productId"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// Amount returns UnitPrice multiplied by Quantity.
func (l Line) Amount() decimal.Decimal {
	if l.Quantity <= 0 {
		return decimal.Zero
	}
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Policy controls derived totals. TaxRate is a fraction (0.18 for 18%).
type Policy struct {
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
	TaxRate               decimal.Decimal
}

// Validate rejects policies with negative components.
func (p Policy) Validate() error {
	if p.FreeShippingThreshold.IsNegative() || p.FlatShippingFee.IsNegative() || p.TaxRate.IsNegative() {
		return ErrInvalidPolicy
	}
	return nil
}

// Snapshot aggregates computed pricing components.
type Snapshot struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	ShippingFee decimal.Decimal `json:"shippingFee"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
}

// Compute calculates cart totals for the provided lines under policy.
// Shipping is waived when the subtotal reaches the threshold and a zero
// subtotal never incurs shipping. Tax is rounded to two decimal places.
func Compute(lines []Line, policy Policy) Snapshot {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Amount())
	}
	shipping := decimal.Zero
	if subtotal.IsPositive() && subtotal.LessThan(policy.FreeShippingThreshold) {
		shipping = policy.FlatShippingFee
	}
	tax := subtotal.Mul(policy.TaxRate).Round(2)
	return Snapshot{
		Subtotal:    subtotal,
		ShippingFee: shipping,
		Tax:         tax,
		Total:       subtotal.Add(shipping).Add(tax),
	}
}

// ItemCount sums the quantities across lines.
func ItemCount(lines []Line) int {
	n := 0
	for _, l := range lines {
		if l.Quantity > 0 {
			n += l.Quantity
		}
	}
	return n
}
