package domain

// PricingPolicy holds the monetary rules applied when an order is assembled. Amounts are minor units.
type PricingPolicy struct {
	TaxRatePercent        int64
	FreeShippingThreshold int64
	FlatShippingFee       int64
	Currency              string
}

// DefaultPricingPolicy returns 10% tax with a flat 5.00 shipping fee below a 100.00 subtotal.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		TaxRatePercent:        10,
		FreeShippingThreshold: 10000,
		FlatShippingFee:       500,
		Currency:              "INR",
	}
}

// LineTax rounds half up to the nearest minor unit.
func (p PricingPolicy) LineTax(lineSubtotal int64) int64 {
	if lineSubtotal <= 0 || p.TaxRatePercent <= 0 {
		return 0
	}
	return (lineSubtotal*p.TaxRatePercent + 50) / 100
}

// ShippingFor returns the shipping fee owed for the given subtotal.
func (p PricingPolicy) ShippingFor(subtotal int64) int64 {
	if subtotal < p.FreeShippingThreshold {
		return p.FlatShippingFee
	}
	return 0
}

// OrderTotals aggregates the amounts persisted on an order.
type OrderTotals struct {
	Subtotal    int64
	TaxAmount   int64
	ShippingFee int64
	TotalAmount int64
}
