package services

import (
	"fmt"
	"strings"

	domain "github.com/pawmart/api/internal/domain"
)

// Assembly is a priced set of order lines with totals computed once.
type Assembly struct {
	Items  []OrderItem
	Totals OrderTotals
}

// OrderAssembler prices cart lines against current product data.
type OrderAssembler struct {
	policy PricingPolicy
}

// NewOrderAssembler returns an assembler using policy, or the default policy when policy has no rates set.
func NewOrderAssembler(policy PricingPolicy) OrderAssembler {
	if policy == (PricingPolicy{}) {
		policy = domain.DefaultPricingPolicy()
	}
	return OrderAssembler{policy: policy}
}

// Policy returns the pricing policy in effect.
func (a OrderAssembler) Policy() PricingPolicy { return a.policy }

// Assemble prices every cart line at the product's list price. Tax accumulates per line; shipping is added
// once after all lines are summed.
func (a OrderAssembler) Assemble(items []CartItem, products map[string]Product) (Assembly, error) {
	if len(items) == 0 {
		return Assembly{}, ErrOrderEmptyCart
	}

	out := Assembly{Items: make([]OrderItem, 0, len(items))}
	var subtotal, tax int64
	for _, item := range items {
		ref := strings.TrimSpace(item.ProductRef)
		if item.Quantity <= 0 {
			return Assembly{}, fmt.Errorf("%w: quantity for %s must be positive", ErrOrderInvalidInput, ref)
		}
		product, ok := products[ref]
		if !ok {
			return Assembly{}, fmt.Errorf("%w: %s", ErrOrderProductNotFound, ref)
		}
		if product.Price < 0 {
			return Assembly{}, fmt.Errorf("%w: product %s has a negative price", ErrOrderInvalidInput, ref)
		}

		lineSubtotal := product.Price * int64(item.Quantity)
		subtotal += lineSubtotal
		tax += a.policy.LineTax(lineSubtotal)

		out.Items = append(out.Items, OrderItem{
			ProductRef:      ref,
			Quantity:        item.Quantity,
			PriceAtPurchase: product.Price,
			Subtotal:        lineSubtotal,
			ProductSnapshot: productSnapshot(product),
		})
	}

	shipping := a.policy.ShippingFor(subtotal)
	out.Totals = OrderTotals{
		Subtotal:    subtotal,
		TaxAmount:   tax,
		ShippingFee: shipping,
		TotalAmount: subtotal + tax + shipping,
	}
	return out, nil
}

// productSnapshot copies the descriptive product fields; identity and audit timestamps are left out.
func productSnapshot(p Product) map[string]any {
	snap := map[string]any{
		"name":  p.Name,
		"price": p.Price,
		"stock": p.Stock,
	}
	if p.Description != "" {
		snap["description"] = p.Description
	}
	if p.Type != "" {
		snap["type"] = p.Type
	}
	if p.CategoryRef != "" {
		snap["category"] = p.CategoryRef
	}
	if p.Size != "" {
		snap["size"] = p.Size
	}
	if p.DiscountPrice > 0 {
		snap["discountPrice"] = p.DiscountPrice
	}
	if len(p.Tags) > 0 {
		snap["tags"] = append([]string(nil), p.Tags...)
	}
	if len(p.Images) > 0 {
		snap["images"] = append([]string(nil), p.Images...)
	}
	for k, v := range p.Attributes {
		if _, taken := snap[k]; !taken {
			snap[k] = v
		}
	}
	return snap
}
