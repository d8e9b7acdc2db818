package domain

import "time"

// Voucher type constants.
const (
	VoucherTypePercentage = "percentage"
	VoucherTypeFixed      = "fixed"
)

// Voucher represents a discount rule applied to a qualifying subtotal.
type Voucher struct {
	ID            string    `json:"id"`
	Code          string    `json:"code"`
	Type          string    `json:"type"`
	DiscountValue int64     `json:"discount_value"`
	MinOrderValue int64     `json:"min_order_value"`
	// MaxDiscountAmount caps percentage discounts. 0 means no cap.
	MaxDiscountAmount int64     `json:"max_discount_amount"`
	MaxUsageCount     int       `json:"max_usage_count"`
	CurrentUsageCount int       `json:"current_usage_count"`
	StartDate         time.Time `json:"start_date"`
	EndDate           time.Time `json:"end_date"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsValidType checks whether the given type string is a valid voucher type.
func IsValidType(t string) bool {
	return t == VoucherTypePercentage || t == VoucherTypeFixed
}

// Applicability reports why a voucher does or does not apply to a subtotal.
type Applicability struct {
	Applicable bool   `json:"applicable"`
	Reason     string `json:"reason,omitempty"`
}

// CheckApplicable evaluates the voucher against a subtotal at a point in time.
func (v *Voucher) CheckApplicable(subtotal int64, now time.Time) Applicability {
	if now.Before(v.StartDate) {
		return Applicability{Reason: "voucher is not active yet"}
	}
	if now.After(v.EndDate) {
		return Applicability{Reason: "voucher has expired"}
	}
	if v.MaxUsageCount > 0 && v.CurrentUsageCount >= v.MaxUsageCount {
		return Applicability{Reason: "voucher usage limit reached"}
	}
	if subtotal < v.MinOrderValue {
		return Applicability{Reason: "subtotal below voucher minimum"}
	}
	return Applicability{Applicable: true}
}

// DiscountFor computes the discount for the given subtotal. The result is
// clamped to the subtotal so the total can never go negative.
func (v *Voucher) DiscountFor(subtotal int64) int64 {
	var discount int64
	switch v.Type {
	case VoucherTypePercentage:
		discount = subtotal * v.DiscountValue / 100
		if v.MaxDiscountAmount > 0 && discount > v.MaxDiscountAmount {
			discount = v.MaxDiscountAmount
		}
	case VoucherTypeFixed:
		discount = v.DiscountValue
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// PricingRules holds the shipping fee configuration.
type PricingRules struct {
	ShippingFee           int64
	FreeShippingThreshold int64
}

// DefaultPricingRules returns the storefront defaults (VND minor units).
func DefaultPricingRules() PricingRules {
	return PricingRules{
		ShippingFee:           30_000,
		FreeShippingThreshold: 500_000,
	}
}

// Totals is the derived pricing summary over a cart. Subtotal, Discount,
// ShippingFee, and Total cover selected items only; TotalItems counts
// everything (the badge convention).
type Totals struct {
	TotalItems    int    `json:"total_items"`
	SelectedItems int    `json:"selected_items"`
	Subtotal      int64  `json:"subtotal"`
	Discount      int64  `json:"discount"`
	ShippingFee   int64  `json:"shipping_fee"`
	Total         int64  `json:"total"`
	VoucherCode   string `json:"voucher_code,omitempty"`
	VoucherReason string `json:"voucher_reason,omitempty"`
}

// CalculateTotals derives the pricing summary for a cart. A nil voucher means
// no discount. A voucher that fails its applicability check contributes zero
// discount and a reason, not an error.
func CalculateTotals(cart *Cart, voucher *Voucher, rules PricingRules, now time.Time) Totals {
	t := Totals{
		TotalItems:    cart.ItemCount(),
		SelectedItems: cart.SelectedCount(),
	}

	for _, item := range cart.Items {
		if item.Selected {
			t.Subtotal += item.UnitPrice * int64(item.Quantity)
		}
	}

	if voucher != nil {
		t.VoucherCode = voucher.Code
		if app := voucher.CheckApplicable(t.Subtotal, now); app.Applicable {
			t.Discount = voucher.DiscountFor(t.Subtotal)
		} else {
			t.VoucherReason = app.Reason
		}
	}

	// No shipping charge on an empty selection.
	if t.SelectedItems > 0 && t.Subtotal < rules.FreeShippingThreshold {
		t.ShippingFee = rules.ShippingFee
	}

	t.Total = t.Subtotal - t.Discount + t.ShippingFee
	if t.Total < 0 {
		t.Total = 0
	}

	return t
}
