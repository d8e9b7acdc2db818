package domain

import "time"

// Cart represents a shopping cart.
type Cart struct {
	ID        string     `json:"id"`
	Owner     Owner      `json:"owner"`
	Items     []LineItem `json:"items"`
	Currency  string     `json:"currency"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// LineItem represents a single item in the cart. UnitPrice is a snapshot
// taken at add time and is not re-read from the catalog afterwards.
type LineItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Selected  bool   `json:"selected"`
	ImageURL  string `json:"image_url,omitempty"`
}

// ItemCount returns the total quantity across all items, selected or not.
// This is the cart badge convention.
func (c *Cart) ItemCount() int {
	var count int
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// SelectedCount returns the total quantity across selected items only.
func (c *Cart) SelectedCount() int {
	var count int
	for _, item := range c.Items {
		if item.Selected {
			count += item.Quantity
		}
	}
	return count
}

// SelectedItems returns the selected line items in display order.
func (c *Cart) SelectedItems() []LineItem {
	var items []LineItem
	for _, item := range c.Items {
		if item.Selected {
			items = append(items, item)
		}
	}
	return items
}

// FindItemIndex returns the index of the line item matching the given product
// and variant IDs, or -1 if not found. At most one item exists per pair.
func (c *Cart) FindItemIndex(productID, variantID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID && c.Items[i].VariantID == variantID {
			return i
		}
	}
	return -1
}

// RemoveItemAt removes the line item at index i, preserving display order.
func (c *Cart) RemoveItemAt(i int) {
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
}

// Touch bumps the version (the monotonic write-sequence token stamped onto
// persistence writes) and refreshes the timestamps.
func (c *Cart) Touch(now time.Time, ttl time.Duration) {
	c.Version++
	c.UpdatedAt = now
	c.ExpiresAt = now.Add(ttl)
}

// SetAllSelected flips the selected flag on every item.
func (c *Cart) SetAllSelected(selected bool) {
	for i := range c.Items {
		c.Items[i].Selected = selected
	}
}
