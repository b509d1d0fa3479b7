package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Variant distinguishes otherwise identical products in a cart. Absent values
// are nil, not empty strings.
type Variant struct {
	Size  *string `json:"size,omitempty"`
	Color *string `json:"color,omitempty"`
}

// Equal compares both attributes null-safely: two absent values match, an
// absent and a present value do not.
func (v Variant) Equal(other Variant) bool {
	return equalOptional(v.Size, other.Size) && equalOptional(v.Color, other.Color)
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Item is a line item. Name, SKU, price and image are a snapshot taken when
// the item was first added and are never refreshed from the catalog.
type Item struct {
	ID          string          `json:"id"`
	ProductID   int64           `json:"productId"`
	ProductName string          `json:"productName"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Variant     Variant         `json:"variant"`
	Image       string          `json:"image"`

	cart *Cart
}

// NewItem copies the snapshot fields into a detached line item. It is attached
// to a cart through Cart.AddItem.
func NewItem(productID int64, quantity int, variant Variant, snapshot ProductSnapshot) *Item {
	item := &Item{
		ID:          uuid.NewString(),
		ProductID:   productID,
		ProductName: snapshot.Name,
		SKU:         snapshot.SKU,
		Quantity:    quantity,
		UnitPrice:   snapshot.Price,
		Variant:     variant,
		Image:       snapshot.Image,
	}
	item.recompute()
	return item
}

// Cart returns the owning cart, or nil for a detached item.
func (i *Item) Cart() *Cart {
	return i.cart
}

func (i *Item) recompute() {
	// zero-value decimal and quantity already behave as zero
	i.Subtotal = i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
