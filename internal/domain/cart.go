package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrItemNotInCart = errors.New("item does not belong to cart")

// Cart is the aggregate root for one user's pending purchase. Items are owned
// by the cart and only mutated through its methods so that Subtotal and Total
// never go stale.
type Cart struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Items     []*Item         `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Version   int64           `json:"version"`
}

func NewCart(userID string) *Cart {
	now := time.Now().UTC()
	return &Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		Items:     []*Item{},
		Subtotal:  decimal.Zero,
		Total:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Recompute refreshes every line subtotal and the cart totals. Total equals
// Subtotal since there is no tax or discount model.
func (c *Cart) Recompute() {
	subtotal := decimal.Zero
	for _, item := range c.Items {
		item.recompute()
		subtotal = subtotal.Add(item.Subtotal)
	}
	c.Subtotal = subtotal
	c.Total = subtotal
}

func (c *Cart) AddItem(item *Item) {
	item.cart = c
	c.Items = append(c.Items, item)
	c.Recompute()
}

// RemoveItem drops the item by identity. Callers are expected to have looked
// the item up through ItemByID first.
func (c *Cart) RemoveItem(item *Item) error {
	for i, it := range c.Items {
		if it == item {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			item.cart = nil
			c.Recompute()
			return nil
		}
	}
	return ErrItemNotInCart
}

func (c *Cart) Clear() {
	for _, item := range c.Items {
		item.cart = nil
	}
	c.Items = []*Item{}
	c.Recompute()
}

func (c *Cart) IncreaseQuantity(item *Item, delta int) error {
	if item.cart != c {
		return ErrItemNotInCart
	}
	item.Quantity += delta
	c.Recompute()
	return nil
}

func (c *Cart) SetQuantity(item *Item, quantity int) error {
	if item.cart != c {
		return ErrItemNotInCart
	}
	item.Quantity = quantity
	c.Recompute()
	return nil
}

// FindItem returns the line item matching the merge identity
// (productID, size, color), or nil.
func (c *Cart) FindItem(productID int64, variant Variant) *Item {
	for _, item := range c.Items {
		if item.ProductID == productID && item.Variant.Equal(variant) {
			return item
		}
	}
	return nil
}

func (c *Cart) ItemByID(id string) *Item {
	for _, item := range c.Items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// Relink restores item back-references and totals after the cart was decoded
// from storage or cache.
func (c *Cart) Relink() {
	if c.Items == nil {
		c.Items = []*Item{}
	}
	for _, item := range c.Items {
		item.cart = c
	}
	c.Recompute()
}

// Touch stamps UpdatedAt before the cart is persisted.
func (c *Cart) Touch(now time.Time) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}
