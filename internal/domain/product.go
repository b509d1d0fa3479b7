package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const UnavailableProductName = "product unavailable"

// ProductSnapshot is the catalog's view of a product at the moment of use.
type ProductSnapshot struct {
	ID       int64             `json:"id"`
	SKU      string            `json:"sku"`
	Name     string            `json:"name"`
	Image    string            `json:"image"`
	Price    decimal.Decimal   `json:"price"`
	Cost     decimal.Decimal   `json:"cost"`
	Stock    int               `json:"stock"`
	Sizes    []string          `json:"sizes"`
	Colors   []string          `json:"colors"`
	Specs    map[string]any    `json:"specs"`
	Degraded bool              `json:"-"`
}

// FallbackSnapshot is served when the catalog cannot be reached. Its zero
// stock makes every stock check fail deterministically.
func FallbackSnapshot(productID int64) ProductSnapshot {
	return ProductSnapshot{
		ID:       productID,
		SKU:      fmt.Sprintf("ND-%d", productID),
		Name:     UnavailableProductName,
		Price:    decimal.Zero,
		Cost:     decimal.Zero,
		Stock:    0,
		Sizes:    []string{},
		Colors:   []string{},
		Specs:    map[string]any{},
		Degraded: true,
	}
}
