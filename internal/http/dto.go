package http

import (
	"time"

	"github.com/shopcart/cart-service/internal/domain"
	"github.com/shopspring/decimal"
)

type AddProductRequestDTO struct {
	ProductID int64   `json:"productId"`
	Quantity  int     `json:"quantity"`
	Size      *string `json:"size,omitempty"`
	Color     *string `json:"color,omitempty"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

type CartResponseDTO struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Items     []ItemResponseDTO `json:"items"`
	Subtotal  decimal.Decimal   `json:"subtotal"`
	Total     decimal.Decimal   `json:"total"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

type ItemResponseDTO struct {
	ID          string          `json:"id"`
	ProductID   int64           `json:"productId"`
	ProductName string          `json:"productName"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Size        *string         `json:"size"`
	Color       *string         `json:"color"`
	Image       string          `json:"image"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func toCartResponse(c *domain.Cart) CartResponseDTO {
	items := make([]ItemResponseDTO, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, ItemResponseDTO{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
			Size:        item.Variant.Size,
			Color:       item.Variant.Color,
			Image:       item.Image,
		})
	}
	return CartResponseDTO{
		ID:        c.ID,
		UserID:    c.UserID,
		Items:     items,
		Subtotal:  c.Subtotal,
		Total:     c.Total,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
