package repository

import (
	"context"
	"errors"

	"github.com/shopcart/cart-service/internal/domain"
)

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrCartExists      = errors.New("cart already exists for user")
	ErrVersionConflict = errors.New("cart was modified concurrently")
)

// CartRepository persists whole cart aggregates. Items are always loaded with
// their cart and written together with the cart totals.
type CartRepository interface {
	// GetCart returns the user's cart with items, or ErrCartNotFound.
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	// CreateCart inserts a new cart; ErrCartExists if the user already has one.
	CreateCart(ctx context.Context, cart *domain.Cart) error
	// SaveCart writes cart and items atomically if the stored version still
	// equals cart.Version, then bumps cart.Version. Otherwise ErrVersionConflict.
	SaveCart(ctx context.Context, cart *domain.Cart) error
	Close(ctx context.Context) error
}
