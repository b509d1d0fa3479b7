package cache

import (
	"context"
	"errors"

	"github.com/shopcart/cart-service/internal/domain"
)

type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	// Set keeps whichever of the cached and the given cart has the higher
	// Version.
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// Noop is used when Redis is disabled. Every Get misses.
type Noop struct{}

func (Noop) Get(context.Context, string) (*domain.Cart, error) { return nil, ErrCacheMiss }

func (Noop) Set(context.Context, string, *domain.Cart) error { return nil }

func (Noop) Delete(context.Context, string) error { return nil }
