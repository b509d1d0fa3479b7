package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/shopcart/cart-service/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRepositoryContract exercises the behaviour every CartRepository must share.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) CartRepository) {
	t.Run("GetCart_NotFound", func(t *testing.T) {
		repo := newRepo(t)

		cart, err := repo.GetCart(context.Background(), "nonexistent")

		assert.ErrorIs(t, err, ErrCartNotFound)
		assert.Nil(t, cart)
	})

	t.Run("CreateCart_ThenGet", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		cart := domain.NewCart("user123")

		require.NoError(t, repo.CreateCart(ctx, cart))

		got, err := repo.GetCart(ctx, "user123")
		require.NoError(t, err)
		assert.Equal(t, cart.ID, got.ID)
		assert.Equal(t, "user123", got.UserID)
		assert.Empty(t, got.Items)
		assert.True(t, got.Total.IsZero())
		assert.Equal(t, int64(0), got.Version)
	})

	t.Run("CreateCart_Duplicate", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.CreateCart(ctx, domain.NewCart("user123")))

		err := repo.CreateCart(ctx, domain.NewCart("user123"))

		assert.ErrorIs(t, err, ErrCartExists)
	})

	t.Run("SaveCart_KeepsFullPricePrecision", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		cart := domain.NewCart("user123")
		require.NoError(t, repo.CreateCart(ctx, cart))

		cart.AddItem(domain.NewItem(1, 3, domain.Variant{}, snapshot(1, "12.345")))
		require.NoError(t, repo.SaveCart(ctx, cart))

		got, err := repo.GetCart(ctx, "user123")
		require.NoError(t, err)
		require.Len(t, got.Items, 1)
		assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("12.345")), got.Items[0].UnitPrice.String())
		assert.True(t, got.Total.Equal(decimal.RequireFromString("37.035")), got.Total.String())
	})

	t.Run("SaveCart_PersistsItemsInOrder", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		cart := domain.NewCart("user123")
		require.NoError(t, repo.CreateCart(ctx, cart))

		size, color := "M", "red"
		cart.AddItem(domain.NewItem(1, 2, domain.Variant{Size: &size, Color: &color}, snapshot(1, "19.99")))
		cart.AddItem(domain.NewItem(2, 1, domain.Variant{}, snapshot(2, "5.00")))
		require.NoError(t, repo.SaveCart(ctx, cart))
		assert.Equal(t, int64(1), cart.Version)

		got, err := repo.GetCart(ctx, "user123")
		require.NoError(t, err)
		require.Len(t, got.Items, 2)
		assert.Equal(t, int64(1), got.Version)

		first := got.Items[0]
		assert.Equal(t, int64(1), first.ProductID)
		assert.Equal(t, 2, first.Quantity)
		assert.True(t, first.UnitPrice.Equal(decimal.RequireFromString("19.99")))
		assert.True(t, first.Subtotal.Equal(decimal.RequireFromString("39.98")))
		require.NotNil(t, first.Variant.Size)
		assert.Equal(t, "M", *first.Variant.Size)
		assert.Same(t, got, first.Cart())

		second := got.Items[1]
		assert.Nil(t, second.Variant.Size)
		assert.Nil(t, second.Variant.Color)
		assert.True(t, got.Subtotal.Equal(decimal.RequireFromString("44.98")))
		assert.True(t, got.Total.Equal(got.Subtotal))
	})

	t.Run("SaveCart_RemovesDroppedItems", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		cart := domain.NewCart("user123")
		require.NoError(t, repo.CreateCart(ctx, cart))
		cart.AddItem(domain.NewItem(1, 1, domain.Variant{}, snapshot(1, "3.00")))
		require.NoError(t, repo.SaveCart(ctx, cart))

		cart.Clear()
		require.NoError(t, repo.SaveCart(ctx, cart))

		got, err := repo.GetCart(ctx, "user123")
		require.NoError(t, err)
		assert.Empty(t, got.Items)
		assert.True(t, got.Total.IsZero())
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("SaveCart_StaleVersionConflicts", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.CreateCart(ctx, domain.NewCart("user123")))

		a, err := repo.GetCart(ctx, "user123")
		require.NoError(t, err)
		b, err := repo.GetCart(ctx, "user123")
		require.NoError(t, err)

		a.AddItem(domain.NewItem(1, 1, domain.Variant{}, snapshot(1, "1.00")))
		require.NoError(t, repo.SaveCart(ctx, a))

		b.AddItem(domain.NewItem(2, 1, domain.Variant{}, snapshot(2, "1.00")))
		err = repo.SaveCart(ctx, b)

		assert.ErrorIs(t, err, ErrVersionConflict)
		assert.Equal(t, int64(0), b.Version)

		got, err := repo.GetCart(ctx, "user123")
		require.NoError(t, err)
		require.Len(t, got.Items, 1)
		assert.Equal(t, int64(1), got.Items[0].ProductID)
	})

	t.Run("SaveCart_ConcurrentWritersOneWins", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.CreateCart(ctx, domain.NewCart("user123")))

		const writers = 5
		carts := make([]*domain.Cart, writers)
		for i := range carts {
			c, err := repo.GetCart(ctx, "user123")
			require.NoError(t, err)
			carts[i] = c
		}

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i, c := range carts {
			wg.Add(1)
			go func(id int64, c *domain.Cart) {
				defer wg.Done()
				c.AddItem(domain.NewItem(id, 1, domain.Variant{}, snapshot(id, "1.00")))
				if err := repo.SaveCart(ctx, c); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}(int64(i+1), c)
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
	})
}

func snapshot(id int64, price string) domain.ProductSnapshot {
	return domain.ProductSnapshot{
		ID:    id,
		SKU:   "SKU",
		Name:  "Product",
		Price: decimal.RequireFromString(price),
		Stock: 100,
	}
}
