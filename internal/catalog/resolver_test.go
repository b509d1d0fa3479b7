package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopcart/cart-service/internal/domain"
	"github.com/shopcart/cart-service/internal/metrics"
	"github.com/shopcart/cart-service/pkg/circuitbreaker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockFetcher struct {
	mu      sync.Mutex
	product domain.ProductSnapshot
	err     error
	calls   int
	block   bool
}

func (m *mockFetcher) GetProduct(ctx context.Context, productID int64) (domain.ProductSnapshot, error) {
	m.mu.Lock()
	m.calls++
	block, product, err := m.block, m.product, m.err
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return domain.ProductSnapshot{}, errors.Join(ErrUpstream, ctx.Err())
	}
	if err != nil {
		return domain.ProductSnapshot{}, err
	}
	product.ID = productID
	return product, nil
}

func (m *mockFetcher) set(product domain.ProductSnapshot, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.product, m.err = product, err
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testBreakerSettings() circuitbreaker.Settings {
	return circuitbreaker.Settings{
		Name:         "catalog",
		Window:       time.Minute,
		MinCalls:     2,
		FailureRatio: 0.5,
		Cooldown:     50 * time.Millisecond,
	}
}

func healthyProduct() domain.ProductSnapshot {
	return domain.ProductSnapshot{Name: "T-Shirt", SKU: "TS", Price: decimal.NewFromInt(10), Stock: 10}
}

func TestResolve_Success(t *testing.T) {
	fetcher := &mockFetcher{product: healthyProduct()}
	r := NewResolver(fetcher, testBreakerSettings(), nil, nil)

	snap, err := r.Resolve(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, int64(42), snap.ID)
	assert.Equal(t, 10, snap.Stock)
	assert.False(t, snap.Degraded)
}

func TestResolve_UpstreamFailureReturnsFallback(t *testing.T) {
	fetcher := &mockFetcher{err: ErrUpstream}
	m := metrics.New(nil)
	r := NewResolver(fetcher, testBreakerSettings(), m, nil)

	snap, err := r.Resolve(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, domain.FallbackSnapshot(42), snap)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CatalogFallbacks.WithLabelValues("upstream_error")))
}

func TestResolve_OpensAndShortCircuits(t *testing.T) {
	fetcher := &mockFetcher{err: ErrUpstream}
	m := metrics.New(nil)
	r := NewResolver(fetcher, testBreakerSettings(), m, nil)

	for i := 0; i < 2; i++ {
		_, err := r.Resolve(context.Background(), 1)
		require.NoError(t, err)
	}
	require.Equal(t, circuitbreaker.StateOpen, r.State())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("catalog")))

	fetcher.set(healthyProduct(), nil)
	snap, err := r.Resolve(context.Background(), 1)

	require.NoError(t, err)
	assert.True(t, snap.Degraded)
	assert.Equal(t, 0, snap.Stock)
	assert.Equal(t, 2, fetcher.callCount(), "open breaker must not call the catalog")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CatalogFallbacks.WithLabelValues("open")))
}

func TestResolve_RecoversAfterCooldown(t *testing.T) {
	fetcher := &mockFetcher{err: ErrUpstream}
	r := NewResolver(fetcher, testBreakerSettings(), nil, nil)
	for i := 0; i < 2; i++ {
		_, _ = r.Resolve(context.Background(), 1)
	}
	require.Equal(t, circuitbreaker.StateOpen, r.State())

	fetcher.set(healthyProduct(), nil)
	require.Eventually(t, func() bool {
		return r.State() == circuitbreaker.StateHalfOpen
	}, time.Second, 10*time.Millisecond)

	snap, err := r.Resolve(context.Background(), 1)

	require.NoError(t, err)
	assert.False(t, snap.Degraded)
	assert.Equal(t, circuitbreaker.StateClosed, r.State())
}

func TestResolve_CancelledBeforeCall(t *testing.T) {
	fetcher := &mockFetcher{product: healthyProduct()}
	r := NewResolver(fetcher, testBreakerSettings(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, 1)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fetcher.callCount())
}

func TestResolve_CancelledInFlightIsNotCounted(t *testing.T) {
	fetcher := &mockFetcher{block: true}
	s := testBreakerSettings()
	s.MinCalls = 1
	s.FailureRatio = 0
	r := NewResolver(fetcher, s, nil, nil)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		_, err := r.Resolve(ctx, 1)
		cancel()
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}

	assert.Equal(t, circuitbreaker.StateClosed, r.State())
}
