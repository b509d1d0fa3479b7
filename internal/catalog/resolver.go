package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopcart/cart-service/internal/domain"
	"github.com/shopcart/cart-service/internal/metrics"
	"github.com/shopcart/cart-service/pkg/circuitbreaker"
	"github.com/shopcart/cart-service/pkg/logger"
	"go.uber.org/zap"
)

// errAbandoned marks calls dropped because the caller went away. The breaker
// ignores them.
var errAbandoned = errors.New("catalog call abandoned")

type ProductFetcher interface {
	GetProduct(ctx context.Context, productID int64) (domain.ProductSnapshot, error)
}

// Resolver fetches product snapshots through a circuit breaker and degrades to
// domain.FallbackSnapshot whenever the catalog is unhealthy.
type Resolver struct {
	fetcher ProductFetcher
	breaker *circuitbreaker.Breaker[domain.ProductSnapshot]
	metrics *metrics.Metrics
}

func NewResolver(fetcher ProductFetcher, settings circuitbreaker.Settings, m *metrics.Metrics, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	settings.IsExcluded = func(err error) bool {
		return errors.Is(err, errAbandoned)
	}
	settings.OnStateChange = func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit_breaker_state_change",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		m.SetBreakerState(name, float64(to))
	}
	m.SetBreakerState(settings.Name, float64(circuitbreaker.StateClosed))

	return &Resolver{
		fetcher: fetcher,
		breaker: circuitbreaker.New[domain.ProductSnapshot](settings),
		metrics: m,
	}
}

// Resolve returns the catalog snapshot for productID. Upstream failures are
// absorbed into a fallback snapshot; the only error returned is the caller's
// own context error.
func (r *Resolver) Resolve(ctx context.Context, productID int64) (domain.ProductSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProductSnapshot{}, err
	}

	snapshot, err := r.breaker.Execute(func() (domain.ProductSnapshot, error) {
		p, err := r.fetcher.GetProduct(ctx, productID)
		if err != nil && ctx.Err() != nil {
			return domain.ProductSnapshot{}, fmt.Errorf("%w: %w", errAbandoned, ctx.Err())
		}
		return p, err
	})
	if err == nil {
		return snapshot, nil
	}
	if errors.Is(err, errAbandoned) {
		return domain.ProductSnapshot{}, ctx.Err()
	}

	reason := "upstream_error"
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		reason = "open"
	case errors.Is(err, circuitbreaker.ErrTooManyRequests):
		reason = "half_open_limit"
	}
	logger.FromContext(ctx).Warn("catalog_fallback",
		zap.Int64("product_id", productID),
		zap.String("reason", reason),
		zap.String("breaker_state", r.breaker.State().String()),
		zap.Error(err),
	)
	r.metrics.ObserveFallback(reason)

	return domain.FallbackSnapshot(productID), nil
}

func (r *Resolver) State() circuitbreaker.State {
	return r.breaker.State()
}
