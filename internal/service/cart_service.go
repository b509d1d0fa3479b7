package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopcart/cart-service/internal/cache"
	"github.com/shopcart/cart-service/internal/domain"
	"github.com/shopcart/cart-service/internal/metrics"
	"github.com/shopcart/cart-service/internal/repository"
	"github.com/shopcart/cart-service/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxRetries = 3

	cacheTimeout = time.Second
)

// ProductResolver yields a catalog snapshot for a product. Implementations
// absorb upstream failures and only return the caller's context error.
type ProductResolver interface {
	Resolve(ctx context.Context, productID int64) (domain.ProductSnapshot, error)
}

type CartService struct {
	repo       repository.CartRepository
	cache      cache.CartCache
	resolver   ProductResolver
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	maxRetries int
	sfg        singleflight.Group // collapses concurrent cache misses per user
}

type Option func(*CartService)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *CartService) { s.metrics = m }
}

// WithMaxRetries sets how many times a mutation is re-run after losing an
// optimistic concurrency race.
func WithMaxRetries(n int) Option {
	return func(s *CartService) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *CartService) { s.tracer = tp.Tracer("github.com/shopcart/cart-service/internal/service") }
}

func NewCartService(repo repository.CartRepository, c cache.CartCache, resolver ProductResolver, opts ...Option) *CartService {
	if c == nil {
		c = cache.Noop{}
	}
	s := &CartService{
		repo:       repo,
		cache:      c,
		resolver:   resolver,
		tracer:     otel.Tracer("github.com/shopcart/cart-service/internal/service"),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CartService) GetOrCreateCart(ctx context.Context, userID string) (cart *domain.Cart, err error) {
	ctx, finish := s.start(ctx, "get_cart", userID)
	defer func() { finish(err) }()

	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cached, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.FromContext(ctx).Warn("cache get error", zap.Error(err))
		}

		loaded, err := s.loadOrCreate(ctx, userID)
		if err != nil {
			return nil, err
		}

		go s.populateCache(context.WithoutCancel(ctx), userID, loaded)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

func (s *CartService) AddProduct(ctx context.Context, userID string, productID int64, quantity int, variant domain.Variant) (cart *domain.Cart, err error) {
	ctx, finish := s.start(ctx, "add_product", userID,
		attribute.Int64("product.id", productID),
		attribute.Int("quantity", quantity),
	)
	defer func() { finish(err) }()

	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidArgument, quantity)
	}

	snapshot, err := s.resolver.Resolve(ctx, productID)
	if err != nil {
		return nil, err
	}
	if quantity > snapshot.Stock {
		return nil, insufficientStock(productID, quantity, snapshot.Stock)
	}

	return s.mutate(ctx, userID, true, func(c *domain.Cart) error {
		// only the requested increment is checked against stock, the merged
		// quantity may exceed it
		if existing := c.FindItem(productID, variant); existing != nil {
			return c.IncreaseQuantity(existing, quantity)
		}
		c.AddItem(domain.NewItem(productID, quantity, variant, snapshot))
		return nil
	})
}

func (s *CartService) UpdateQuantity(ctx context.Context, userID, itemID string, newQuantity int) (cart *domain.Cart, err error) {
	ctx, finish := s.start(ctx, "update_quantity", userID,
		attribute.String("item.id", itemID),
		attribute.Int("quantity", newQuantity),
	)
	defer func() { finish(err) }()

	if newQuantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidArgument, newQuantity)
	}

	return s.mutate(ctx, userID, false, func(c *domain.Cart) error {
		item := c.ItemByID(itemID)
		if item == nil {
			return fmt.Errorf("%w: item %s in cart of user %s", ErrNotFound, itemID, userID)
		}

		snapshot, err := s.resolver.Resolve(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if newQuantity > snapshot.Stock {
			return insufficientStock(item.ProductID, newQuantity, snapshot.Stock)
		}

		return c.SetQuantity(item, newQuantity)
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID, itemID string) (cart *domain.Cart, err error) {
	ctx, finish := s.start(ctx, "remove_item", userID, attribute.String("item.id", itemID))
	defer func() { finish(err) }()

	return s.mutate(ctx, userID, false, func(c *domain.Cart) error {
		item := c.ItemByID(itemID)
		if item == nil {
			return fmt.Errorf("%w: item %s in cart of user %s", ErrNotFound, itemID, userID)
		}
		return c.RemoveItem(item)
	})
}

func (s *CartService) ClearCart(ctx context.Context, userID string) (err error) {
	ctx, finish := s.start(ctx, "clear_cart", userID)
	defer func() { finish(err) }()

	_, err = s.mutate(ctx, userID, false, func(c *domain.Cart) error {
		c.Clear()
		return nil
	})
	return err
}

// mutate runs one load-mutate-persist cycle, repeating it when the save loses
// a version race. A failing apply aborts without persisting anything.
func (s *CartService) mutate(ctx context.Context, userID string, create bool, apply func(*domain.Cart) error) (*domain.Cart, error) {
	attempts := s.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		cart, err := s.load(ctx, userID, create)
		if err != nil {
			return nil, err
		}

		if err := apply(cart); err != nil {
			return nil, err
		}

		err = s.repo.SaveCart(ctx, cart)
		if err == nil {
			s.refreshCache(ctx, userID, cart)
			return cart, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to save cart: %w", err)
		}

		logger.FromContext(ctx).Debug("cart version conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Int64("version", cart.Version),
		)
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts", ErrConcurrentUpdate, attempts)
}

func (s *CartService) load(ctx context.Context, userID string, create bool) (*domain.Cart, error) {
	if create {
		return s.loadOrCreate(ctx, userID)
	}
	cart, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil, fmt.Errorf("%w: cart for user %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return cart, nil
}

func (s *CartService) loadOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, repository.ErrCartNotFound) {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	cart = domain.NewCart(userID)
	err = s.repo.CreateCart(ctx, cart)
	if errors.Is(err, repository.ErrCartExists) {
		// another request created it first
		cart, err = s.repo.GetCart(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload cart: %w", err)
		}
		return cart, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	logger.FromContext(ctx).Info("cart created", zap.String("cart_id", cart.ID))
	return cart, nil
}

func (s *CartService) populateCache(ctx context.Context, userID string, cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	if err := s.cache.Set(ctx, userID, cart); err != nil {
		logger.FromContext(ctx).Warn("cache set error", zap.Error(err))
	}
}

// refreshCache writes the saved cart through. A fill started by an earlier
// read holds a lower version and is dropped by the cache. When the write
// fails the entry is deleted instead.
func (s *CartService) refreshCache(ctx context.Context, userID string, cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheTimeout)
	defer cancel()
	err := s.cache.Set(ctx, userID, cart)
	if err == nil {
		return
	}
	logger.FromContext(ctx).Warn("cache write-through error", zap.Error(err))
	if err := s.cache.Delete(ctx, userID); err != nil {
		logger.FromContext(ctx).Warn("cache invalidate error", zap.Error(err))
	}
}

// start opens the operation span and returns the func that closes it, logs
// the result and counts it.
func (s *CartService) start(ctx context.Context, operation, userID string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append(attrs, attribute.String("user.id", userID))
	ctx, span := s.tracer.Start(ctx, "CartService."+operation, trace.WithAttributes(attrs...))
	ctx = logger.With(ctx,
		zap.String("operation", operation),
		zap.String("user_id", userID),
	)
	started := time.Now()

	return ctx, func(err error) {
		defer span.End()
		s.metrics.ObserveOperation(operation, outcome(err))

		log := logger.FromContext(ctx).With(zap.Duration("duration", time.Since(started)))
		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
			log.Info("cart operation completed")
		case isBusinessError(err):
			span.SetAttributes(attribute.String("outcome", outcome(err)))
			log.Info("cart operation rejected", zap.Error(err))
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("cart operation failed", zap.Error(err))
		}
	}
}

func insufficientStock(productID int64, requested, available int) error {
	return fmt.Errorf("%w: product %d requested %d, available %d",
		ErrStockInsufficient, productID, requested, available)
}
