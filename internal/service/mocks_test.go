package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/shopcart/cart-service/internal/cache"
	"github.com/shopcart/cart-service/internal/domain"
	"github.com/shopcart/cart-service/internal/repository"
)

// memRepository keeps carts serialized so every load returns a fresh copy,
// the way a real store does.
type memRepository struct {
	mu         sync.Mutex
	carts      map[string][]byte
	getCalls   int
	saveErrs   []error
	getErr     error
	lostCreate bool
}

func newMemRepository() *memRepository {
	return &memRepository{carts: map[string][]byte{}}
}

func (m *memRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, err
	}
	cart.Relink()
	return &cart, nil
}

func (m *memRepository) CreateCart(_ context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lostCreate {
		m.lostCreate = false
		winner := domain.NewCart(cart.UserID)
		m.carts[cart.UserID], _ = json.Marshal(winner)
		return repository.ErrCartExists
	}
	if _, ok := m.carts[cart.UserID]; ok {
		return repository.ErrCartExists
	}
	data, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	m.carts[cart.UserID] = data
	return nil
}

func (m *memRepository) SaveCart(_ context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saveErrs) > 0 {
		err := m.saveErrs[0]
		m.saveErrs = m.saveErrs[1:]
		return err
	}

	data, ok := m.carts[cart.UserID]
	if !ok {
		return repository.ErrVersionConflict
	}
	var stored domain.Cart
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	if stored.Version != cart.Version {
		return repository.ErrVersionConflict
	}

	cart.Version++
	data, err := json.Marshal(cart)
	if err != nil {
		cart.Version--
		return err
	}
	m.carts[cart.UserID] = data
	return nil
}

func (m *memRepository) Close(context.Context) error { return nil }

func (m *memRepository) has(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.carts[userID]
	return ok
}

func (m *memRepository) gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

type stubResolver struct {
	mu       sync.Mutex
	products map[int64]domain.ProductSnapshot
	calls    int
}

func newStubResolver(products ...domain.ProductSnapshot) *stubResolver {
	r := &stubResolver{products: map[int64]domain.ProductSnapshot{}}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *stubResolver) Resolve(ctx context.Context, productID int64) (domain.ProductSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProductSnapshot{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	p, ok := r.products[productID]
	if !ok {
		return domain.FallbackSnapshot(productID), nil
	}
	return p, nil
}

func (r *stubResolver) setStock(productID int64, stock int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.products[productID]
	p.Stock = stock
	r.products[productID] = p
}

func (r *stubResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type mockCache struct {
	m       sync.RWMutex
	carts   map[string]*domain.Cart
	deletes int
	err     error
	setErr  error
}

func newMockCache() *mockCache {
	return &mockCache{carts: map[string]*domain.Cart{}}
}

func (m *mockCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	cart, ok := m.carts[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart, nil
}

func (m *mockCache) Set(_ context.Context, userID string, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.setErr != nil {
		return m.setErr
	}
	if cached, ok := m.carts[userID]; ok && cached.Version >= cart.Version {
		return nil
	}
	m.carts[userID] = cart
	return nil
}

func (m *mockCache) Delete(_ context.Context, userID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.deletes++
	delete(m.carts, userID)
	return m.err
}

func (m *mockCache) cached(userID string) *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.carts[userID]
}

func (m *mockCache) deleteCount() int {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.deletes
}
