package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"eshop-service/internal/models"
	"eshop-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu          sync.Mutex
	products    map[int64]models.Product
	invalidated []int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{products: map[int64]models.Product{}}
}

func (c *fakeCache) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (c *fakeCache) SetProduct(_ context.Context, p *models.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = *p
	return nil
}

func (c *fakeCache) InvalidateProduct(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type fakeIdempotency struct {
	mu   sync.Mutex
	keys map[string]int64
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: map[string]int64{}}
}

func (f *fakeIdempotency) LookupOrderID(_ context.Context, key string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.keys[key]
	return id, ok, nil
}

func (f *fakeIdempotency) RememberOrderID(_ context.Context, key string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = orderID
	return nil
}

type fakePublisher struct {
	mu            sync.Mutex
	placed        []*models.OrderPlacedEvent
	statusChanged []*models.OrderStatusChangedEvent
	deleted       []*models.OrderDeletedEvent
	err           error
}

func (p *fakePublisher) PublishOrderPlaced(_ context.Context, e *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, e)
	return p.err
}

func (p *fakePublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanged = append(p.statusChanged, e)
	return p.err
}

func (p *fakePublisher) PublishOrderDeleted(_ context.Context, e *models.OrderDeletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, e)
	return p.err
}

var errBrokerDown = errors.New("broker down")

type testEnv struct {
	store    *store.Store
	orders   *OrderService
	products *ProductService
	cache    *fakeCache
	idem     *fakeIdempotency
	events   *fakePublisher
}

func setupTestEnv(t *testing.T, policy StockPolicy) *testEnv {
	t.Helper()

	s, err := store.NewStore("sqlite", ":memory:", store.Options{})
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	env := &testEnv{
		store:  s,
		cache:  newFakeCache(),
		idem:   newFakeIdempotency(),
		events: &fakePublisher{},
	}
	env.orders = NewOrderService(s, env.cache, env.idem, env.events, policy)
	env.products = NewProductService(s, env.cache)
	return env
}

func (e *testEnv) createProduct(t require.TestingT, name, price string, stock int) *models.Product {
	p := &models.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock}
	require.NoError(t, e.store.CreateProduct(context.Background(), p))
	return p
}

func (e *testEnv) stockOf(t require.TestingT, id int64) int {
	p, err := e.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (e *testEnv) orderCount(t require.TestingT) int {
	orders, err := e.store.ListOrders(context.Background())
	require.NoError(t, err)
	return len(orders)
}

var policies = []StockPolicy{StockPolicyBestEffort, StockPolicyGuarded}
