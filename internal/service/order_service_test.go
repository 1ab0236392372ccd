package service

import (
	"context"
	"math"
	"sync"
	"testing"

	"eshop-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewOrderTotalPrice(t *testing.T) {
	product := &models.Product{ID: 7, Name: "Widget", Price: decimal.RequireFromString("99.99")}
	req := &PlaceOrderRequest{CustomerName: "A", CustomerEmail: "a@x.com", ProductID: 7, Quantity: 2}

	order := newOrder(req, product)

	assert.True(t, order.TotalPrice.Equal(decimal.RequireFromString("199.98")), "got %s", order.TotalPrice)
	assert.Equal(t, int64(7), order.ProductID)
	require.NotNil(t, order.ProductName)
	assert.Equal(t, "Widget", *order.ProductName)
}

func TestPlaceOrderScenario(t *testing.T) {
	for _, policy := range policies {
		t.Run(string(policy), func(t *testing.T) {
			env := setupTestEnv(t, policy)
			ctx := context.Background()
			widget := env.createProduct(t, "Widget", "10.00", 5)

			res, err := env.orders.PlaceOrder(ctx, &PlaceOrderRequest{
				CustomerName:  "A",
				CustomerEmail: "a@x.com",
				ProductID:     widget.ID,
				Quantity:      3,
			})
			require.NoError(t, err)
			assert.False(t, res.Replayed)
			assert.NotZero(t, res.Order.ID)
			assert.Equal(t, models.OrderStatusPending, res.Order.Status)
			assert.True(t, res.Order.TotalPrice.Equal(decimal.NewFromInt(30)), "got %s", res.Order.TotalPrice)
			assert.Equal(t, 2, env.stockOf(t, widget.ID))

			_, err = env.orders.PlaceOrder(ctx, &PlaceOrderRequest{
				CustomerName:  "B",
				CustomerEmail: "b@x.com",
				ProductID:     widget.ID,
				Quantity:      3,
			})
			assert.ErrorIs(t, err, ErrInsufficientStock)
			assert.Equal(t, 2, env.stockOf(t, widget.ID))
			assert.Equal(t, 1, env.orderCount(t))
		})
	}
}

func TestPlaceOrderMissingFields(t *testing.T) {
	env := setupTestEnv(t, StockPolicyBestEffort)
	widget := env.createProduct(t, "Widget", "10.00", 5)

	tests := []struct {
		name string
		req  PlaceOrderRequest
	}{
		{"missing name", PlaceOrderRequest{CustomerEmail: "a@x.com", ProductID: widget.ID, Quantity: 1}},
		{"missing email", PlaceOrderRequest{CustomerName: "A", ProductID: widget.ID, Quantity: 1}},
		{"missing product", PlaceOrderRequest{CustomerName: "A", CustomerEmail: "a@x.com", Quantity: 1}},
		{"missing quantity", PlaceOrderRequest{CustomerName: "A", CustomerEmail: "a@x.com", ProductID: widget.ID}},
		{"only name", PlaceOrderRequest{CustomerName: "Jane Doe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.orders.PlaceOrder(context.Background(), &tt.req)

			assert.ErrorIs(t, err, ErrFieldsRequired)
			assert.Equal(t, KindValidation, KindOf(err))
			assert.Equal(t, "All fields are required", err.Error())
		})
	}

	assert.Equal(t, 5, env.stockOf(t, widget.ID))
	assert.Zero(t, env.orderCount(t))
	assert.Empty(t, env.events.placed)
}

func TestPlaceOrderUnknownProduct(t *testing.T) {
	for _, policy := range policies {
		t.Run(string(policy), func(t *testing.T) {
			env := setupTestEnv(t, policy)

			_, err := env.orders.PlaceOrder(context.Background(), &PlaceOrderRequest{
				CustomerName:  "Jane Doe",
				CustomerEmail: "jane@example.com",
				ProductID:     99999,
				Quantity:      1,
			})

			assert.ErrorIs(t, err, ErrProductNotFound)
			assert.Equal(t, KindNotFound, KindOf(err))
			assert.Zero(t, env.orderCount(t))
		})
	}
}

func TestPlaceOrderInsufficientStockLeavesNoTrace(t *testing.T) {
	for _, policy := range policies {
		t.Run(string(policy), func(t *testing.T) {
			env := setupTestEnv(t, policy)
			p := env.createProduct(t, "Order Test Product", "99.99", 50)

			_, err := env.orders.PlaceOrder(context.Background(), &PlaceOrderRequest{
				CustomerName:  "Jane Doe",
				CustomerEmail: "jane@example.com",
				ProductID:     p.ID,
				Quantity:      1000,
			})

			assert.ErrorIs(t, err, ErrInsufficientStock)
			assert.Equal(t, "Insufficient stock", err.Error())
			assert.Equal(t, 50, env.stockOf(t, p.ID))
			assert.Zero(t, env.orderCount(t))
			assert.Empty(t, env.cache.invalidated)
		})
	}
}

func TestPlaceOrderExactStock(t *testing.T) {
	for _, policy := range policies {
		t.Run(string(policy), func(t *testing.T) {
			env := setupTestEnv(t, policy)
			p := env.createProduct(t, "Widget", "2.50", 4)

			res, err := env.orders.PlaceOrder(context.Background(), &PlaceOrderRequest{
				CustomerName: "A", CustomerEmail: "a@x.com", ProductID: p.ID, Quantity: 4,
			})
			require.NoError(t, err)
			assert.True(t, res.Order.TotalPrice.Equal(decimal.NewFromInt(10)))
			assert.Equal(t, 0, env.stockOf(t, p.ID))
		})
	}
}

func TestPlaceOrderNegativeQuantityPassesPresenceCheck(t *testing.T) {
	env := setupTestEnv(t, StockPolicyBestEffort)
	p := env.createProduct(t, "Widget", "10.00", 5)

	res, err := env.orders.PlaceOrder(context.Background(), &PlaceOrderRequest{
		CustomerName: "A", CustomerEmail: "a@x.com", ProductID: p.ID, Quantity: -2,
	})
	require.NoError(t, err)
	assert.True(t, res.Order.TotalPrice.Equal(decimal.NewFromInt(-20)))
	assert.Equal(t, 7, env.stockOf(t, p.ID))
}

func TestPlaceOrderRejectsQuantityBeyondStockRange(t *testing.T) {
	for _, policy := range policies {
		t.Run(string(policy), func(t *testing.T) {
			env := setupTestEnv(t, policy)
			p := env.createProduct(t, "Widget", "10.00", 5)
			ctx := context.Background()

			for _, q := range []int{-math.MaxInt64, math.MinInt64, -math.MaxInt32 - 1, math.MaxInt32 + 1, math.MaxInt64} {
				_, err := env.orders.PlaceOrder(ctx, &PlaceOrderRequest{
					CustomerName: "A", CustomerEmail: "a@x.com", ProductID: p.ID, Quantity: q,
				})
				assert.ErrorIs(t, err, ErrQuantityOutOfRange, "quantity %d", q)
			}

			assert.Equal(t, 5, env.stockOf(t, p.ID))
			assert.Equal(t, 0, env.orderCount(t))

			got, err := env.products.GetProduct(ctx, p.ID)
			require.NoError(t, err)
			assert.Equal(t, 5, got.Stock)

			_, err = env.orders.PlaceOrder(ctx, &PlaceOrderRequest{
				CustomerName: "A", CustomerEmail: "a@x.com", ProductID: p.ID, Quantity: -math.MaxInt32,
			})
			require.NoError(t, err)
			assert.Equal(t, 5+math.MaxInt32, env.stockOf(t, p.ID))
		})
	}
}

func TestPlaceOrderSideEffects(t *testing.T) {
	env := setupTestEnv(t, StockPolicyBestEffort)
	ctx := context.Background()
	p := env.createProduct(t, "Widget", "10.00", 5)

	// warm the cache so the placement has something to invalidate
	_, err := env.products.GetProduct(ctx, p.ID)
	require.NoError(t, err)

	res, err := env.orders.PlaceOrder(ctx, &PlaceOrderRequest{
		CustomerName: "A", CustomerEmail: "a@x.com", ProductID: p.ID, Quantity: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{p.ID}, env.cache.invalidated)
	cached, _ := env.cache.GetProduct(ctx, p.ID)
	assert.Nil(t, cached)

	require.Len(t, env.events.placed, 1)
	event := env.events.placed[0]
	assert.Equal(t, models.EventTypeOrderPlaced, event.EventType)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, res.Order.ID, event.OrderID)
	assert.Equal(t, p.ID, event.ProductID)
	assert.Equal(t, 1, event.Quantity)
	assert.True(t, event.TotalPrice.Equal(decimal.NewFromInt(10)))
}

func TestPlaceOrderIgnoresPublishFailure(t *testing.T) {
	env := setupTestEnv(t, StockPolicyBestEffort)
	env.events.err = errBrokerDown
	p := env.createProduct(t, "Widget", "10.00", 5)

	_, err := env.orders.PlaceOrder(context.Background(), &PlaceOrderRequest{
		CustomerName: "A", CustomerEmail: "a@x.com", ProductID: p.ID, Quantity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, env.stockOf(t, p.ID))
}

func TestPlaceOrderIdempotencyKey(t *testing.T) {
	env := setupTestEnv(t, StockPolicyBestEffort)
	ctx := context.Background()
	p := env.createProduct(t, "Widget", "10.00", 5)

	req := &PlaceOrderRequest{
		CustomerName: "A", CustomerEmail: "a@x.com", ProductID: p.ID, Quantity: 2,
		IdempotencyKey: "key-123",
	}

	first, err := env.orders.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := env.orders.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	assert.Equal(t, 3, env.stockOf(t, p.ID))
	assert.Equal(t, 1, env.orderCount(t))
	assert.Len(t, env.events.placed, 1)
}

func TestPlaceOrderBestEffortSwallowsStockFailure(t *testing.T) {
	env := setupTestEnv(t, StockPolicyBestEffort)
	p := env.createProduct(t, "Widget", "10.00", 5)
	freezeStock(t, env)

	res, err := env.orders.PlaceOrder(context.Background(), &PlaceOrderRequest{
		CustomerName: "A", CustomerEmail: "a@x.com", ProductID: p.ID, Quantity: 3,
	})
	require.NoError(t, err)
	assert.NotZero(t, res.Order.ID)

	// the order stands even though stock never moved
	assert.Equal(t, 5, env.stockOf(t, p.ID))
	assert.Equal(t, 1, env.orderCount(t))
}

func TestPlaceOrderGuardedRollsBackOnStockFailure(t *testing.T) {
	env := setupTestEnv(t, StockPolicyGuarded)
	p := env.createProduct(t, "Widget", "10.00", 5)
	freezeStock(t, env)

	_, err := env.orders.PlaceOrder(context.Background(), &PlaceOrderRequest{
		CustomerName: "A", CustomerEmail: "a@x.com", ProductID: p.ID, Quantity: 3,
	})
	require.Error(t, err)
	assert.Equal(t, KindStore, KindOf(err))
	assert.Contains(t, err.Error(), "stock is frozen")

	assert.Equal(t, 5, env.stockOf(t, p.ID))
	assert.Zero(t, env.orderCount(t))
	assert.Empty(t, env.events.placed)
}

func TestPlaceOrderGuardedNeverOversells(t *testing.T) {
	env := setupTestEnv(t, StockPolicyGuarded)
	p := env.createProduct(t, "Widget", "1.00", 5)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		placed   int
		rejected int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.orders.PlaceOrder(context.Background(), &PlaceOrderRequest{
				CustomerName: "A", CustomerEmail: "a@x.com", ProductID: p.ID, Quantity: 1,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				placed++
			} else if KindOf(err) == KindInsufficientStock {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, placed)
	assert.Equal(t, 7, rejected)
	assert.Equal(t, 0, env.stockOf(t, p.ID))
	assert.Equal(t, 5, env.orderCount(t))
}

func TestDeleteOrderKeepsStock(t *testing.T) {
	env := setupTestEnv(t, StockPolicyBestEffort)
	ctx := context.Background()
	p := env.createProduct(t, "Widget", "10.00", 5)

	res, err := env.orders.PlaceOrder(ctx, &PlaceOrderRequest{
		CustomerName: "A", CustomerEmail: "a@x.com", ProductID: p.ID, Quantity: 3,
	})
	require.NoError(t, err)

	require.NoError(t, env.orders.DeleteOrder(ctx, res.Order.ID))
	assert.Equal(t, 2, env.stockOf(t, p.ID))

	_, err = env.orders.GetOrder(ctx, res.Order.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	assert.ErrorIs(t, env.orders.DeleteOrder(ctx, res.Order.ID), ErrOrderNotFound)
	require.Len(t, env.events.deleted, 1)
	assert.Equal(t, res.Order.ID, env.events.deleted[0].OrderID)
}

func TestOrderKeepsTotalAfterPriceChange(t *testing.T) {
	env := setupTestEnv(t, StockPolicyBestEffort)
	ctx := context.Background()
	p := env.createProduct(t, "Widget", "10.00", 5)

	res, err := env.orders.PlaceOrder(ctx, &PlaceOrderRequest{
		CustomerName: "A", CustomerEmail: "a@x.com", ProductID: p.ID, Quantity: 2,
	})
	require.NoError(t, err)

	stock := 3
	err = env.products.UpdateProduct(ctx, p.ID, &ProductInput{
		Name:  "Widget",
		Price: decimal.NewNullDecimal(decimal.NewFromInt(25)),
		Stock: &stock,
	})
	require.NoError(t, err)

	got, err := env.orders.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalPrice.Equal(decimal.NewFromInt(20)), "got %s", got.TotalPrice)
}

func TestListOrders(t *testing.T) {
	env := setupTestEnv(t, StockPolicyBestEffort)
	ctx := context.Background()
	p := env.createProduct(t, "Widget", "10.00", 5)

	orders, err := env.orders.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)

	for i := 0; i < 2; i++ {
		_, err := env.orders.PlaceOrder(ctx, &PlaceOrderRequest{
			CustomerName: "A", CustomerEmail: "a@x.com", ProductID: p.ID, Quantity: 1,
		})
		require.NoError(t, err)
	}

	orders, err = env.orders.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestPlaceOrderProperties(t *testing.T) {
	for _, policy := range policies {
		t.Run(string(policy), func(t *testing.T) {
			env := setupTestEnv(t, policy)
			ctx := context.Background()

			rapid.Check(t, func(rt *rapid.T) {
				cents := rapid.Int64Range(1, 1_000_000).Draw(rt, "price_cents")
				stock := rapid.IntRange(0, 50).Draw(rt, "stock")
				quantity := rapid.IntRange(1, 60).Draw(rt, "quantity")

				price := decimal.New(cents, -2)
				p := &models.Product{Name: "Generated", Price: price, Stock: stock}
				require.NoError(rt, env.store.CreateProduct(ctx, p))
				ordersBefore := env.orderCount(rt)

				res, err := env.orders.PlaceOrder(ctx, &PlaceOrderRequest{
					CustomerName: "A", CustomerEmail: "a@x.com", ProductID: p.ID, Quantity: quantity,
				})

				if quantity > stock {
					if KindOf(err) != KindInsufficientStock {
						rt.Fatalf("expected insufficient stock, got %v", err)
					}
					if got := env.stockOf(rt, p.ID); got != stock {
						rt.Fatalf("stock changed on rejection: %d -> %d", stock, got)
					}
					if got := env.orderCount(rt); got != ordersBefore {
						rt.Fatalf("order persisted on rejection")
					}
					return
				}

				require.NoError(rt, err)
				want := price.Mul(decimal.NewFromInt(int64(quantity)))
				if !res.Order.TotalPrice.Equal(want) {
					rt.Fatalf("total %s, want %s", res.Order.TotalPrice, want)
				}
				stored, err := env.store.GetOrder(ctx, res.Order.ID)
				require.NoError(rt, err)
				if !stored.TotalPrice.Equal(want) {
					rt.Fatalf("stored total %s, want %s", stored.TotalPrice, want)
				}
				if got := env.stockOf(rt, p.ID); got != stock-quantity {
					rt.Fatalf("stock %d, want %d", got, stock-quantity)
				}
			})
		})
	}
}

// freezeStock makes every stock update fail at the database
func freezeStock(t *testing.T, env *testEnv) {
	t.Helper()

	_, err := env.store.GetDB().Exec(`
		CREATE TRIGGER reject_stock_change BEFORE UPDATE OF stock ON products
		BEGIN
			SELECT RAISE(ABORT, 'stock is frozen');
		END`)
	require.NoError(t, err)
}
