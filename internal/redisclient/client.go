package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"eshop-service/internal/models"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb            *redis.Client
	productTTL     time.Duration
	idempotencyTTL time.Duration
}

// Options configures key lifetimes
type Options struct {
	ProductTTL     time.Duration
	IdempotencyTTL time.Duration
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int, opts Options) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newClient(rdb, opts), nil
}

func newClient(rdb *redis.Client, opts Options) *Client {
	if opts.ProductTTL <= 0 {
		opts.ProductTTL = time.Minute
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &Client{
		rdb:            rdb,
		productTTL:     opts.ProductTTL,
		idempotencyTTL: opts.IdempotencyTTL,
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks that Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func productKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:order:%s", key)
}

// GetProduct returns the cached product, or nil, nil on a miss
func (c *Client) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	data, err := c.rdb.Get(ctx, productKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached product %d: %w", id, err)
	}

	var product models.Product
	if err := json.Unmarshal(data, &product); err != nil {
		// unreadable entries are treated as misses and dropped
		_ = c.rdb.Del(ctx, productKey(id)).Err()
		return nil, nil
	}
	return &product, nil
}

// SetProduct caches a product for the configured TTL
func (c *Client) SetProduct(ctx context.Context, product *models.Product) error {
	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to marshal product: %w", err)
	}
	return c.rdb.Set(ctx, productKey(product.ID), data, c.productTTL).Err()
}

// InvalidateProduct drops a cached product
func (c *Client) InvalidateProduct(ctx context.Context, id int64) error {
	return c.rdb.Del(ctx, productKey(id)).Err()
}

// LookupOrderID returns the order ID stored under an idempotency key
func (c *Client) LookupOrderID(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get idempotency key: %w", err)
	}

	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt idempotency key %q: %w", key, err)
	}
	return id, true, nil
}

// RememberOrderID stores the order ID produced by an idempotency key. An
// existing entry is kept.
func (c *Client) RememberOrderID(ctx context.Context, key string, orderID int64) error {
	return c.rdb.SetNX(ctx, idempotencyKey(key), orderID, c.idempotencyTTL).Err()
}
