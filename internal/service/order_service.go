package service

import (
	"context"
	"math"
	"time"

	"eshop-service/internal/models"
	"eshop-service/internal/store"
	"eshop-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockPolicy selects how order placement takes stock
type StockPolicy string

const (
	// StockPolicyBestEffort checks stock, stores the order and then
	// decrements stock as separate statements. A failed decrement is logged
	// and ignored, and concurrent placements may oversell.
	StockPolicyBestEffort StockPolicy = "best_effort"
	// StockPolicyGuarded runs the whole placement in one transaction with a
	// conditional stock decrement.
	StockPolicyGuarded StockPolicy = "guarded"
)

// ProductCache caches product reads. GetProduct returns nil, nil on a miss.
type ProductCache interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	SetProduct(ctx context.Context, product *models.Product) error
	InvalidateProduct(ctx context.Context, id int64) error
}

// IdempotencyStore remembers which order an idempotency key produced
type IdempotencyStore interface {
	LookupOrderID(ctx context.Context, key string) (int64, bool, error)
	RememberOrderID(ctx context.Context, key string, orderID int64) error
}

// EventPublisher publishes order domain events
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishOrderDeleted(ctx context.Context, event *models.OrderDeletedEvent) error
}

// OrderService places orders and manages their lifecycle
type OrderService struct {
	store       *store.Store
	cache       ProductCache
	idempotency IdempotencyStore
	events      EventPublisher
	stockPolicy StockPolicy
	logger      *zap.Logger
}

// NewOrderService creates a new order service. cache, idempotency and
// events may be nil.
func NewOrderService(
	store *store.Store,
	cache ProductCache,
	idempotency IdempotencyStore,
	events EventPublisher,
	stockPolicy StockPolicy,
) *OrderService {
	if stockPolicy != StockPolicyGuarded {
		stockPolicy = StockPolicyBestEffort
	}
	return &OrderService{
		store:       store,
		cache:       cache,
		idempotency: idempotency,
		events:      events,
		stockPolicy: stockPolicy,
		logger:      util.GetLogger(),
	}
}

// PlaceOrderRequest represents a request to place an order
type PlaceOrderRequest struct {
	CustomerName   string `json:"customer_name"`
	CustomerEmail  string `json:"customer_email"`
	ProductID      int64  `json:"product_id"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"-"`
}

// complete is a presence check, not a range check: a zero quantity counts
// as missing while a negative one does not.
func (r *PlaceOrderRequest) complete() bool {
	return r.CustomerName != "" && r.CustomerEmail != "" && r.ProductID != 0 && r.Quantity != 0
}

// maxQuantity bounds |quantity| so stock arithmetic stays inside the
// stock column
const maxQuantity = math.MaxInt32

func (r *PlaceOrderRequest) inRange() bool {
	return r.Quantity <= maxQuantity && r.Quantity >= -maxQuantity
}

// PlaceOrderResult is the outcome of a successful placement
type PlaceOrderResult struct {
	Order *models.Order
	// Replayed is set when the order was found through its idempotency key
	// rather than placed by this call
	Replayed bool
}

// PlaceOrder validates a request, checks stock, stores the order with its
// frozen total price and takes the ordered quantity from stock
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderPlacementLatency.Observe(time.Since(start).Seconds())
	}()

	if !req.complete() {
		util.OrdersRejectedTotal.WithLabelValues("validation").Inc()
		return nil, ErrFieldsRequired
	}
	if !req.inRange() {
		util.OrdersRejectedTotal.WithLabelValues("validation").Inc()
		return nil, ErrQuantityOutOfRange
	}

	if req.IdempotencyKey != "" && s.idempotency != nil {
		if order := s.replay(ctx, req.IdempotencyKey); order != nil {
			return &PlaceOrderResult{Order: order, Replayed: true}, nil
		}
	}

	var (
		order *models.Order
		err   error
	)
	if s.stockPolicy == StockPolicyGuarded {
		order, err = s.placeGuarded(ctx, req)
	} else {
		order, err = s.placeBestEffort(ctx, req)
	}
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		span.RecordError(err)
		return nil, err
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("product_id", order.ProductID),
		zap.Int("quantity", order.Quantity),
		zap.String("total_price", order.TotalPrice.String()))

	s.invalidateProduct(ctx, order.ProductID)

	if req.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.RememberOrderID(ctx, req.IdempotencyKey, order.ID); err != nil {
			s.logger.Error("Failed to store idempotency key",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(err))
		}
	}

	if s.events != nil {
		event := &models.OrderPlacedEvent{
			BaseEvent:     newBaseEvent(models.EventTypeOrderPlaced),
			OrderID:       order.ID,
			ProductID:     order.ProductID,
			Quantity:      order.Quantity,
			TotalPrice:    order.TotalPrice,
			CustomerEmail: order.CustomerEmail,
		}
		if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
		}
	}

	return &PlaceOrderResult{Order: order}, nil
}

// placeBestEffort runs each step as its own statement. The stock check and
// the decrement are not synchronized, and a failed decrement leaves the
// order in place.
func (s *OrderService) placeBestEffort(ctx context.Context, req *PlaceOrderRequest) (*models.Order, error) {
	product, err := s.store.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, lookupError(err, ErrProductNotFound)
	}

	if product.Stock < req.Quantity {
		return nil, ErrInsufficientStock
	}

	order := newOrder(req, product)
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, storeError(err)
	}

	if err := s.store.UpdateProductStock(ctx, product.ID, -req.Quantity); err != nil {
		util.StockDecrementFailuresTotal.Inc()
		s.logger.Warn("Stock decrement failed after order was stored",
			zap.Int64("order_id", order.ID),
			zap.Int64("product_id", product.ID),
			zap.Int("quantity", req.Quantity),
			zap.Error(err))
	}

	return order, nil
}

// placeGuarded takes stock with a conditional update before inserting the
// order, all in one transaction. Losing a race to a concurrent placement
// surfaces as insufficient stock and leaves nothing behind.
func (s *OrderService) placeGuarded(ctx context.Context, req *PlaceOrderRequest) (*models.Order, error) {
	var order *models.Order

	err := s.store.InTx(ctx, func(tx *store.Store) error {
		product, err := tx.GetProduct(ctx, req.ProductID)
		if err != nil {
			return lookupError(err, ErrProductNotFound)
		}

		if product.Stock < req.Quantity {
			return ErrInsufficientStock
		}

		taken, err := tx.DecrementStockIfAvailable(ctx, product.ID, req.Quantity)
		if err != nil {
			return storeError(err)
		}
		if !taken {
			return ErrInsufficientStock
		}

		order = newOrder(req, product)
		if err := tx.CreateOrder(ctx, order); err != nil {
			return storeError(err)
		}
		return nil
	})
	if err != nil {
		return nil, asServiceError(err)
	}

	return order, nil
}

// replay returns the order an idempotency key already produced, if any.
// Lookup failures fall through to a normal placement.
func (s *OrderService) replay(ctx context.Context, key string) *models.Order {
	orderID, found, err := s.idempotency.LookupOrderID(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.String("idempotency_key", key), zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		s.logger.Warn("Idempotent order no longer readable",
			zap.String("idempotency_key", key),
			zap.Int64("order_id", orderID),
			zap.Error(err))
		return nil
	}

	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", order.ID))
	return order
}

// newOrder builds the order row. The total is fixed here and never
// recomputed from later prices.
func newOrder(req *PlaceOrderRequest, product *models.Product) *models.Order {
	name := product.Name
	return &models.Order{
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		ProductID:     product.ID,
		Quantity:      req.Quantity,
		TotalPrice:    product.Price.Mul(decimal.NewFromInt(int64(req.Quantity))),
		ProductName:   &name,
	}
}

func rejectReason(err error) string {
	switch KindOf(err) {
	case KindNotFound:
		return "product_not_found"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindValidation:
		return "validation"
	default:
		return "db_error"
	}
}

func (s *OrderService) invalidateProduct(ctx context.Context, productID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateProduct(ctx, productID); err != nil {
		s.logger.Warn("Failed to invalidate cached product",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, lookupError(err, ErrOrderNotFound)
	}
	return order, nil
}

// ListOrders retrieves all orders, newest first
func (s *OrderService) ListOrders(ctx context.Context) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	orders, err := s.store.ListOrders(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return orders, nil
}

// DeleteOrder deletes an order. Stock taken by the order is not returned.
func (s *OrderService) DeleteOrder(ctx context.Context, id int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.DeleteOrder")
	defer span.End()

	n, err := s.store.DeleteOrder(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}

	s.logger.Info("Order deleted", zap.Int64("order_id", id))

	if s.events != nil {
		event := &models.OrderDeletedEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderDeleted),
			OrderID:   id,
		}
		if err := s.events.PublishOrderDeleted(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderDeleted event", zap.Error(err))
		}
	}
	return nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
