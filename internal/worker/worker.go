package worker

import (
	"context"
	"errors"

	"eshop-service/internal/broker"
	"eshop-service/internal/models"
	"eshop-service/internal/store"
	"eshop-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ProductReader looks up current product state
type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

// MessageSource delivers messages to a handler until its context ends
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// LowStockWorker watches placed orders and flags products whose stock has
// fallen to the threshold
type LowStockWorker struct {
	source       MessageSource
	products     ProductReader
	threshold    int
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewLowStockWorker creates a new low-stock worker
func NewLowStockWorker(source MessageSource, products ProductReader, threshold int) *LowStockWorker {
	w := &LowStockWorker{
		source:       source,
		products:     products,
		threshold:    threshold,
		eventHandler: broker.NewEventHandler(),
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderPlaced(w.HandleOrderPlaced)
	return w
}

// Start consumes events until ctx is cancelled
func (w *LowStockWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting low-stock worker", zap.Int("threshold", w.threshold))
	return w.source.StartConsuming(ctx, w.HandleMessage)
}

// Stop stops the worker
func (w *LowStockWorker) Stop() error {
	w.logger.Info("Stopping low-stock worker")
	return w.source.Close()
}

// HandleMessage routes a raw message through the event handler
func (w *LowStockWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

// HandleOrderPlaced re-reads the ordered product and raises an alert when
// its stock is at or below the threshold
func (w *LowStockWorker) HandleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	product, err := w.products.GetProduct(ctx, event.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		w.logger.Debug("Product gone, skipping low-stock check",
			zap.Int64("product_id", event.ProductID),
			zap.Int64("order_id", event.OrderID))
		return nil
	}
	if err != nil {
		return err
	}

	if product.Stock > w.threshold {
		return nil
	}

	util.LowStockAlertsTotal.Inc()
	w.logger.Warn("Product stock is low",
		zap.Int64("product_id", product.ID),
		zap.String("name", product.Name),
		zap.Int("stock", product.Stock),
		zap.Int("threshold", w.threshold),
		zap.Int64("order_id", event.OrderID))
	return nil
}
