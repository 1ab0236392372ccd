package service

import (
	"context"

	"eshop-service/internal/models"
	"eshop-service/internal/util"

	"go.uber.org/zap"
)

// ValidStatuses is the closed set of order statuses. Any status may be set
// from any other, including itself; there is no transition graph.
var ValidStatuses = []string{
	models.OrderStatusPending,
	models.OrderStatusProcessing,
	models.OrderStatusShipped,
	models.OrderStatusDelivered,
	models.OrderStatusCancelled,
}

// IsValidStatus reports whether status is one of ValidStatuses
func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// UpdateStatus sets the status of an existing order. Cancelling does not
// return stock.
func (s *OrderService) UpdateStatus(ctx context.Context, id int64, status string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if !IsValidStatus(status) {
		return ErrInvalidStatus
	}

	n, err := s.store.UpdateOrderStatus(ctx, id, status)
	if err != nil {
		span.RecordError(err)
		return storeError(err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}

	util.OrderStatusUpdatesTotal.WithLabelValues(status).Inc()
	s.logger.Info("Order status updated",
		zap.Int64("order_id", id),
		zap.String("status", status))

	if s.events != nil {
		event := &models.OrderStatusChangedEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged),
			OrderID:   id,
			Status:    status,
		}
		if err := s.events.PublishOrderStatusChanged(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}
	return nil
}
