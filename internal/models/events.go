package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderDeleted       = "ORDER_DELETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published when an order is placed
type OrderPlacedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	ProductID     int64           `json:"product_id"`
	Quantity      int             `json:"quantity"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	CustomerEmail string          `json:"customer_email"`
}

// OrderStatusChangedEvent published when an order status is set
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

// OrderDeletedEvent published when an order is deleted
type OrderDeletedEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
}
