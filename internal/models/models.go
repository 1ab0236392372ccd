package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Prices leave the API as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Product represents a product in the catalog
type Product struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description *string         `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Stock       int             `db:"stock" json:"stock"`
	Category    *string         `db:"category" json:"category"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Order represents a customer order for a single product.
// ProductID is a lookup-only reference: the product may be changed or
// deleted later without touching the order.
type Order struct {
	ID            int64           `db:"id" json:"id"`
	CustomerName  string          `db:"customer_name" json:"customer_name"`
	CustomerEmail string          `db:"customer_email" json:"customer_email"`
	ProductID     int64           `db:"product_id" json:"product_id"`
	Quantity      int             `db:"quantity" json:"quantity"`
	TotalPrice    decimal.Decimal `db:"total_price" json:"total_price"`
	Status        string          `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	ProductName   *string         `db:"product_name" json:"product_name"`
}

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)
