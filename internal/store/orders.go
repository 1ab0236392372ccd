package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"eshop-service/internal/models"
)

const orderSelect = `
	SELECT o.*, p.name AS product_name
	FROM orders o
	LEFT JOIN products p ON o.product_id = p.id`

// CreateOrder inserts an order. Status is left to the column default and
// read back together with the new ID.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (customer_name, customer_email, product_id, quantity, total_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id, status`

	order.CreatedAt = now()
	return s.q.GetContext(ctx, order, s.q.Rebind(query),
		order.CustomerName, order.CustomerEmail, order.ProductID,
		order.Quantity, order.TotalPrice, order.CreatedAt)
}

// GetOrder retrieves an order by ID joined with its product name
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.q.GetContext(ctx, &order, s.q.Rebind(orderSelect+" WHERE o.id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders retrieves all orders, newest first
func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.q.SelectContext(ctx, &orders, orderSelect+" ORDER BY o.created_at DESC, o.id DESC")
	return orders, err
}

// UpdateOrderStatus sets an order's status and returns the number of rows
// affected
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status string) (int64, error) {
	return s.exec(ctx, "UPDATE orders SET status = ? WHERE id = ?", status, id)
}

// DeleteOrder deletes an order and returns the number of rows affected.
// Product stock is not restored.
func (s *Store) DeleteOrder(ctx context.Context, id int64) (int64, error) {
	return s.exec(ctx, "DELETE FROM orders WHERE id = ?", id)
}
