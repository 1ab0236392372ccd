package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"eshop-service/internal/models"
)

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.q.GetContext(ctx, &product, s.q.Rebind("SELECT * FROM products WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts retrieves all products, newest first
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	products := []models.Product{}
	err := s.q.SelectContext(ctx, &products,
		"SELECT * FROM products ORDER BY created_at DESC, id DESC")
	return products, err
}

// CreateProduct inserts a product and sets its ID and CreatedAt
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (name, description, price, stock, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`

	p.CreatedAt = now()
	return s.q.GetContext(ctx, &p.ID, s.q.Rebind(query),
		p.Name, p.Description, p.Price, p.Stock, p.Category, p.CreatedAt)
}

// UpdateProduct replaces the mutable fields of a product and returns the
// number of rows affected
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) (int64, error) {
	return s.exec(ctx,
		"UPDATE products SET name = ?, description = ?, price = ?, stock = ?, category = ? WHERE id = ?",
		p.Name, p.Description, p.Price, p.Stock, p.Category, p.ID)
}

// DeleteProduct deletes a product and returns the number of rows affected.
// Orders referencing the product are left alone.
func (s *Store) DeleteProduct(ctx context.Context, id int64) (int64, error) {
	return s.exec(ctx, "DELETE FROM products WHERE id = ?", id)
}

// UpdateProductStock adds delta to a product's stock without any guard
func (s *Store) UpdateProductStock(ctx context.Context, id int64, delta int) error {
	_, err := s.exec(ctx, "UPDATE products SET stock = stock + ? WHERE id = ?", delta, id)
	return err
}

// DecrementStockIfAvailable takes quantity units from a product only when at
// least that many are in stock. It reports whether the decrement happened.
func (s *Store) DecrementStockIfAvailable(ctx context.Context, id int64, quantity int) (bool, error) {
	n, err := s.exec(ctx,
		"UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?",
		quantity, id, quantity)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
