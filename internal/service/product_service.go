package service

import (
	"context"

	"eshop-service/internal/models"
	"eshop-service/internal/store"
	"eshop-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductService handles product CRUD
type ProductService struct {
	store  *store.Store
	cache  ProductCache
	logger *zap.Logger
}

// NewProductService creates a new product service. cache may be nil.
func NewProductService(store *store.Store, cache ProductCache) *ProductService {
	return &ProductService{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// ProductInput is the body of product create and update requests
type ProductInput struct {
	Name        string              `json:"name"`
	Description *string             `json:"description"`
	Price       decimal.NullDecimal `json:"price"`
	Stock       *int                `json:"stock"`
	Category    *string             `json:"category"`
}

// valid requires a name, a non-zero price and a stock that is present.
// Unlike order quantities, a stock of 0 is accepted.
func (in *ProductInput) valid() bool {
	return in.Name != "" && in.Price.Valid && !in.Price.Decimal.IsZero() && in.Stock != nil
}

func (in *ProductInput) toProduct(id int64) *models.Product {
	return &models.Product{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price.Decimal,
		Stock:       *in.Stock,
		Category:    in.Category,
	}
}

// ListProducts retrieves all products, newest first
func (s *ProductService) ListProducts(ctx context.Context) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.ListProducts")
	defer span.End()

	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return products, nil
}

// GetProduct retrieves a product by ID, through the cache when one is set
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.GetProduct")
	defer span.End()

	if s.cache != nil {
		cached, err := s.cache.GetProduct(ctx, id)
		if err != nil {
			s.logger.Warn("Product cache read failed", zap.Int64("product_id", id), zap.Error(err))
		}
		if cached != nil {
			util.ProductCacheRequestsTotal.WithLabelValues("hit").Inc()
			return cached, nil
		}
		util.ProductCacheRequestsTotal.WithLabelValues("miss").Inc()
	}

	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, lookupError(err, ErrProductNotFound)
	}

	if s.cache != nil {
		if err := s.cache.SetProduct(ctx, product); err != nil {
			s.logger.Warn("Product cache write failed", zap.Int64("product_id", id), zap.Error(err))
		}
	}
	return product, nil
}

// CreateProduct validates and stores a new product
func (s *ProductService) CreateProduct(ctx context.Context, in *ProductInput) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.CreateProduct")
	defer span.End()

	if !in.valid() {
		return nil, ErrProductFieldsRequired
	}

	product := in.toProduct(0)
	if err := s.store.CreateProduct(ctx, product); err != nil {
		return nil, storeError(err)
	}

	s.logger.Info("Product created", zap.Int64("product_id", product.ID), zap.String("name", product.Name))
	return product, nil
}

// UpdateProduct replaces every field of an existing product. An unknown id
// is reported as not found even when the input is also invalid.
func (s *ProductService) UpdateProduct(ctx context.Context, id int64, in *ProductInput) error {
	ctx, span := util.StartSpan(ctx, "ProductService.UpdateProduct")
	defer span.End()

	if !in.valid() {
		if _, err := s.store.GetProduct(ctx, id); err != nil {
			return lookupError(err, ErrProductNotFound)
		}
		return ErrProductFieldsRequired
	}

	n, err := s.store.UpdateProduct(ctx, in.toProduct(id))
	if err != nil {
		return storeError(err)
	}
	if n == 0 {
		return ErrProductNotFound
	}

	s.invalidate(ctx, id)
	return nil
}

// DeleteProduct deletes a product. Orders that reference it are kept.
func (s *ProductService) DeleteProduct(ctx context.Context, id int64) error {
	ctx, span := util.StartSpan(ctx, "ProductService.DeleteProduct")
	defer span.End()

	n, err := s.store.DeleteProduct(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if n == 0 {
		return ErrProductNotFound
	}

	s.invalidate(ctx, id)
	s.logger.Info("Product deleted", zap.Int64("product_id", id))
	return nil
}

func (s *ProductService) invalidate(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateProduct(ctx, id); err != nil {
		s.logger.Warn("Failed to invalidate cached product", zap.Int64("product_id", id), zap.Error(err))
	}
}
