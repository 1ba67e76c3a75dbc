package services

import (
	"context"

	"go.uber.org/zap"

	"jewellery-shop/internal/models"
	"jewellery-shop/internal/store"
)

// ProductService is the catalog surface. It reads stock but never
// adjusts it relative to the current value; reservation and release
// belong to the inventory ledger, and SetStock is an absolute admin
// restock.
type ProductService struct {
	products store.ProductStore
	logger   *zap.Logger
}

func NewProductService(products store.ProductStore, logger *zap.Logger) *ProductService {
	return &ProductService{products: products, logger: logger}
}

func (s *ProductService) Get(ctx context.Context, id int) (*models.Product, error) {
	return s.products.GetProduct(ctx, id)
}

func (s *ProductService) List(ctx context.Context) ([]models.Product, error) {
	return s.products.ListProducts(ctx)
}

func (s *ProductService) ListByCategory(ctx context.Context, category string) ([]models.Product, error) {
	return s.products.ListProductsByCategory(ctx, category)
}

func (s *ProductService) Create(ctx context.Context, req models.CreateProductRequest) (*models.Product, error) {
	product := &models.Product{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
	}
	if err := s.products.CreateProduct(ctx, product); err != nil {
		return nil, err
	}
	s.logger.Info("product created", zap.Int("product_id", product.ID), zap.String("name", product.Name))
	return product, nil
}

// Update changes catalog fields only. Existing orders keep their price
// snapshots regardless.
func (s *ProductService) Update(ctx context.Context, id int, req models.UpdateProductRequest) (*models.Product, error) {
	product := &models.Product{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
	}
	if err := s.products.UpdateProduct(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

func (s *ProductService) Delete(ctx context.Context, id int) error {
	if err := s.products.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logger.Info("product deleted", zap.Int("product_id", id))
	return nil
}

func (s *ProductService) SetStock(ctx context.Context, id, stock int) error {
	if err := s.products.SetStock(ctx, id, stock); err != nil {
		return err
	}
	s.logger.Info("stock set", zap.Int("product_id", id), zap.Int("stock", stock))
	return nil
}
