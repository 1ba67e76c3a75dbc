package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Category    string          `json:"category"`
	ImageURL    string          `json:"image_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type CreateProductRequest struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price" binding:"required"`
	Stock       int             `json:"stock" binding:"gte=0"`
	Category    string          `json:"category" binding:"required"`
	ImageURL    string          `json:"image_url"`
}

// UpdateProductRequest never touches stock; restocking goes through
// the dedicated stock endpoint so all stock writes stay in one place.
type UpdateProductRequest struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price" binding:"required"`
	Category    string          `json:"category" binding:"required"`
	ImageURL    string          `json:"image_url"`
}

type SetStockRequest struct {
	Stock int `json:"stock" binding:"gte=0"`
}
