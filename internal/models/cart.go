package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cart struct {
	ID        string     `json:"id"`
	UserID    int        `json:"user_id"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartItem stores only the product reference and quantity. Prices are
// read from the catalog at display time, so a cart never holds a stale
// price snapshot.
type CartItem struct {
	ProductID int       `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

// CartView is the display shape of a cart: each line priced against the
// current catalog. Viewing a cart is not a reservation; stock and prices
// can change before checkout, which re-validates everything.
type CartView struct {
	ID     string          `json:"id"`
	UserID int             `json:"user_id"`
	Items  []CartLineView  `json:"items"`
	Total  decimal.Decimal `json:"total"`
}

type CartLineView struct {
	ProductID int             `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Stock     int             `json:"stock"`
}

type AddToCartRequest struct {
	ProductID int `json:"product_id" binding:"required"`
	Quantity  int `json:"quantity" binding:"required,gt=0"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0"`
}
