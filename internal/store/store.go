// Package store defines the storage interfaces the services are built
// against, with interchangeable memory, postgres and rqlite backends.
package store

import (
	"context"

	"jewellery-shop/internal/models"
)

// ProductStore owns product rows including the stock column. The two
// stock primitives are the only way stock is ever mutated relative to
// its current value, and both are atomic in every backend: a failed
// DecrementStock leaves the row untouched, and two concurrent decrements
// of the last unit cannot both succeed.
type ProductStore interface {
	GetProduct(ctx context.Context, id int) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	ListProductsByCategory(ctx context.Context, category string) ([]models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error
	DeleteProduct(ctx context.Context, id int) error
	SetStock(ctx context.Context, id, stock int) error

	// DecrementStock subtracts qty only when the row currently holds at
	// least qty units, in one indivisible step. Returns
	// *models.InsufficientStockError otherwise.
	DecrementStock(ctx context.Context, id, qty int) error
	IncrementStock(ctx context.Context, id, qty int) error
}

// CartStore persists one cart per user.
type CartStore interface {
	// GetCart returns (nil, false, nil) when the user has no cart yet.
	GetCart(ctx context.Context, userID int) (*models.Cart, bool, error)
	SaveCart(ctx context.Context, cart *models.Cart) error
	// ClearCart removes all items; clearing an absent cart is a no-op.
	ClearCart(ctx context.Context, userID int) error
}

// OrderStore persists orders. CreateOrder writes the order and all of
// its items as a single atomic unit: either everything is stored or
// nothing is.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int) ([]models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)

	// UpdateOrderStatus moves the order from one status to another in a
	// single conditional write. It returns false when the order's current
	// status is no longer from, so two racing writers cannot both claim
	// the same transition. Side effects such as restocking must only run
	// on a true return.
	UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, payment models.PaymentStatus) (bool, error)
}

// Store is the full storage surface; every backend implements it.
type Store interface {
	ProductStore
	CartStore
	OrderStore
}
