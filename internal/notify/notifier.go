// Package notify publishes order lifecycle events. Publishing is
// best-effort everywhere: callers log failures and move on, and no
// notification outcome ever affects an order.
package notify

import (
	"context"

	"jewellery-shop/internal/models"
)

type Notifier interface {
	OrderCreated(ctx context.Context, userID int, orderID string, status models.OrderStatus) error
	OrderStatusChanged(ctx context.Context, userID int, orderID string, newStatus models.OrderStatus) error
}

// Nop discards all events. Used when no broker is configured and as the
// baseline in tests.
type Nop struct{}

func (Nop) OrderCreated(context.Context, int, string, models.OrderStatus) error {
	return nil
}

func (Nop) OrderStatusChanged(context.Context, int, string, models.OrderStatus) error {
	return nil
}
