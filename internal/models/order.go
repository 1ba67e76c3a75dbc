package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// statusTransitions is the full state machine for an order after
// creation. Delivered and cancelled are terminal.
var statusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

func (s OrderStatus) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return len(statusTransitions[s]) == 0
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

// Order is immutable after creation except Status and PaymentStatus.
// Shipping and item prices are snapshots taken at checkout; later
// profile or catalog edits never change them.
type Order struct {
	ID            string          `json:"id"`
	UserID        int             `json:"user_id"`
	Items         []OrderItem     `json:"items"`
	Total         decimal.Decimal `json:"total"`
	Status        OrderStatus     `json:"status"`
	Shipping      ShippingDetails `json:"shipping"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ProductID int             `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type ShippingDetails struct {
	FullName     string `json:"full_name" binding:"required"`
	AddressLine1 string `json:"address_line1" binding:"required"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city" binding:"required"`
	State        string `json:"state" binding:"required"`
	Pincode      string `json:"pincode" binding:"required"`
	Phone        string `json:"phone" binding:"required"`
}

type CheckoutRequest struct {
	Shipping      ShippingDetails `json:"shipping" binding:"required"`
	PaymentMethod string          `json:"payment_method" binding:"required"`
}

type UpdateOrderStatusRequest struct {
	Status OrderStatus `json:"status" binding:"required"`
}
