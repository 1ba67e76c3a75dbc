package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra context.
var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrCartItemNotFound = errors.New("item not in cart")
)

// InsufficientStockError reports a stock check or reservation that could
// not be satisfied. Available is the stock at the moment of the check.
type InsufficientStockError struct {
	ProductID int
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

type ProductNotFoundError struct {
	ProductID int
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

type OrderNotFoundError struct {
	OrderID string
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.OrderID)
}

// ConcurrencyConflictError means a reservation could not be completed
// within its deadline, usually under contention. Retryable.
type ConcurrencyConflictError struct {
	ProductID int
	Err       error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("reservation conflict on product %d: %v", e.ProductID, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

// OrderPersistenceError wraps a storage failure while writing an order.
// By the time the caller sees it, all reservations made for the attempt
// have been released.
type OrderPersistenceError struct {
	Err error
}

func (e *OrderPersistenceError) Error() string {
	return fmt.Sprintf("order persistence failed: %v", e.Err)
}

func (e *OrderPersistenceError) Unwrap() error { return e.Err }

type InvalidStatusTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}
