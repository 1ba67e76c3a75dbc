package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jewellery-shop/internal/models"
)

func newProduct(t *testing.T, s *Store, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		Name:     "Gold Ring",
		Price:    decimal.NewFromFloat(149.99),
		Stock:    stock,
		Category: "rings",
	}
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return p
}

func TestDecrementStock(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newProduct(t, s, 5)

	require.NoError(t, s.DecrementStock(ctx, p.ID, 3))

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)
}

func TestDecrementStockInsufficient(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newProduct(t, s, 1)

	err := s.DecrementStock(ctx, p.ID, 2)
	var stockErr *models.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, p.ID, stockErr.ProductID)
	assert.Equal(t, 2, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)

	// A failed decrement must leave the row untouched.
	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stock)
}

func TestDecrementStockUnknownProduct(t *testing.T) {
	s := New()
	err := s.DecrementStock(context.Background(), 42, 1)
	var notFound *models.ProductNotFoundError
	require.True(t, errors.As(err, &notFound))
}

// Two concurrent decrements of the last unit: exactly one may win.
func TestDecrementStockLastUnitConcurrent(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newProduct(t, s, 1)

	const attempts = 50
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.DecrementStock(ctx, p.ID, 1)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			var stockErr *models.InsufficientStockError
			require.True(t, errors.As(err, &stockErr))
		}
	}
	assert.Equal(t, 1, wins)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
}

func TestStockNeverNegativeUnderLoad(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newProduct(t, s, 10)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.DecrementStock(ctx, p.ID, 3)
		}()
	}
	wg.Wait()

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.Stock, 0)
	assert.Equal(t, 1, got.Stock) // 3 of the 100 callers fit into 10 units
}

func TestIncrementStock(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := newProduct(t, s, 0)

	require.NoError(t, s.IncrementStock(ctx, p.ID, 4))
	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)
}

func TestCartRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, ok, err := s.GetCart(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	cart := &models.Cart{ID: "c1", UserID: 7, Items: []models.CartItem{{ProductID: 1, Quantity: 2}}}
	require.NoError(t, s.SaveCart(ctx, cart))

	got, ok, err := s.GetCart(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Items, 1)

	// Mutating the returned copy must not leak into the store.
	got.Items[0].Quantity = 99
	again, _, err := s.GetCart(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Items[0].Quantity)
}

func TestClearCartIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	// Clearing a cart that never existed succeeds.
	require.NoError(t, s.ClearCart(ctx, 3))

	cart := &models.Cart{ID: "c2", UserID: 3, Items: []models.CartItem{{ProductID: 1, Quantity: 1}}}
	require.NoError(t, s.SaveCart(ctx, cart))
	require.NoError(t, s.ClearCart(ctx, 3))
	require.NoError(t, s.ClearCart(ctx, 3))

	got, ok, err := s.GetCart(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, got.Items)
}

func TestOrderRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	order := &models.Order{
		ID:     "o1",
		UserID: 9,
		Status: models.OrderStatusPending,
		Total:  decimal.NewFromInt(100),
		Items:  []models.OrderItem{{ProductID: 1, Quantity: 2, UnitPrice: decimal.NewFromInt(50)}},
	}
	require.NoError(t, s.CreateOrder(ctx, order))

	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 9, got.UserID)
	assert.Len(t, got.Items, 1)

	moved, err := s.UpdateOrderStatus(ctx, "o1", models.OrderStatusPending, models.OrderStatusShipped, models.PaymentStatusPending)
	require.NoError(t, err)
	assert.True(t, moved)
	got, err = s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, got.Status)

	// A writer that still sees the old status loses and changes nothing.
	moved, err = s.UpdateOrderStatus(ctx, "o1", models.OrderStatusPending, models.OrderStatusCancelled, models.PaymentStatusPending)
	require.NoError(t, err)
	assert.False(t, moved)
	got, err = s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, got.Status)

	mine, err := s.ListOrdersByUser(ctx, 9)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	none, err := s.ListOrdersByUser(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	var notFound *models.OrderNotFoundError
	_, err = s.GetOrder(ctx, "missing")
	require.True(t, errors.As(err, &notFound))
	_, err = s.UpdateOrderStatus(ctx, "missing", models.OrderStatusPending, models.OrderStatusShipped, models.PaymentStatusPending)
	require.True(t, errors.As(err, &notFound))
}
