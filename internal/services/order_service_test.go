package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jewellery-shop/internal/models"
	"jewellery-shop/internal/store/memory"
)

type capturingNotifier struct {
	mu      sync.Mutex
	created []string
	changed []string
	fail    bool
}

func (n *capturingNotifier) OrderCreated(_ context.Context, _ int, orderID string, _ models.OrderStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("broker unreachable")
	}
	n.created = append(n.created, orderID)
	return nil
}

func (n *capturingNotifier) OrderStatusChanged(_ context.Context, _ int, orderID string, _ models.OrderStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("broker unreachable")
	}
	n.changed = append(n.changed, orderID)
	return nil
}

// failingOrderStore makes order persistence fail on demand while
// delegating everything else to the real store.
type failingOrderStore struct {
	*memory.Store
	failCreate bool
}

func (f *failingOrderStore) CreateOrder(ctx context.Context, order *models.Order) error {
	if f.failCreate {
		return errors.New("disk full")
	}
	return f.Store.CreateOrder(ctx, order)
}

// gatedOrderStore holds the first two order reads at a barrier so both
// callers observe the same status before either gets to write.
type gatedOrderStore struct {
	*memory.Store
	reads int32
	both  sync.WaitGroup
}

func (g *gatedOrderStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := g.Store.GetOrder(ctx, id)
	if atomic.AddInt32(&g.reads, 1) <= 2 {
		g.both.Done()
		g.both.Wait()
	}
	return order, err
}

type checkoutFixture struct {
	store     *memory.Store
	orders    *failingOrderStore
	inventory *InventoryService
	carts     *CartService
	svc       *OrderService
	notifier  *capturingNotifier
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	st := memory.New()
	orders := &failingOrderStore{Store: st}
	logger := zap.NewNop()
	inventory := NewInventoryService(st, logger, time.Second, time.Minute)
	carts := NewCartService(st, st, logger)
	notifier := &capturingNotifier{}
	svc := NewOrderService(orders, inventory, carts, st, notifier, logger)
	return &checkoutFixture{
		store:     st,
		orders:    orders,
		inventory: inventory,
		carts:     carts,
		svc:       svc,
		notifier:  notifier,
	}
}

func (f *checkoutFixture) addProduct(t *testing.T, price float64, stock int) int {
	t.Helper()
	p := &models.Product{Name: "Ruby Ring", Price: decimal.NewFromFloat(price), Stock: stock, Category: "rings"}
	require.NoError(t, f.store.CreateProduct(context.Background(), p))
	return p.ID
}

func (f *checkoutFixture) stock(t *testing.T, id int) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func shippingRequest() models.CheckoutRequest {
	return models.CheckoutRequest{
		Shipping: models.ShippingDetails{
			FullName:     "Asha Verma",
			AddressLine1: "12 Marine Drive",
			City:         "Mumbai",
			State:        "MH",
			Pincode:      "400001",
			Phone:        "9800000000",
		},
		PaymentMethod: "cod",
	}
}

func TestCheckoutHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	id := f.addProduct(t, 120, 3)

	_, err := f.carts.AddItem(ctx, 1, id, 2)
	require.NoError(t, err)

	order, err := f.svc.Checkout(ctx, 1, shippingRequest())
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	require.Len(t, order.Items, 1)
	assert.Equal(t, id, order.Items[0].ProductID)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.True(t, order.Items[0].UnitPrice.Equal(decimal.NewFromInt(120)))
	assert.True(t, order.Total.Equal(decimal.NewFromInt(240)))
	assert.Equal(t, "Asha Verma", order.Shipping.FullName)

	// Stock decremented, cart emptied, nothing left pending.
	assert.Equal(t, 1, f.stock(t, id))
	cart, err := f.carts.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Zero(t, f.inventory.PendingReservations())

	// Persisted and notified.
	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.Total.Equal(order.Total))
	assert.Equal(t, []string{order.ID}, f.notifier.created)
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newCheckoutFixture(t)
	_, err := f.svc.Checkout(context.Background(), 1, shippingRequest())
	assert.ErrorIs(t, err, models.ErrEmptyCart)
}

func TestCheckoutInsufficientStockLeavesEverythingUntouched(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	id := f.addProduct(t, 80, 1)

	// Seed the cart line directly; AddItem would refuse qty 2 up front,
	// and this models stock dropping between cart display and checkout.
	cart, err := f.carts.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	cart.Items = []models.CartItem{{ProductID: id, Quantity: 2, AddedAt: time.Now()}}
	require.NoError(t, f.store.SaveCart(ctx, cart))

	_, err = f.svc.Checkout(ctx, 1, shippingRequest())
	var stockErr *models.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 1, stockErr.Available)

	assert.Equal(t, 1, f.stock(t, id))
	got, err := f.carts.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)

	orders, err := f.store.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.notifier.created)
}

// Line A reserves all 5 available units, line B fails: A's 5 units must
// come back.
func TestCheckoutCompensatesEarlierReservations(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	idA := f.addProduct(t, 30, 5)
	idB := f.addProduct(t, 45, 1)

	cart, err := f.carts.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	cart.Items = []models.CartItem{
		{ProductID: idA, Quantity: 5, AddedAt: time.Now()},
		{ProductID: idB, Quantity: 2, AddedAt: time.Now()},
	}
	require.NoError(t, f.store.SaveCart(ctx, cart))

	_, err = f.svc.Checkout(ctx, 1, shippingRequest())
	var stockErr *models.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, idB, stockErr.ProductID)

	assert.Equal(t, 5, f.stock(t, idA))
	assert.Equal(t, 1, f.stock(t, idB))
	assert.Zero(t, f.inventory.PendingReservations())
}

func TestCheckoutPersistenceFailureReleasesReservations(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	id := f.addProduct(t, 60, 4)

	_, err := f.carts.AddItem(ctx, 1, id, 3)
	require.NoError(t, err)

	f.orders.failCreate = true
	_, err = f.svc.Checkout(ctx, 1, shippingRequest())
	var persistErr *models.OrderPersistenceError
	require.True(t, errors.As(err, &persistErr))

	assert.Equal(t, 4, f.stock(t, id))
	assert.Zero(t, f.inventory.PendingReservations())

	// Cart survives the failed attempt.
	cart, err := f.carts.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}

func TestCheckoutTotalImmuneToLaterPriceChange(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	id := f.addProduct(t, 200, 5)

	_, err := f.carts.AddItem(ctx, 1, id, 2)
	require.NoError(t, err)
	order, err := f.svc.Checkout(ctx, 1, shippingRequest())
	require.NoError(t, err)

	p, err := f.store.GetProduct(ctx, id)
	require.NoError(t, err)
	p.Price = decimal.NewFromInt(500)
	require.NoError(t, f.store.UpdateProduct(ctx, p))

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.Total.Equal(decimal.NewFromInt(400)))
	assert.True(t, stored.Items[0].UnitPrice.Equal(decimal.NewFromInt(200)))

	// Total always equals the sum of item subtotals.
	sum := decimal.Zero
	for _, item := range stored.Items {
		sum = sum.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	assert.True(t, stored.Total.Equal(sum))
}

func TestCheckoutNotificationFailureDoesNotFailOrder(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	id := f.addProduct(t, 50, 2)

	_, err := f.carts.AddItem(ctx, 1, id, 1)
	require.NoError(t, err)

	f.notifier.fail = true
	order, err := f.svc.Checkout(ctx, 1, shippingRequest())
	require.NoError(t, err)

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Equal(t, 1, f.stock(t, id))
}

func TestConcurrentCheckoutsLastUnit(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	id := f.addProduct(t, 99, 1)

	_, err := f.carts.AddItem(ctx, 1, id, 1)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, 2, id, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Checkout(ctx, i+1, shippingRequest())
		}(i)
	}
	wg.Wait()

	var stockErr *models.InsufficientStockError
	if errs[0] == nil {
		require.True(t, errors.As(errs[1], &stockErr))
	} else {
		require.NoError(t, errs[1])
		require.True(t, errors.As(errs[0], &stockErr))
	}
	assert.Equal(t, 0, f.stock(t, id))

	orders, err := f.store.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestQuickBuy(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	id := f.addProduct(t, 75, 3)

	order, err := f.svc.QuickBuy(ctx, 4, id, 2, shippingRequest())
	require.NoError(t, err)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, 1, f.stock(t, id))

	// Quick-buy never touches the cart.
	cart, err := f.carts.GetOrCreate(ctx, 4)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestUpdateStatusFollowsStateMachine(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	id := f.addProduct(t, 10, 5)
	_, err := f.carts.AddItem(ctx, 1, id, 1)
	require.NoError(t, err)
	order, err := f.svc.Checkout(ctx, 1, shippingRequest())
	require.NoError(t, err)

	// Pending cannot jump straight to delivered.
	_, err = f.svc.UpdateStatus(ctx, order.ID, models.OrderStatusDelivered)
	var transitionErr *models.InvalidStatusTransitionError
	require.True(t, errors.As(err, &transitionErr))

	stockBefore := f.stock(t, id)
	for _, next := range []models.OrderStatus{
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
	} {
		updated, err := f.svc.UpdateStatus(ctx, order.ID, next)
		require.NoError(t, err)
		assert.Equal(t, next, updated.Status)
	}

	// Status changes have no stock or cart side effects.
	assert.Equal(t, stockBefore, f.stock(t, id))

	// Delivered is terminal.
	_, err = f.svc.UpdateStatus(ctx, order.ID, models.OrderStatusCancelled)
	require.True(t, errors.As(err, &transitionErr))

	assert.Len(t, f.notifier.changed, 3)
}

func TestCancelPendingRestocks(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	id := f.addProduct(t, 10, 5)
	_, err := f.carts.AddItem(ctx, 1, id, 3)
	require.NoError(t, err)
	order, err := f.svc.Checkout(ctx, 1, shippingRequest())
	require.NoError(t, err)
	require.Equal(t, 2, f.stock(t, id))

	cancelled, err := f.svc.Cancel(ctx, 1, order.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 5, f.stock(t, id))
}

func TestCancelShippedDoesNotRestock(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	id := f.addProduct(t, 10, 5)
	_, err := f.carts.AddItem(ctx, 1, id, 3)
	require.NoError(t, err)
	order, err := f.svc.Checkout(ctx, 1, shippingRequest())
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, order.ID, models.OrderStatusProcessing)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, order.ID, models.OrderStatusShipped)
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, 1, order.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 2, f.stock(t, id))
}

// Two cancellations read the same pending order before either writes.
// Only the one that wins the conditional status write may restock, so
// the units come back exactly once.
func TestConcurrentCancelRestocksOnce(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	gated := &gatedOrderStore{Store: st}
	gated.both.Add(2)

	logger := zap.NewNop()
	inventory := NewInventoryService(st, logger, time.Second, time.Minute)
	carts := NewCartService(st, st, logger)
	svc := NewOrderService(gated, inventory, carts, st, &capturingNotifier{}, logger)

	p := &models.Product{Name: "Ruby Ring", Price: decimal.NewFromInt(40), Stock: 5, Category: "rings"}
	require.NoError(t, st.CreateProduct(ctx, p))
	_, err := carts.AddItem(ctx, 1, p.ID, 3)
	require.NoError(t, err)
	order, err := svc.Checkout(ctx, 1, shippingRequest())
	require.NoError(t, err)
	require.Equal(t, 2, stockOf(t, st, p.ID))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.UpdateStatus(ctx, order.ID, models.OrderStatusCancelled)
		}(i)
	}
	wg.Wait()

	var transitionErr *models.InvalidStatusTransitionError
	if errs[0] == nil {
		require.True(t, errors.As(errs[1], &transitionErr))
	} else {
		require.NoError(t, errs[1])
		require.True(t, errors.As(errs[0], &transitionErr))
	}

	// Restocked to the original 5, not 8.
	assert.Equal(t, 5, stockOf(t, st, p.ID))

	got, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
}

func TestGetOrderScopedToOwner(t *testing.T) {
	ctx := context.Background()
	f := newCheckoutFixture(t)
	id := f.addProduct(t, 10, 5)
	_, err := f.carts.AddItem(ctx, 1, id, 1)
	require.NoError(t, err)
	order, err := f.svc.Checkout(ctx, 1, shippingRequest())
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, 2, order.ID, false)
	var notFound *models.OrderNotFoundError
	require.True(t, errors.As(err, &notFound))

	got, err := f.svc.Get(ctx, 2, order.ID, true)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	mine, err := f.svc.ListForUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
