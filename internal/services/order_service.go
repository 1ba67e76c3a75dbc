package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"jewellery-shop/internal/models"
	"jewellery-shop/internal/notify"
	"jewellery-shop/internal/store"
)

// checkoutState tracks a single checkout attempt for logging. Failed is
// reachable from any non-terminal state; the transition out of a failed
// attempt is always "every reservation released".
type checkoutState string

const (
	stateStarted        checkoutState = "started"
	stateItemsReserved  checkoutState = "items_reserved"
	stateOrderPersisted checkoutState = "order_persisted"
	stateCartCleared    checkoutState = "cart_cleared"
	stateCompleted      checkoutState = "completed"
	stateFailed         checkoutState = "failed"
)

// OrderService runs the checkout workflow and owns order lifecycle
// management after creation.
type OrderService struct {
	orders    store.OrderStore
	inventory *InventoryService
	carts     *CartService
	products  store.ProductStore
	notifier  notify.Notifier
	logger    *zap.Logger
}

func NewOrderService(orders store.OrderStore, inventory *InventoryService, carts *CartService,
	products store.ProductStore, notifier notify.Notifier, logger *zap.Logger) *OrderService {
	return &OrderService{
		orders:    orders,
		inventory: inventory,
		carts:     carts,
		products:  products,
		notifier:  notifier,
		logger:    logger,
	}
}

// reservedLine is one cart line after its stock has been reserved, with
// the price snapshot taken at reservation time.
type reservedLine struct {
	reservationID string
	item          models.OrderItem
}

// Checkout turns the user's cart into an order. Stock for every line is
// reserved atomically per product; the first failure releases everything
// reserved so far, in reverse order, and the caller sees the original
// cart and stock untouched. Only after the order row and its items are
// persisted as one unit are the reservations committed and the cart
// cleared.
func (s *OrderService) Checkout(ctx context.Context, userID int, req models.CheckoutRequest) (*models.Order, error) {
	log := s.logger.With(zap.Int("user_id", userID), zap.String("checkout_state", string(stateStarted)))
	log.Info("checkout started")

	cart, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, models.ErrEmptyCart
	}

	lines, err := s.reserveLines(ctx, cart.Items)
	if err != nil {
		log.Warn("checkout failed during reservation",
			zap.String("checkout_state", string(stateFailed)), zap.Error(err))
		return nil, err
	}
	log.Info("checkout items reserved",
		zap.Int("lines", len(lines)),
		zap.String("checkout_state", string(stateItemsReserved)))

	order, err := s.persistOrder(ctx, userID, req, lines)
	if err != nil {
		log.Error("checkout failed during persistence",
			zap.String("checkout_state", string(stateFailed)), zap.Error(err))
		return nil, err
	}

	if err := s.carts.Clear(ctx, userID); err != nil {
		// The order stands; an uncleared cart is an annoyance, not a
		// correctness problem, and checkout re-validates stock anyway.
		log.Warn("cart clear failed after checkout", zap.Error(err))
	} else {
		log.Info("cart cleared", zap.String("checkout_state", string(stateCartCleared)))
	}

	s.notifyCreated(ctx, order)
	log.Info("checkout completed",
		zap.String("order_id", order.ID),
		zap.String("checkout_state", string(stateCompleted)))
	return order, nil
}

// QuickBuy is single-product checkout without a cart: same reservation,
// persistence and notification pipeline as Checkout.
func (s *OrderService) QuickBuy(ctx context.Context, userID, productID, quantity int, req models.CheckoutRequest) (*models.Order, error) {
	if quantity <= 0 {
		quantity = 1
	}
	lines, err := s.reserveLines(ctx, []models.CartItem{{ProductID: productID, Quantity: quantity}})
	if err != nil {
		return nil, err
	}

	order, err := s.persistOrder(ctx, userID, req, lines)
	if err != nil {
		return nil, err
	}
	s.notifyCreated(ctx, order)
	return order, nil
}

// reserveLines reserves stock line by line, snapshotting the price read
// at reservation time. On any failure every reservation already made in
// this attempt is released, newest first, before the error is returned.
func (s *OrderService) reserveLines(ctx context.Context, items []models.CartItem) ([]reservedLine, error) {
	var reserved []reservedLine

	rollback := func() {
		for i := len(reserved) - 1; i >= 0; i-- {
			if err := s.inventory.Release(ctx, reserved[i].reservationID); err != nil {
				s.logger.Error("compensation release failed",
					zap.String("reservation_id", reserved[i].reservationID),
					zap.Error(err))
			}
		}
	}

	for _, item := range items {
		product, err := s.products.GetProduct(ctx, item.ProductID)
		if err != nil {
			rollback()
			return nil, err
		}

		reservationID, err := s.inventory.Reserve(ctx, item.ProductID, item.Quantity)
		if err != nil {
			rollback()
			return nil, err
		}

		qty := decimal.NewFromInt(int64(item.Quantity))
		reserved = append(reserved, reservedLine{
			reservationID: reservationID,
			item: models.OrderItem{
				ProductID: item.ProductID,
				Name:      product.Name,
				Quantity:  item.Quantity,
				UnitPrice: product.Price,
				Subtotal:  product.Price.Mul(qty),
			},
		})
	}
	return reserved, nil
}

// persistOrder writes order + items atomically. A storage failure here
// releases every reservation, so a failed attempt leaves stock exactly
// as it was.
func (s *OrderService) persistOrder(ctx context.Context, userID int, req models.CheckoutRequest, lines []reservedLine) (*models.Order, error) {
	total := decimal.Zero
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		total = total.Add(line.item.Subtotal)
		items = append(items, line.item)
	}

	now := time.Now()
	order := &models.Order{
		ID:            uuid.NewString(),
		UserID:        userID,
		Items:         items,
		Total:         total,
		Status:        models.OrderStatusPending,
		Shipping:      req.Shipping,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: models.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		for i := len(lines) - 1; i >= 0; i-- {
			if rerr := s.inventory.Release(ctx, lines[i].reservationID); rerr != nil {
				s.logger.Error("release after persistence failure failed",
					zap.String("reservation_id", lines[i].reservationID),
					zap.Error(rerr))
			}
		}
		return nil, &models.OrderPersistenceError{Err: err}
	}

	for _, line := range lines {
		s.inventory.Commit(line.reservationID)
	}
	s.logger.Info("order persisted",
		zap.String("order_id", order.ID),
		zap.String("checkout_state", string(stateOrderPersisted)))
	return order, nil
}

func (s *OrderService) notifyCreated(ctx context.Context, order *models.Order) {
	if err := s.notifier.OrderCreated(ctx, order.UserID, order.ID, order.Status); err != nil {
		s.logger.Warn("order created notification failed",
			zap.String("order_id", order.ID), zap.Error(err))
	}
}

// Get returns an order scoped to its owner unless admin is set.
func (s *OrderService) Get(ctx context.Context, userID int, orderID string, admin bool) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !admin && order.UserID != userID {
		return nil, &models.OrderNotFoundError{OrderID: orderID}
	}
	return order, nil
}

func (s *OrderService) ListForUser(ctx context.Context, userID int) ([]models.Order, error) {
	return s.orders.ListOrdersByUser(ctx, userID)
}

func (s *OrderService) ListAll(ctx context.Context) ([]models.Order, error) {
	return s.orders.ListOrders(ctx)
}

// UpdateStatus moves an order along pending -> processing -> shipped ->
// delivered, or to cancelled from any non-terminal state. Cancellation
// goes through Cancel so stock release is never skipped.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, next models.OrderStatus) (*models.Order, error) {
	if next == models.OrderStatusCancelled {
		return s.cancel(ctx, orderID)
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !next.Valid() || !order.Status.CanTransitionTo(next) {
		return nil, &models.InvalidStatusTransitionError{From: order.Status, To: next}
	}

	// Cash-on-delivery settles when the courier hands the parcel over.
	payment := order.PaymentStatus
	if next == models.OrderStatusDelivered && order.PaymentMethod == "cod" {
		payment = models.PaymentStatusPaid
	}

	moved, err := s.orders.UpdateOrderStatus(ctx, orderID, order.Status, next, payment)
	if err != nil {
		return nil, err
	}
	if !moved {
		// Someone else changed the order between our read and write.
		return nil, s.transitionConflict(ctx, orderID, next)
	}
	order.Status = next
	order.PaymentStatus = payment
	order.UpdatedAt = time.Now()

	if err := s.notifier.OrderStatusChanged(ctx, order.UserID, order.ID, next); err != nil {
		s.logger.Warn("status change notification failed",
			zap.String("order_id", order.ID), zap.Error(err))
	}
	return order, nil
}

// transitionConflict rereads the order after a conditional status write
// found it already moved, and reports the transition that is now illegal.
func (s *OrderService) transitionConflict(ctx context.Context, orderID string, wanted models.OrderStatus) error {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return &models.InvalidStatusTransitionError{From: order.Status, To: wanted}
}

// Cancel cancels the caller's own order.
func (s *OrderService) Cancel(ctx context.Context, userID int, orderID string, admin bool) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !admin && order.UserID != userID {
		return nil, &models.OrderNotFoundError{OrderID: orderID}
	}
	return s.cancel(ctx, orderID)
}

// cancel releases stock for orders that have not shipped. Once an order
// has shipped the units are out of the building; returns are a separate
// flow and do not pass through here. The conditional status write decides
// which of two racing cancellations owns the transition; only the owner
// restocks, so units can never come back twice.
func (s *OrderService) cancel(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(models.OrderStatusCancelled) {
		return nil, &models.InvalidStatusTransitionError{From: order.Status, To: models.OrderStatusCancelled}
	}

	restock := order.Status == models.OrderStatusPending || order.Status == models.OrderStatusProcessing

	moved, err := s.orders.UpdateOrderStatus(ctx, orderID, order.Status, models.OrderStatusCancelled, order.PaymentStatus)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, s.transitionConflict(ctx, orderID, models.OrderStatusCancelled)
	}

	if restock {
		for _, item := range order.Items {
			if err := s.inventory.ReleaseStock(ctx, item.ProductID, item.Quantity); err != nil {
				s.logger.Error("restock on cancellation failed",
					zap.String("order_id", orderID),
					zap.Int("product_id", item.ProductID),
					zap.Error(err))
			}
		}
	}

	order.Status = models.OrderStatusCancelled
	order.UpdatedAt = time.Now()

	if err := s.notifier.OrderStatusChanged(ctx, order.UserID, order.ID, models.OrderStatusCancelled); err != nil {
		s.logger.Warn("status change notification failed",
			zap.String("order_id", order.ID), zap.Error(err))
	}
	s.logger.Info("order cancelled",
		zap.String("order_id", orderID), zap.Bool("restocked", restock))
	return order, nil
}
