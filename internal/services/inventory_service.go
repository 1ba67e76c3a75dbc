package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jewellery-shop/internal/models"
	"jewellery-shop/internal/store"
)

// InventoryService is the only component that mutates stock. Every
// decrement goes through Reserve, which hands back a reservation id the
// caller must later Commit (order persisted) or Release (attempt
// failed). Reservations that are neither, because the process died
// mid-checkout, are returned to the pool by the expiry sweep.
type InventoryService struct {
	products store.ProductStore
	logger   *zap.Logger

	reserveTimeout time.Duration
	ttl            time.Duration

	mu           sync.Mutex
	reservations map[string]reservation
}

type reservation struct {
	productID int
	quantity  int
	createdAt time.Time
}

func NewInventoryService(products store.ProductStore, logger *zap.Logger, reserveTimeout, ttl time.Duration) *InventoryService {
	return &InventoryService{
		products:       products,
		logger:         logger,
		reserveTimeout: reserveTimeout,
		ttl:            ttl,
		reservations:   make(map[string]reservation),
	}
}

// Reserve atomically decrements stock and registers a reservation.
// The store call runs under a bounded deadline; hitting it surfaces as
// a retryable ConcurrencyConflictError rather than blocking the request.
func (s *InventoryService) Reserve(ctx context.Context, productID, quantity int) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, s.reserveTimeout)
	defer cancel()

	if err := s.products.DecrementStock(rctx, productID, quantity); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", &models.ConcurrencyConflictError{ProductID: productID, Err: err}
		}
		return "", err
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.reservations[id] = reservation{productID: productID, quantity: quantity, createdAt: time.Now()}
	s.mu.Unlock()

	s.logger.Debug("stock reserved",
		zap.String("reservation_id", id),
		zap.Int("product_id", productID),
		zap.Int("quantity", quantity))
	return id, nil
}

// Release returns a reservation's stock. Idempotent by id: a second
// release of the same id, or of an id already committed or swept, is a
// no-op, so compensation paths can never double-release.
func (s *InventoryService) Release(ctx context.Context, reservationID string) error {
	s.mu.Lock()
	r, ok := s.reservations[reservationID]
	if ok {
		delete(s.reservations, reservationID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if err := s.products.IncrementStock(ctx, r.productID, r.quantity); err != nil {
		s.logger.Error("failed to release reservation",
			zap.String("reservation_id", reservationID),
			zap.Int("product_id", r.productID),
			zap.Error(err))
		return err
	}
	s.logger.Debug("reservation released",
		zap.String("reservation_id", reservationID),
		zap.Int("product_id", r.productID),
		zap.Int("quantity", r.quantity))
	return nil
}

// Commit finalizes a reservation: the stock is sold, the sweep must not
// return it.
func (s *InventoryService) Commit(reservationID string) {
	s.mu.Lock()
	delete(s.reservations, reservationID)
	s.mu.Unlock()
}

// ReleaseStock puts units back directly, without a reservation record.
// Used when a committed order is cancelled before shipping.
func (s *InventoryService) ReleaseStock(ctx context.Context, productID, quantity int) error {
	return s.products.IncrementStock(ctx, productID, quantity)
}

// StartSweeper runs the reservation-expiry loop until ctx is cancelled.
func (s *InventoryService) StartSweeper(ctx context.Context) {
	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepExpired(ctx)
			}
		}
	}()
}

func (s *InventoryService) sweepExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	var expired []string
	for id, r := range s.reservations {
		if r.createdAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.logger.Warn("releasing expired reservation", zap.String("reservation_id", id))
		if err := s.Release(ctx, id); err != nil {
			s.logger.Error("expired reservation release failed",
				zap.String("reservation_id", id), zap.Error(err))
		}
	}
}

// PendingReservations reports how many reservations are outstanding.
func (s *InventoryService) PendingReservations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}
