// Package memory is the in-process storage backend. It is the default
// for development and the backend the service tests run against.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"jewellery-shop/internal/models"
)

type Store struct {
	mu       sync.RWMutex
	products map[int]*models.Product
	carts    map[int]*models.Cart // keyed by user id
	orders   map[string]*models.Order
	nextID   int
}

func New() *Store {
	return &Store{
		products: make(map[int]*models.Product),
		carts:    make(map[int]*models.Cart),
		orders:   make(map[string]*models.Order),
		nextID:   1,
	}
}

func (s *Store) GetProduct(_ context.Context, id int) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, &models.ProductNotFoundError{ProductID: id}
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListProducts(_ context.Context) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, *p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (s *Store) ListProductsByCategory(_ context.Context, category string) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var products []models.Product
	for _, p := range s.products {
		if p.Category == category {
			products = append(products, *p)
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.nextID
	s.nextID++
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *Store) UpdateProduct(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[p.ID]
	if !ok {
		return &models.ProductNotFoundError{ProductID: p.ID}
	}
	existing.Name = p.Name
	existing.Description = p.Description
	existing.Price = p.Price
	existing.Category = p.Category
	existing.ImageURL = p.ImageURL
	existing.UpdatedAt = time.Now()
	*p = *existing
	return nil
}

func (s *Store) DeleteProduct(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return &models.ProductNotFoundError{ProductID: id}
	}
	delete(s.products, id)
	return nil
}

func (s *Store) SetStock(_ context.Context, id, stock int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return &models.ProductNotFoundError{ProductID: id}
	}
	p.Stock = stock
	p.UpdatedAt = time.Now()
	return nil
}

// DecrementStock performs the check and the decrement under one lock
// hold, so concurrent callers serialize on the same condition the SQL
// backends express as a conditional UPDATE.
func (s *Store) DecrementStock(_ context.Context, id, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return &models.ProductNotFoundError{ProductID: id}
	}
	if p.Stock < qty {
		return &models.InsufficientStockError{ProductID: id, Requested: qty, Available: p.Stock}
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now()
	return nil
}

func (s *Store) IncrementStock(_ context.Context, id, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return &models.ProductNotFoundError{ProductID: id}
	}
	p.Stock += qty
	p.UpdatedAt = time.Now()
	return nil
}

func (s *Store) GetCart(_ context.Context, userID int) (*models.Cart, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[userID]
	if !ok {
		return nil, false, nil
	}
	cp := *cart
	cp.Items = append([]models.CartItem(nil), cart.Items...)
	return &cp, true, nil
}

func (s *Store) SaveCart(_ context.Context, cart *models.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *cart
	cp.Items = append([]models.CartItem(nil), cart.Items...)
	cp.UpdatedAt = time.Now()
	s.carts[cart.UserID] = &cp
	return nil
}

func (s *Store) ClearCart(_ context.Context, userID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[userID]
	if !ok {
		return nil
	}
	cart.Items = nil
	cart.UpdatedAt = time.Now()
	return nil
}

func (s *Store) CreateOrder(_ context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *order
	cp.Items = append([]models.OrderItem(nil), order.Items...)
	s.orders[order.ID] = &cp
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, &models.OrderNotFoundError{OrderID: id}
	}
	cp := *order
	cp.Items = append([]models.OrderItem(nil), order.Items...)
	return &cp, nil
}

func (s *Store) ListOrdersByUser(_ context.Context, userID int) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			cp := *o
			cp.Items = append([]models.OrderItem(nil), o.Items...)
			orders = append(orders, cp)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (s *Store) ListOrders(_ context.Context) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		cp := *o
		cp.Items = append([]models.OrderItem(nil), o.Items...)
		orders = append(orders, cp)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

// UpdateOrderStatus checks and writes the status under one lock hold,
// the same shape the SQL backends express as a conditional UPDATE.
func (s *Store) UpdateOrderStatus(_ context.Context, id string, from, to models.OrderStatus, payment models.PaymentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return false, &models.OrderNotFoundError{OrderID: id}
	}
	if order.Status != from {
		return false, nil
	}
	order.Status = to
	order.PaymentStatus = payment
	order.UpdatedAt = time.Now()
	return true, nil
}
