// Package rqlite is the rqlite storage backend. Multi-statement writes
// go through one request so rqlite applies them transactionally, and
// stock reservation is the same conditional UPDATE the postgres backend
// uses, checked by rows-affected.
package rqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rqlite/gorqlite"
	"github.com/shopspring/decimal"

	"jewellery-shop/internal/models"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		name           TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		price          TEXT NOT NULL,
		stock_quantity INTEGER NOT NULL CHECK (stock_quantity >= 0),
		category       TEXT NOT NULL,
		image_url      TEXT NOT NULL DEFAULT '',
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS carts (
		user_id    INTEGER PRIMARY KEY,
		id         TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		user_id    INTEGER NOT NULL,
		product_id INTEGER NOT NULL,
		quantity   INTEGER NOT NULL CHECK (quantity > 0),
		added_at   TEXT NOT NULL,
		PRIMARY KEY (user_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id             TEXT PRIMARY KEY,
		user_id        INTEGER NOT NULL,
		total          TEXT NOT NULL,
		status         TEXT NOT NULL,
		ship_full_name TEXT NOT NULL,
		ship_address1  TEXT NOT NULL,
		ship_address2  TEXT NOT NULL DEFAULT '',
		ship_city      TEXT NOT NULL,
		ship_state     TEXT NOT NULL,
		ship_pincode   TEXT NOT NULL,
		ship_phone     TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id   TEXT NOT NULL,
		product_id INTEGER NOT NULL,
		name       TEXT NOT NULL,
		quantity   INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		subtotal   TEXT NOT NULL,
		PRIMARY KEY (order_id, product_id)
	)`,
}

type Store struct {
	conn *gorqlite.Connection
}

func Open(url string) (*Store, error) {
	conn, err := gorqlite.Open(url)
	if err != nil {
		return nil, fmt.Errorf("open rqlite: %w", err)
	}
	return &Store{conn: conn}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	results, err := s.conn.WriteContext(ctx, schema)
	if err != nil {
		for _, r := range results {
			if r.Err != nil {
				return r.Err
			}
		}
		return err
	}
	return nil
}

func (s *Store) Close() {
	s.conn.Close()
}

// Timestamps and decimals are stored as text; sqlite has no native type
// for either. A row that fails to parse back is corrupt and surfaces as
// a scan error rather than zero values.
const timeFormat = time.RFC3339Nano

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

func (s *Store) writeOne(ctx context.Context, query string, args ...any) (gorqlite.WriteResult, error) {
	return s.conn.WriteOneParameterizedContext(ctx, gorqlite.ParameterizedStatement{
		Query:     query,
		Arguments: args,
	})
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (gorqlite.QueryResult, error) {
	return s.conn.QueryOneParameterizedContext(ctx, gorqlite.ParameterizedStatement{
		Query:     query,
		Arguments: args,
	})
}

const productColumns = "id, name, description, price, stock_quantity, category, image_url, created_at, updated_at"

func scanProduct(qr *gorqlite.QueryResult) (*models.Product, error) {
	var (
		id, stock                          int64
		name, desc, price, category, image string
		createdAt, updatedAt               string
	)
	if err := qr.Scan(&id, &name, &desc, &price, &stock, &category, &image, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	priceD, err := parseDecimal(price)
	if err != nil {
		return nil, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	return &models.Product{
		ID:          int(id),
		Name:        name,
		Description: desc,
		Price:       priceD,
		Stock:       int(stock),
		Category:    category,
		ImageURL:    image,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

func (s *Store) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	qr, err := s.queryOne(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if !qr.Next() {
		return nil, &models.ProductNotFoundError{ProductID: id}
	}
	return scanProduct(&qr)
}

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.queryProducts(ctx, "SELECT "+productColumns+" FROM products ORDER BY id")
}

func (s *Store) ListProductsByCategory(ctx context.Context, category string) ([]models.Product, error) {
	return s.queryProducts(ctx,
		"SELECT "+productColumns+" FROM products WHERE category = ? ORDER BY id", category)
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]models.Product, error) {
	qr, err := s.queryOne(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var products []models.Product
	for qr.Next() {
		p, err := scanProduct(&qr)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	res, err := s.writeOne(ctx,
		`INSERT INTO products (name, description, price, stock_quantity, category, image_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Description, p.Price.String(), p.Stock, p.Category, p.ImageURL,
		now.Format(timeFormat), now.Format(timeFormat))
	if err != nil {
		return err
	}
	p.ID = int(res.LastInsertID)
	return nil
}

func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	p.UpdatedAt = time.Now()
	res, err := s.writeOne(ctx,
		`UPDATE products SET name = ?, description = ?, price = ?, category = ?, image_url = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, p.Description, p.Price.String(), p.Category, p.ImageURL,
		p.UpdatedAt.Format(timeFormat), p.ID)
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return &models.ProductNotFoundError{ProductID: p.ID}
	}
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int) error {
	res, err := s.writeOne(ctx, "DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return &models.ProductNotFoundError{ProductID: id}
	}
	return nil
}

func (s *Store) SetStock(ctx context.Context, id, stock int) error {
	res, err := s.writeOne(ctx,
		"UPDATE products SET stock_quantity = ?, updated_at = ? WHERE id = ?",
		stock, time.Now().Format(timeFormat), id)
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return &models.ProductNotFoundError{ProductID: id}
	}
	return nil
}

func (s *Store) DecrementStock(ctx context.Context, id, qty int) error {
	res, err := s.writeOne(ctx,
		`UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = ?
		 WHERE id = ? AND stock_quantity >= ?`,
		qty, time.Now().Format(timeFormat), id, qty)
	if err != nil {
		return err
	}
	if res.RowsAffected == 1 {
		return nil
	}

	qr, err := s.queryOne(ctx, "SELECT stock_quantity FROM products WHERE id = ?", id)
	if err != nil {
		return err
	}
	if !qr.Next() {
		return &models.ProductNotFoundError{ProductID: id}
	}
	var available int64
	if err := qr.Scan(&available); err != nil {
		return err
	}
	return &models.InsufficientStockError{ProductID: id, Requested: qty, Available: int(available)}
}

func (s *Store) IncrementStock(ctx context.Context, id, qty int) error {
	res, err := s.writeOne(ctx,
		"UPDATE products SET stock_quantity = stock_quantity + ?, updated_at = ? WHERE id = ?",
		qty, time.Now().Format(timeFormat), id)
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return &models.ProductNotFoundError{ProductID: id}
	}
	return nil
}

func (s *Store) GetCart(ctx context.Context, userID int) (*models.Cart, bool, error) {
	qr, err := s.queryOne(ctx,
		"SELECT id, created_at, updated_at FROM carts WHERE user_id = ?", userID)
	if err != nil {
		return nil, false, err
	}
	if !qr.Next() {
		return nil, false, nil
	}
	var id, createdAt, updatedAt string
	if err := qr.Scan(&id, &createdAt, &updatedAt); err != nil {
		return nil, false, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, false, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, false, err
	}
	cart := &models.Cart{
		ID:        id,
		UserID:    userID,
		CreatedAt: created,
		UpdatedAt: updated,
	}

	items, err := s.queryOne(ctx,
		"SELECT product_id, quantity, added_at FROM cart_items WHERE user_id = ? ORDER BY added_at", userID)
	if err != nil {
		return nil, false, err
	}
	for items.Next() {
		var (
			productID, quantity int64
			addedAt             string
		)
		if err := items.Scan(&productID, &quantity, &addedAt); err != nil {
			return nil, false, err
		}
		added, err := parseTime(addedAt)
		if err != nil {
			return nil, false, err
		}
		cart.Items = append(cart.Items, models.CartItem{
			ProductID: int(productID),
			Quantity:  int(quantity),
			AddedAt:   added,
		})
	}
	return cart, true, nil
}

// SaveCart replaces the stored cart through one atomic multi-statement
// request, the rqlite counterpart of a transaction.
func (s *Store) SaveCart(ctx context.Context, cart *models.Cart) error {
	stmts := []gorqlite.ParameterizedStatement{
		{
			Query: `INSERT INTO carts (user_id, id, created_at, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT (user_id) DO UPDATE SET updated_at = excluded.updated_at`,
			Arguments: []any{cart.UserID, cart.ID,
				cart.CreatedAt.Format(timeFormat), time.Now().Format(timeFormat)},
		},
		{
			Query:     "DELETE FROM cart_items WHERE user_id = ?",
			Arguments: []any{cart.UserID},
		},
	}
	for _, item := range cart.Items {
		stmts = append(stmts, gorqlite.ParameterizedStatement{
			Query: "INSERT INTO cart_items (user_id, product_id, quantity, added_at) VALUES (?, ?, ?, ?)",
			Arguments: []any{cart.UserID, item.ProductID, item.Quantity,
				item.AddedAt.Format(timeFormat)},
		})
	}
	return s.writeAll(ctx, stmts)
}

func (s *Store) ClearCart(ctx context.Context, userID int) error {
	_, err := s.writeOne(ctx, "DELETE FROM cart_items WHERE user_id = ?", userID)
	return err
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	stmts := []gorqlite.ParameterizedStatement{
		{
			Query: `INSERT INTO orders (id, user_id, total, status,
				ship_full_name, ship_address1, ship_address2, ship_city, ship_state, ship_pincode, ship_phone,
				payment_method, payment_status, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			Arguments: []any{order.ID, order.UserID, order.Total.String(), string(order.Status),
				order.Shipping.FullName, order.Shipping.AddressLine1, order.Shipping.AddressLine2,
				order.Shipping.City, order.Shipping.State, order.Shipping.Pincode, order.Shipping.Phone,
				order.PaymentMethod, string(order.PaymentStatus),
				order.CreatedAt.Format(timeFormat), order.UpdatedAt.Format(timeFormat)},
		},
	}
	for _, item := range order.Items {
		stmts = append(stmts, gorqlite.ParameterizedStatement{
			Query: `INSERT INTO order_items (order_id, product_id, name, quantity, unit_price, subtotal)
				VALUES (?, ?, ?, ?, ?, ?)`,
			Arguments: []any{order.ID, item.ProductID, item.Name, item.Quantity,
				item.UnitPrice.String(), item.Subtotal.String()},
		})
	}
	return s.writeAll(ctx, stmts)
}

func (s *Store) writeAll(ctx context.Context, stmts []gorqlite.ParameterizedStatement) error {
	results, err := s.conn.WriteParameterizedContext(ctx, stmts)
	if err != nil {
		for _, r := range results {
			if r.Err != nil {
				return r.Err
			}
		}
		return err
	}
	return nil
}

const orderColumns = `id, user_id, total, status,
	ship_full_name, ship_address1, ship_address2, ship_city, ship_state, ship_pincode, ship_phone,
	payment_method, payment_status, created_at, updated_at`

func scanOrder(qr *gorqlite.QueryResult) (*models.Order, error) {
	var (
		id, total, status, payMethod, payStatus, createdAt, updatedAt string
		fullName, addr1, addr2, city, state, pincode, phone           string
		userID                                                        int64
	)
	err := qr.Scan(&id, &userID, &total, &status,
		&fullName, &addr1, &addr2, &city, &state, &pincode, &phone,
		&payMethod, &payStatus, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	totalD, err := parseDecimal(total)
	if err != nil {
		return nil, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	return &models.Order{
		ID:     id,
		UserID: int(userID),
		Total:  totalD,
		Status: models.OrderStatus(status),
		Shipping: models.ShippingDetails{
			FullName:     fullName,
			AddressLine1: addr1,
			AddressLine2: addr2,
			City:         city,
			State:        state,
			Pincode:      pincode,
			Phone:        phone,
		},
		PaymentMethod: payMethod,
		PaymentStatus: models.PaymentStatus(payStatus),
		CreatedAt:     created,
		UpdatedAt:     updated,
	}, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	qr, err := s.queryOne(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if !qr.Next() {
		return nil, &models.OrderNotFoundError{OrderID: id}
	}
	order, err := scanOrder(&qr)
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID int) ([]models.Order, error) {
	return s.queryOrders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = ? ORDER BY created_at DESC", userID)
}

func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.queryOrders(ctx, "SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC")
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	qr, err := s.queryOne(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var orders []models.Order
	for qr.Next() {
		o, err := scanOrder(&qr)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	for i := range orders {
		if err := s.loadItems(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *Store) loadItems(ctx context.Context, order *models.Order) error {
	qr, err := s.queryOne(ctx,
		`SELECT product_id, name, quantity, unit_price, subtotal
		 FROM order_items WHERE order_id = ? ORDER BY product_id`, order.ID)
	if err != nil {
		return err
	}
	for qr.Next() {
		var (
			productID, quantity       int64
			name, unitPrice, subtotal string
		)
		if err := qr.Scan(&productID, &name, &quantity, &unitPrice, &subtotal); err != nil {
			return err
		}
		unit, err := parseDecimal(unitPrice)
		if err != nil {
			return err
		}
		sub, err := parseDecimal(subtotal)
		if err != nil {
			return err
		}
		order.Items = append(order.Items, models.OrderItem{
			ProductID: int(productID),
			Name:      name,
			Quantity:  int(quantity),
			UnitPrice: unit,
			Subtotal:  sub,
		})
	}
	return nil
}

// UpdateOrderStatus writes the new status only when the row still holds
// the expected one, reported by rows-affected.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, payment models.PaymentStatus) (bool, error) {
	res, err := s.writeOne(ctx,
		"UPDATE orders SET status = ?, payment_status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), string(payment), time.Now().Format(timeFormat), id, string(from))
	if err != nil {
		return false, err
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	qr, err := s.queryOne(ctx, "SELECT 1 FROM orders WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	if !qr.Next() {
		return false, &models.OrderNotFoundError{OrderID: id}
	}
	return false, nil
}
