// Package postgres is the PostgreSQL storage backend. Stock reservation
// is a conditional UPDATE checked by rows-affected, so the database is
// the arbiter under concurrent checkouts.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"jewellery-shop/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id             SERIAL PRIMARY KEY,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	price          NUMERIC(12,2) NOT NULL CHECK (price >= 0),
	stock_quantity INTEGER NOT NULL CHECK (stock_quantity >= 0),
	category       TEXT NOT NULL,
	image_url      TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS carts (
	user_id    INTEGER PRIMARY KEY,
	id         TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cart_items (
	user_id    INTEGER NOT NULL REFERENCES carts(user_id) ON DELETE CASCADE,
	product_id INTEGER NOT NULL,
	quantity   INTEGER NOT NULL CHECK (quantity > 0),
	added_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, product_id)
);

CREATE TABLE IF NOT EXISTS orders (
	id              TEXT PRIMARY KEY,
	user_id         INTEGER NOT NULL,
	total           NUMERIC(12,2) NOT NULL,
	status          TEXT NOT NULL,
	ship_full_name  TEXT NOT NULL,
	ship_address1   TEXT NOT NULL,
	ship_address2   TEXT NOT NULL DEFAULT '',
	ship_city       TEXT NOT NULL,
	ship_state      TEXT NOT NULL,
	ship_pincode    TEXT NOT NULL,
	ship_phone      TEXT NOT NULL,
	payment_method  TEXT NOT NULL,
	payment_status  TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS order_items (
	order_id   TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id INTEGER NOT NULL,
	name       TEXT NOT NULL,
	quantity   INTEGER NOT NULL CHECK (quantity > 0),
	unit_price NUMERIC(12,2) NOT NULL,
	subtotal   NUMERIC(12,2) NOT NULL,
	PRIMARY KEY (order_id, product_id)
);
`

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = "id, name, description, price, stock_quantity, category, image_url, created_at, updated_at"

func scanProduct(row interface{ Scan(...any) error }) (*models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock,
		&p.Category, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = $1", id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.ProductNotFoundError{ProductID: id}
	}
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.queryProducts(ctx, "SELECT "+productColumns+" FROM products ORDER BY id")
}

func (s *Store) ListProductsByCategory(ctx context.Context, category string) ([]models.Product, error) {
	return s.queryProducts(ctx,
		"SELECT "+productColumns+" FROM products WHERE category = $1 ORDER BY id", category)
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	return s.db.QueryRowContext(ctx,
		`INSERT INTO products (name, description, price, stock_quantity, category, image_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		p.Name, p.Description, p.Price, p.Stock, p.Category, p.ImageURL, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
}

func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	p.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET name = $1, description = $2, price = $3, category = $4, image_url = $5, updated_at = $6
		 WHERE id = $7`,
		p.Name, p.Description, p.Price, p.Category, p.ImageURL, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	return s.requireRow(res, p.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return err
	}
	return s.requireRow(res, id)
}

func (s *Store) SetStock(ctx context.Context, id, stock int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET stock_quantity = $1, updated_at = now() WHERE id = $2", stock, id)
	if err != nil {
		return err
	}
	return s.requireRow(res, id)
}

// DecrementStock is the reservation primitive: the stock check and the
// decrement happen inside one UPDATE, so no interleaving of concurrent
// callers can oversell. Zero rows affected means the condition failed,
// and a follow-up read distinguishes missing product from short stock.
func (s *Store) DecrementStock(ctx context.Context, id, qty int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET stock_quantity = stock_quantity - $1, updated_at = now()
		 WHERE id = $2 AND stock_quantity >= $1`, qty, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var available int
	err = s.db.QueryRowContext(ctx, "SELECT stock_quantity FROM products WHERE id = $1", id).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.ProductNotFoundError{ProductID: id}
	}
	if err != nil {
		return err
	}
	return &models.InsufficientStockError{ProductID: id, Requested: qty, Available: available}
}

func (s *Store) IncrementStock(ctx context.Context, id, qty int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET stock_quantity = stock_quantity + $1, updated_at = now() WHERE id = $2", qty, id)
	if err != nil {
		return err
	}
	return s.requireRow(res, id)
}

func (s *Store) requireRow(res sql.Result, productID int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &models.ProductNotFoundError{ProductID: productID}
	}
	return nil
}

func (s *Store) GetCart(ctx context.Context, userID int) (*models.Cart, bool, error) {
	var cart models.Cart
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1", userID).
		Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT product_id, quantity, added_at FROM cart_items WHERE user_id = $1 ORDER BY added_at", userID)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.AddedAt); err != nil {
			return nil, false, err
		}
		cart.Items = append(cart.Items, item)
	}
	return &cart, true, rows.Err()
}

// SaveCart replaces the stored cart wholesale inside one transaction.
func (s *Store) SaveCart(ctx context.Context, cart *models.Cart) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO carts (user_id, id, created_at, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = now()`,
		cart.UserID, cart.ID, cart.CreatedAt)
	if err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", cart.UserID); err != nil {
		return err
	}
	for _, item := range cart.Items {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO cart_items (user_id, product_id, quantity, added_at) VALUES ($1, $2, $3, $4)",
			cart.UserID, item.ProductID, item.Quantity, item.AddedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ClearCart(ctx context.Context, userID int) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", userID)
	return err
}

// CreateOrder writes the order row and every item in one transaction.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, total, status,
			ship_full_name, ship_address1, ship_address2, ship_city, ship_state, ship_pincode, ship_phone,
			payment_method, payment_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		order.ID, order.UserID, order.Total, order.Status,
		order.Shipping.FullName, order.Shipping.AddressLine1, order.Shipping.AddressLine2,
		order.Shipping.City, order.Shipping.State, order.Shipping.Pincode, order.Shipping.Phone,
		order.PaymentMethod, order.PaymentStatus, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return err
	}
	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, name, quantity, unit_price, subtotal)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			order.ID, item.ProductID, item.Name, item.Quantity, item.UnitPrice, item.Subtotal)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

const orderColumns = `id, user_id, total, status,
	ship_full_name, ship_address1, ship_address2, ship_city, ship_state, ship_pincode, ship_phone,
	payment_method, payment_status, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Total, &o.Status,
		&o.Shipping.FullName, &o.Shipping.AddressLine1, &o.Shipping.AddressLine2,
		&o.Shipping.City, &o.Shipping.State, &o.Shipping.Pincode, &o.Shipping.Phone,
		&o.PaymentMethod, &o.PaymentStatus, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.OrderNotFoundError{OrderID: id}
	}
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
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
}

func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.queryOrders(ctx, "SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC")
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range orders {
		if err := s.loadItems(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *Store) loadItems(ctx context.Context, order *models.Order) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, name, quantity, unit_price, subtotal
		 FROM order_items WHERE order_id = $1 ORDER BY product_id`, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return err
		}
		order.Items = append(order.Items, item)
	}
	return rows.Err()
}

// UpdateOrderStatus is a conditional write: the row only changes when it
// still holds the expected status, so racing transitions cannot both win.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, payment models.PaymentStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, payment_status = $2, updated_at = now() WHERE id = $3 AND status = $4",
		to, payment, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)", id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, &models.OrderNotFoundError{OrderID: id}
	}
	return false, nil
}
