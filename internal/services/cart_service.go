package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"jewellery-shop/internal/models"
	"jewellery-shop/internal/store"
)

// CartService holds each user's pending purchase. Stock checks here are
// read-only guards for a sane UI; nothing is reserved until checkout.
type CartService struct {
	carts    store.CartStore
	products store.ProductStore
	logger   *zap.Logger
}

func NewCartService(carts store.CartStore, products store.ProductStore, logger *zap.Logger) *CartService {
	return &CartService{carts: carts, products: products, logger: logger}
}

// GetOrCreate returns the user's cart, creating an empty one on first
// access. Never returns nil on success.
func (s *CartService) GetOrCreate(ctx context.Context, userID int) (*models.Cart, error) {
	cart, ok, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok {
		return cart, nil
	}

	cart = &models.Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	if err := s.carts.SaveCart(ctx, cart); err != nil {
		return nil, err
	}
	s.logger.Debug("cart created", zap.Int("user_id", userID), zap.String("cart_id", cart.ID))
	return cart, nil
}

// AddItem merges with an existing line for the same product and
// validates the merged quantity against current stock.
func (s *CartService) AddItem(ctx context.Context, userID, productID, quantity int) (*models.Cart, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	cart, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	merged := quantity
	idx := -1
	for i, item := range cart.Items {
		if item.ProductID == productID {
			merged += item.Quantity
			idx = i
			break
		}
	}
	if product.Stock < merged {
		return nil, &models.InsufficientStockError{
			ProductID: productID,
			Requested: merged,
			Available: product.Stock,
		}
	}

	if idx >= 0 {
		cart.Items[idx].Quantity = merged
	} else {
		cart.Items = append(cart.Items, models.CartItem{
			ProductID: productID,
			Quantity:  quantity,
			AddedAt:   time.Now(),
		})
	}
	if err := s.carts.SaveCart(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartService) UpdateItemQuantity(ctx context.Context, userID, productID, quantity int) (*models.Cart, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Stock < quantity {
		return nil, &models.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: product.Stock,
		}
	}

	cart, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i, item := range cart.Items {
		if item.ProductID == productID {
			cart.Items[i].Quantity = quantity
			if err := s.carts.SaveCart(ctx, cart); err != nil {
				return nil, err
			}
			return cart, nil
		}
	}
	return nil, models.ErrCartItemNotFound
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID int) (*models.Cart, error) {
	cart, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i, item := range cart.Items {
		if item.ProductID == productID {
			cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			if err := s.carts.SaveCart(ctx, cart); err != nil {
				return nil, err
			}
			return cart, nil
		}
	}
	return nil, models.ErrCartItemNotFound
}

// Clear empties the cart. Clearing an absent or already-empty cart
// succeeds.
func (s *CartService) Clear(ctx context.Context, userID int) error {
	return s.carts.ClearCart(ctx, userID)
}

// View prices every line against the current catalog. A product removed
// from the catalog since it was added renders as a zero-priced line with
// no stock, which checkout will reject anyway.
func (s *CartService) View(ctx context.Context, userID int) (*models.CartView, error) {
	cart, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := &models.CartView{
		ID:     cart.ID,
		UserID: cart.UserID,
		Items:  make([]models.CartLineView, 0, len(cart.Items)),
		Total:  decimal.Zero,
	}
	for _, item := range cart.Items {
		line := models.CartLineView{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}
		product, err := s.products.GetProduct(ctx, item.ProductID)
		if err == nil {
			line.Name = product.Name
			line.UnitPrice = product.Price
			line.Subtotal = product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
			line.Stock = product.Stock
			view.Total = view.Total.Add(line.Subtotal)
		}
		view.Items = append(view.Items, line)
	}
	return view, nil
}
