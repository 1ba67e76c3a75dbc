package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"jewellery-shop/internal/models"
	"jewellery-shop/internal/services"
)

type CartHandler struct {
	cartService *services.CartService
}

func NewCartHandler(cartService *services.CartService) *CartHandler {
	return &CartHandler{cartService: cartService}
}

// GET /api/cart
func (h *CartHandler) GetCart(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	view, err := h.cartService.View(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

// POST /api/cart/items
func (h *CartHandler) AddToCart(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req models.AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cart, err := h.cartService.AddItem(c.Request.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "item added to cart", "cart": cart})
}

// PUT /api/cart/items/:product_id
func (h *CartHandler) UpdateCartItem(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	productID, err := strconv.Atoi(c.Param("product_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	var req models.UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cart, err := h.cartService.UpdateItemQuantity(c.Request.Context(), userID, productID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cart updated", "cart": cart})
}

// DELETE /api/cart/items/:product_id
func (h *CartHandler) RemoveCartItem(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	productID, err := strconv.Atoi(c.Param("product_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	cart, err := h.cartService.RemoveItem(c.Request.Context(), userID, productID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "item removed", "cart": cart})
}

// DELETE /api/cart
func (h *CartHandler) ClearCart(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	if err := h.cartService.Clear(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cart cleared"})
}
