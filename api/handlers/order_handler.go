package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"jewellery-shop/internal/models"
	"jewellery-shop/internal/services"
)

type OrderHandler struct {
	orderService *services.OrderService
}

func NewOrderHandler(orderService *services.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// POST /api/orders/checkout
func (h *OrderHandler) Checkout(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.Checkout(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "order created", "order": order})
}

// POST /api/orders/quick-buy/:product_id
func (h *OrderHandler) QuickBuy(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	productID, err := strconv.Atoi(c.Param("product_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}
	quantity, err := strconv.Atoi(c.DefaultQuery("quantity", "1"))
	if err != nil || quantity <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity"})
		return
	}

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.QuickBuy(c.Request.Context(), userID, productID, quantity, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "order created", "order": order})
}

// GET /api/orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	orders, err := h.orderService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orders})
}

// GET /api/orders/all  (admin)
func (h *OrderHandler) ListAllOrders(c *gin.Context) {
	if !isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}

	orders, err := h.orderService.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orders})
}

// GET /api/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	order, err := h.orderService.Get(c.Request.Context(), userID, c.Param("id"), isAdmin(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

// PUT /api/orders/:id/status  (admin)
func (h *OrderHandler) UpdateOrderStatus(c *gin.Context) {
	if !isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}

	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order status"})
		return
	}

	order, err := h.orderService.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "order status updated", "order": order})
}

// POST /api/orders/:id/cancel
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	order, err := h.orderService.Cancel(c.Request.Context(), userID, c.Param("id"), isAdmin(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "order cancelled", "order": order})
}
