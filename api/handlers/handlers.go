package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"jewellery-shop/internal/models"
)

// Authentication lives outside this service. The gateway injects the
// authenticated user into X-User-ID (and X-User-Role for back-office
// calls); handlers trust both.
func currentUserID(c *gin.Context) (int, bool) {
	userID, err := strconv.Atoi(c.GetHeader("X-User-ID"))
	if err != nil || userID <= 0 {
		return 0, false
	}
	return userID, true
}

func isAdmin(c *gin.Context) bool {
	return c.GetHeader("X-User-Role") == "admin"
}

func requireUser(c *gin.Context) (int, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid X-User-ID header"})
	}
	return userID, ok
}

// respondError maps domain errors onto HTTP statuses. Conflict-class
// failures (stock, contention) get 409 so clients know a retry or a
// smaller quantity may succeed.
func respondError(c *gin.Context, err error) {
	var (
		stockErr      *models.InsufficientStockError
		notFound      *models.ProductNotFoundError
		orderNotFound *models.OrderNotFoundError
		conflict      *models.ConcurrencyConflictError
		persistence   *models.OrderPersistenceError
		transition    *models.InvalidStatusTransitionError
	)

	switch {
	case errors.Is(err, models.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrCartItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      err.Error(),
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &orderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
	case errors.As(err, &transition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &persistence):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
