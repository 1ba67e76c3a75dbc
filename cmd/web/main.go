package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jewellery-shop/api/handlers"
	"jewellery-shop/internal/config"
	"jewellery-shop/internal/notify"
	"jewellery-shop/internal/services"
	"jewellery-shop/internal/store"
	"jewellery-shop/internal/store/memory"
	"jewellery-shop/internal/store/postgres"
	"jewellery-shop/internal/store/rqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer cleanup()

	notifier, closeNotifier := newNotifier(cfg, logger)
	defer closeNotifier()

	inventoryService := services.NewInventoryService(st, logger, cfg.ReserveTimeout, cfg.ReservationTTL)
	inventoryService.StartSweeper(ctx)

	cartService := services.NewCartService(st, st, logger)
	productService := services.NewProductService(st, logger)
	orderService := services.NewOrderService(st, inventoryService, cartService, st, notifier, logger)

	productHandler := handlers.NewProductHandler(productService)
	cartHandler := handlers.NewCartHandler(cartService)
	orderHandler := handlers.NewOrderHandler(orderService)

	router := setupRouter(cfg, logger, productHandler, cartHandler, orderHandler)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr), zap.String("store", cfg.StoreBackend))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server shutdown complete")
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Production() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "postgres":
		st, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	case "rqlite":
		st, err := rqlite.Open(cfg.RqliteURL)
		if err != nil {
			return nil, nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func newNotifier(cfg *config.Config, logger *zap.Logger) (notify.Notifier, func()) {
	if cfg.KafkaBroker == "" {
		logger.Info("no kafka broker configured, order events disabled")
		return notify.Nop{}, func() {}
	}
	logger.Info("publishing order events",
		zap.String("broker", cfg.KafkaBroker), zap.String("topic", cfg.KafkaTopic))
	kn := notify.NewKafkaNotifier(cfg.KafkaBroker, cfg.KafkaTopic, logger)
	return kn, func() {
		// Flushes the writer's buffered batch before the process exits.
		if err := kn.Close(); err != nil {
			logger.Warn("kafka writer close failed", zap.Error(err))
		}
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func setupRouter(cfg *config.Config, logger *zap.Logger,
	productHandler *handlers.ProductHandler, cartHandler *handlers.CartHandler, orderHandler *handlers.OrderHandler) *gin.Engine {
	if cfg.Production() || os.Getenv("GIN_MODE") == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(requestLogger(logger))
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		products := api.Group("/products")
		{
			products.GET("", productHandler.ListProducts)
			products.GET("/:id", productHandler.GetProduct)
			products.GET("/category/:category", productHandler.ListByCategory)
			products.POST("", productHandler.CreateProduct)
			products.PUT("/:id", productHandler.UpdateProduct)
			products.DELETE("/:id", productHandler.DeleteProduct)
			products.PUT("/:id/stock", productHandler.SetStock)
		}

		cart := api.Group("/cart")
		{
			cart.GET("", cartHandler.GetCart)
			cart.POST("/items", cartHandler.AddToCart)
			cart.PUT("/items/:product_id", cartHandler.UpdateCartItem)
			cart.DELETE("/items/:product_id", cartHandler.RemoveCartItem)
			cart.DELETE("", cartHandler.ClearCart)
		}

		orders := api.Group("/orders")
		{
			orders.POST("/checkout", orderHandler.Checkout)
			orders.POST("/quick-buy/:product_id", orderHandler.QuickBuy)
			orders.GET("", orderHandler.ListOrders)
			orders.GET("/all", orderHandler.ListAllOrders)
			orders.GET("/:id", orderHandler.GetOrder)
			orders.PUT("/:id/status", orderHandler.UpdateOrderStatus)
			orders.POST("/:id/cancel", orderHandler.CancelOrder)
		}

		api.GET("/health", productHandler.HealthCheck)
	}

	return router
}
