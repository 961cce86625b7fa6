package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/safar/go-order-delivery/internal/checkout"
	"github.com/safar/go-order-delivery/internal/delivery"
	"github.com/safar/go-order-delivery/internal/logger"
	"github.com/safar/go-order-delivery/internal/notify"
)

type Deps struct {
	DB         *sql.DB
	Checkout   *checkout.Service
	Deliveries *delivery.Manager
	Dispatcher *notify.Dispatcher
	Hub        *notify.Hub
	Log        *logger.Logger
}

type Server struct {
	router *gin.Engine
	deps   Deps
	log    *logger.Logger

	// heartbeat is the idle interval between keep-alive events on a stream.
	heartbeat time.Duration
}

func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(log))

	s := &Server{
		router:    router,
		deps:      deps,
		log:       log,
		heartbeat: 15 * time.Second,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.healthCheck)

		api.POST("/customers", handleCreateCustomer(s.deps.DB))
		api.GET("/customers/:id", handleGetCustomer(s.deps.DB))
		api.GET("/customers/:id/orders", handleCustomerOrders(s.deps.Checkout))
		api.POST("/customers/:id/orders/:order_id/cancel", handleCancelOrder(s.deps.Checkout))
		api.POST("/employees", handleCreateEmployee(s.deps.DB))
		api.POST("/products", handleCreateProduct(s.deps.DB))
		api.GET("/products", handleListProducts(s.deps.DB))
		api.GET("/products/:id", handleGetProduct(s.deps.DB))
		api.PUT("/products/:id/discount", handleSetDiscount(s.deps.DB))

		api.POST("/orders", handleCreateOrder(s.deps.Checkout))
		api.GET("/orders", handleListOrders(s.deps.Checkout))
		api.GET("/orders/:id", handleGetOrder(s.deps.Checkout))
		api.PATCH("/orders/:id/status", handlePickupStatus(s.deps.Checkout))
		api.POST("/orders/:id/delivery", handleAssign(s.deps.Deliveries))

		api.GET("/deliveries/history", handleHistory(s.deps.Deliveries))
		api.GET("/deliveries/:id", handleGetTask(s.deps.Deliveries))
		api.PUT("/deliveries/:id/courier", handleReassign(s.deps.Deliveries))
		api.POST("/deliveries/:id/transitions", handleTransition(s.deps.Deliveries))
		api.POST("/deliveries/:id/cancel", handleCancel(s.deps.Deliveries))
		api.POST("/deliveries/:id/route", handleRoute(s.deps.Deliveries))

		api.GET("/couriers", handleListCouriers(s.deps.DB))
		api.GET("/couriers/:id/deliveries", handleCourierTasks(s.deps.Deliveries))
		api.GET("/couriers/:id/notifications", handleInbox(s.deps.Dispatcher))
		api.GET("/couriers/:id/notifications/unread", handleUnreadCount(s.deps.Dispatcher))
		api.POST("/couriers/:id/notifications", handleSendMessage(s.deps.Dispatcher))
		api.POST("/couriers/:id/notifications/read", handleMarkAllRead(s.deps.Dispatcher))
		api.POST("/notifications/:id/read", handleMarkRead(s.deps.Dispatcher))
		api.GET("/couriers/:id/stream", s.handleStream)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.deps.DB == nil || s.deps.DB.PingContext(ctx) != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "error",
			"error":  "database connection failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "order-delivery",
	})
}
