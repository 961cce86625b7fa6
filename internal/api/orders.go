package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/safar/go-order-delivery/internal/cart"
	"github.com/safar/go-order-delivery/internal/checkout"
	"github.com/safar/go-order-delivery/internal/models"
)

type createOrderRequest struct {
	CustomerID    int64                `json:"customer_id"`
	EmployeeID    int64                `json:"employee_id"`
	CartVersion   int                  `json:"cart_version"`
	Lines         []cart.Line          `json:"lines"`
	DeliveryType  models.DeliveryType  `json:"delivery_type"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	Destination   checkout.Destination `json:"destination"`
}

func handleCreateOrder(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, invalid("invalid request body"))
			return
		}

		order, err := svc.CreateOrder(c.Request.Context(), checkout.CreateOrderRequest{
			CustomerID: req.CustomerID,
			EmployeeID: req.EmployeeID,
			Snapshot: cart.Snapshot{
				Version: req.CartVersion,
				Lines:   req.Lines,
			},
			DeliveryType:  req.DeliveryType,
			PaymentMethod: req.PaymentMethod,
			Destination:   req.Destination,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, order)
	}
}

func handleGetOrder(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		order, err := svc.GetOrder(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, order)
	}
}

func handleCustomerOrders(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		result, err := svc.ListCustomerOrders(c.Request.Context(), id, c.Query("cursor"), queryInt(c, "limit", 20))
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func handleCancelOrder(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		orderID, err := pathID(c, "order_id")
		if err != nil {
			respondError(c, err)
			return
		}

		order, err := svc.CancelOrder(c.Request.Context(), orderID, customerID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, order)
	}
}

func handleListOrders(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := models.OrderStatus(c.Query("status"))

		result, err := svc.ListOrders(c.Request.Context(), status, queryInt(c, "page", 1), queryInt(c, "page_size", 20))
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func handlePickupStatus(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		var req struct {
			Status models.OrderStatus `json:"status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, invalid("invalid request body"))
			return
		}

		order, err := svc.UpdatePickupStatus(c.Request.Context(), id, req.Status)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, order)
	}
}
