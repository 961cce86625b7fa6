package api

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/safar/go-order-delivery/internal/models"
	"github.com/safar/go-order-delivery/internal/store"
	"github.com/shopspring/decimal"
)

func handleCreateCustomer(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Email   string `json:"email"`
			Name    string `json:"name"`
			Address string `json:"address"`
			Phone   string `json:"phone"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, invalid("invalid request body"))
			return
		}
		if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Name) == "" {
			respondError(c, invalid("email and name are required"))
			return
		}

		customer, err := store.CreateCustomer(c.Request.Context(), db, req.Email, req.Name, req.Address, req.Phone)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, customer)
	}
}

func handleGetCustomer(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		customer, err := store.GetCustomer(c.Request.Context(), db, id)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, customer)
	}
}

func handleCreateEmployee(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name  string              `json:"name"`
			Role  models.EmployeeRole `json:"role"`
			Phone string              `json:"phone"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, invalid("invalid request body"))
			return
		}
		if req.Role != models.RoleSeller && req.Role != models.RoleCourier {
			respondError(c, invalid("role must be seller or courier"))
			return
		}

		employee, err := store.CreateEmployee(c.Request.Context(), db, req.Name, req.Role, req.Phone)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, employee)
	}
}

func handleListCouriers(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		couriers, err := store.ListCouriers(c.Request.Context(), db)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"couriers": couriers})
	}
}

func handleCreateProduct(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			SKU      string          `json:"sku"`
			Name     string          `json:"name"`
			Category string          `json:"category"`
			Price    decimal.Decimal `json:"price"`
			Stock    int             `json:"stock"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, invalid("invalid request body"))
			return
		}
		if req.Price.IsNegative() || req.Stock < 0 {
			respondError(c, invalid("price and stock must not be negative"))
			return
		}

		product, err := store.CreateProduct(c.Request.Context(), db, req.SKU, req.Name, req.Category, req.Price, req.Stock)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, product)
	}
}

func handleListProducts(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := queryInt(c, "page", 1)
		if page < 1 {
			page = 1
		}
		pageSize := queryInt(c, "page_size", 20)
		if pageSize < 1 || pageSize > 100 {
			pageSize = 20
		}

		result, err := store.ListProducts(c.Request.Context(), db, page, pageSize)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func handleGetProduct(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		product, err := store.GetProduct(c.Request.Context(), db, id)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, product)
	}
}

// handleSetDiscount sets the discounted price; a null price clears it.
func handleSetDiscount(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}

		var req struct {
			DiscountPrice *decimal.Decimal `json:"discount_price"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, invalid("invalid request body"))
			return
		}
		if req.DiscountPrice != nil && req.DiscountPrice.IsNegative() {
			respondError(c, invalid("discount_price must not be negative"))
			return
		}

		product, err := store.SetDiscountPrice(c.Request.Context(), db, id, req.DiscountPrice)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, product)
	}
}
