package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/store"
)

var errBadRequest = errors.New("bad request")

func invalid(message string) error {
	return fmt.Errorf("%w: %s", errBadRequest, message)
}

// statusFor maps domain outcomes onto HTTP. Anything unrecognised is an
// infrastructure failure and reported as retryable.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, store.ErrInvalidCursor),
		errors.Is(err, database.ErrEmptyCart),
		errors.Is(err, database.ErrInvalidQuantity),
		errors.Is(err, database.ErrInvalidPrice),
		errors.Is(err, database.ErrMissingAddress),
		errors.Is(err, database.ErrInvalidDeliveryType),
		errors.Is(err, database.ErrInvalidPaymentMethod):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrCustomerNotFound),
		errors.Is(err, database.ErrEmployeeNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrTaskNotFound),
		errors.Is(err, database.ErrNotificationNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrNotOwner),
		errors.Is(err, database.ErrNotAssignedCourier):
		return http.StatusForbidden
	case errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrIllegalTransition),
		errors.Is(err, database.ErrOptimisticLockFailed),
		errors.Is(err, database.ErrNoCourierAvailable),
		errors.Is(err, database.ErrTotalMismatch),
		errors.Is(err, database.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	_ = c.Error(err)

	body := gin.H{"error": err.Error()}
	if status == http.StatusServiceUnavailable {
		body["error"] = "temporarily unavailable, retry"
	}

	var stockErr *database.InsufficientStockError
	if errors.As(err, &stockErr) {
		body["product_id"] = stockErr.ProductID
		body["requested"] = stockErr.Requested
		body["available"] = stockErr.Available
	}

	c.AbortWithStatusJSON(status, body)
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		return 0, invalid("invalid " + name)
	}
	return id, nil
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}
