package database

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		}
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err is a unique_violation on the named constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

var (
	ErrCustomerNotFound     = errors.New("customer not found")
	ErrEmployeeNotFound     = errors.New("employee not found")
	ErrNoCourierAvailable   = errors.New("no courier available")
	ErrProductNotFound      = errors.New("product not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrTaskNotFound         = errors.New("delivery task not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrOptimisticLockFailed = errors.New("optimistic lock failed")
	ErrAlreadyExists        = errors.New("already exists")

	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrInvalidPrice         = errors.New("unit price must be a non-negative amount in cents")
	ErrMissingAddress       = errors.New("home delivery requires an address")
	ErrInvalidDeliveryType  = errors.New("invalid delivery type")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrTotalMismatch        = errors.New("order total does not match its lines")

	ErrIllegalTransition  = errors.New("illegal state transition")
	ErrNotAssignedCourier = errors.New("courier is not assigned to this task")
	ErrNotOwner           = errors.New("resource belongs to someone else")

	ErrPersistence = errors.New("persistence failure")
)

// InsufficientStockError names the product that could not be reserved.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// PersistenceError marks a driver failure. It matches ErrPersistence and
// unwraps to the driver error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsDomainError reports whether err is one of the enumerated outcomes rather
// than an infrastructure failure.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrCustomerNotFound, ErrEmployeeNotFound, ErrNoCourierAvailable, ErrProductNotFound,
		ErrOrderNotFound, ErrTaskNotFound, ErrNotificationNotFound, ErrInsufficientStock,
		ErrEmptyCart, ErrInvalidQuantity, ErrInvalidPrice, ErrMissingAddress, ErrInvalidDeliveryType,
		ErrInvalidPaymentMethod, ErrTotalMismatch, ErrIllegalTransition,
		ErrNotAssignedCourier, ErrNotOwner, ErrOptimisticLockFailed, ErrAlreadyExists,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
