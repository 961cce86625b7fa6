// Package checkout turns a cart snapshot into a persisted order. Stock
// reservation, order lines, the delivery task and the courier notification
// commit together or not at all.
package checkout

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"

	"github.com/safar/go-order-delivery/internal/cart"
	"github.com/safar/go-order-delivery/internal/config"
	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/delivery"
	"github.com/safar/go-order-delivery/internal/logger"
	"github.com/safar/go-order-delivery/internal/models"
	"github.com/safar/go-order-delivery/internal/notify"
	"github.com/safar/go-order-delivery/internal/store"
	"github.com/shopspring/decimal"
)

type Destination struct {
	Address     string              `json:"address"`
	Coordinates *models.Coordinates `json:"coordinates,omitempty"`
}

type CreateOrderRequest struct {
	CustomerID int64
	// EmployeeID zero attributes the order to the first active seller.
	EmployeeID    int64
	Snapshot      cart.Snapshot
	DeliveryType  models.DeliveryType
	PaymentMethod models.PaymentMethod
	Destination   Destination
}

func (r CreateOrderRequest) validate() error {
	if err := r.Snapshot.Validate(); err != nil {
		return err
	}
	if !r.DeliveryType.Valid() {
		return database.ErrInvalidDeliveryType
	}
	if !r.PaymentMethod.Valid() {
		return database.ErrInvalidPaymentMethod
	}
	if r.DeliveryType == models.DeliveryHome && strings.TrimSpace(r.Destination.Address) == "" {
		return database.ErrMissingAddress
	}
	return nil
}

type Service struct {
	db         *sql.DB
	tasks      *delivery.Manager
	dispatcher *notify.Dispatcher
	surcharge  decimal.Decimal
	txOpts     database.TxOptions
	log        *logger.Logger
}

func NewService(db *sql.DB, tasks *delivery.Manager, dispatcher *notify.Dispatcher, cfg config.CheckoutConfig, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		db:         db,
		tasks:      tasks,
		dispatcher: dispatcher,
		surcharge:  cfg.DeliverySurcharge,
		txOpts:     database.DefaultTxOptions(),
		log:        log,
	}
}

// CreateOrder reserves every line, persists the order and, for home delivery,
// assigns a courier. Any failure rolls the whole transaction back, which also
// undoes the reservations already taken.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	subtotal := req.Snapshot.Total()
	surcharge := decimal.Zero
	if req.DeliveryType == models.DeliveryHome {
		surcharge = s.surcharge
	}
	total := subtotal.Add(surcharge)

	var (
		order      *models.Order
		assignment *delivery.Assignment
	)

	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		assignment = nil

		exists, err := store.CustomerExists(ctx, tx, req.CustomerID)
		if err != nil {
			return err
		}
		if !exists {
			return database.ErrCustomerNotFound
		}

		employeeID, err := s.resolveEmployee(ctx, tx, req.EmployeeID)
		if err != nil {
			return err
		}

		if err := reserveLines(ctx, tx, req.Snapshot.Lines); err != nil {
			return err
		}

		order, err = store.InsertOrder(ctx, tx, store.NewOrder{
			CustomerID:    req.CustomerID,
			EmployeeID:    employeeID,
			Status:        models.OrderStatusPending,
			DeliveryType:  req.DeliveryType,
			PaymentMethod: req.PaymentMethod,
			Address:       strings.TrimSpace(req.Destination.Address),
			Destination:   req.Destination.Coordinates,
			Subtotal:      subtotal,
			Surcharge:     surcharge,
			Total:         total,
			CartVersion:   req.Snapshot.Version,
		})
		if err != nil {
			return err
		}

		lineSum := decimal.Zero
		order.Items = make([]models.OrderItem, 0, len(req.Snapshot.Lines))
		for _, line := range req.Snapshot.Lines {
			item, err := store.InsertOrderItem(ctx, tx, order.ID, store.NewOrderItem{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
			})
			if err != nil {
				return err
			}
			lineSum = lineSum.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
			order.Items = append(order.Items, *item)
		}

		if !lineSum.Add(order.Surcharge).Equal(order.TotalAmount) {
			return database.ErrTotalMismatch
		}

		if req.DeliveryType == models.DeliveryHome {
			assignment, err = s.tasks.CreateTask(ctx, tx, order, 0)
			if err != nil {
				return err
			}
			order.Task = assignment.Task
		}

		return nil
	})
	if err != nil {
		if !database.IsDomainError(err) {
			s.log.Error("order_create_failed", err, map[string]any{
				"customer_id": req.CustomerID,
				"lines":       len(req.Snapshot.Lines),
			})
		}
		return nil, err
	}

	fields := map[string]any{
		"order_id":      order.ID,
		"order_number":  order.OrderNumber,
		"customer_id":   order.CustomerID,
		"delivery_type": order.DeliveryType,
		"total":         order.TotalAmount.StringFixed(2),
	}
	if assignment != nil {
		fields["courier_id"] = assignment.Task.CourierID
		s.dispatcher.Push(ctx, *assignment.Notification)
	}
	s.log.Info("order_created", fields)

	return order, nil
}

func (s *Service) resolveEmployee(ctx context.Context, tx *sql.Tx, employeeID int64) (int64, error) {
	if employeeID == 0 {
		seller, err := store.FirstSeller(ctx, tx)
		if err != nil {
			return 0, err
		}
		return seller.ID, nil
	}

	if _, err := store.GetEmployee(ctx, tx, employeeID); err != nil {
		return 0, err
	}
	return employeeID, nil
}

// reserveLines takes stock in product id order so concurrent checkouts over
// overlapping products lock rows in the same sequence.
func reserveLines(ctx context.Context, tx *sql.Tx, lines []cart.Line) error {
	quantities := map[int64]int{}
	var productIDs []int64
	for _, line := range lines {
		if _, seen := quantities[line.ProductID]; !seen {
			productIDs = append(productIDs, line.ProductID)
		}
		quantities[line.ProductID] += line.Quantity
	}
	slices.Sort(productIDs)

	for _, id := range productIDs {
		if err := store.ReserveStock(ctx, tx, id, quantities[id]); err != nil {
			return err
		}
	}
	return nil
}

// GetOrder reads the order, its lines and its task from one snapshot.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order *models.Order
	err := database.WithTransaction(ctx, s.db, database.SnapshotTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = store.GetOrderDetails(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) ListCustomerOrders(ctx context.Context, customerID int64, cursor string, limit int) (*store.CursorPage[models.Order], error) {
	return store.ListCustomerOrdersCursor(ctx, s.db, customerID, cursor, store.PageLimit(limit, 20))
}

func (s *Service) ListOrders(ctx context.Context, status models.OrderStatus, page, pageSize int) (*store.OffsetPage[models.Order], error) {
	if page < 1 {
		page = 1
	}
	pageSize = store.PageLimit(pageSize, 20)
	return store.ListOrdersByStatus(ctx, s.db, status, page, pageSize)
}

// UpdatePickupStatus moves an in-store order along its status flow.
// Cancelling returns the order's stock to the ledger.
func (s *Service) UpdatePickupStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	return s.updatePickup(ctx, orderID, status, nil)
}

// CancelOrder is the customer's own cancellation. Only a pending order can be
// cancelled: a home order through its pending delivery task, a pickup order
// directly. Either way the reserved stock goes back to the ledger.
func (s *Service) CancelOrder(ctx context.Context, orderID, customerID int64) (*models.Order, error) {
	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, database.ErrNotOwner
	}

	if order.DeliveryType == models.DeliveryPickup {
		updated, err := s.updatePickup(ctx, orderID, models.OrderStatusCancelled, func(o *models.Order) error {
			if o.Status != models.OrderStatusPending {
				return database.ErrIllegalTransition
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.log.Info("order_cancelled", map[string]any{"order_id": orderID, "customer_id": customerID})
		return updated, nil
	}

	task, err := store.LatestTaskForOrder(ctx, s.db, orderID)
	if err != nil {
		if errors.Is(err, database.ErrTaskNotFound) {
			return nil, database.ErrIllegalTransition
		}
		return nil, err
	}
	if _, err := s.tasks.CancelForOrder(ctx, task.ID, orderID); err != nil {
		return nil, err
	}

	s.log.Info("order_cancelled", map[string]any{
		"order_id":    orderID,
		"customer_id": customerID,
		"task_id":     task.ID,
	})
	return s.GetOrder(ctx, orderID)
}

// updatePickup applies status under the order row lock. guard, when set, runs
// against the locked row before the move is checked.
func (s *Service) updatePickup(ctx context.Context, orderID int64, status models.OrderStatus, guard func(*models.Order) error) (*models.Order, error) {
	var updated *models.Order

	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		order, err := store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.DeliveryType != models.DeliveryPickup {
			return database.ErrInvalidDeliveryType
		}
		if guard != nil {
			if err := guard(order); err != nil {
				return err
			}
		}
		if !CanAdvancePickup(order.Status, status) {
			return database.ErrIllegalTransition
		}

		if err := store.SetOrderStatus(ctx, tx, order.ID, status); err != nil {
			return err
		}
		if status == models.OrderStatusCancelled {
			if err := store.ReleaseOrderStock(ctx, tx, order.ID); err != nil {
				return err
			}
		}

		updated, err = store.GetOrder(ctx, tx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("pickup_status_updated", map[string]any{
		"order_id": updated.ID,
		"status":   updated.Status,
	})
	return updated, nil
}
