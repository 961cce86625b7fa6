// Package delivery owns the delivery task lifecycle: assignment, courier
// transitions, staff cancellation and route estimates for a task.
package delivery

import (
	"context"
	"database/sql"
	"time"

	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/logger"
	"github.com/safar/go-order-delivery/internal/models"
	"github.com/safar/go-order-delivery/internal/notify"
	"github.com/safar/go-order-delivery/internal/store"
)

// RouteEstimator never fails; degraded results are flagged by their source.
type RouteEstimator interface {
	Estimate(ctx context.Context, origin *models.Coordinates, dest models.Coordinates) models.RouteEstimate
}

type Manager struct {
	db         *sql.DB
	dispatcher *notify.Dispatcher
	estimator  RouteEstimator
	txOpts     database.TxOptions
	log        *logger.Logger
	now        func() time.Time
}

func NewManager(db *sql.DB, dispatcher *notify.Dispatcher, estimator RouteEstimator, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		db:         db,
		dispatcher: dispatcher,
		estimator:  estimator,
		txOpts:     database.DefaultTxOptions(),
		log:        log,
		now:        time.Now,
	}
}

// Assignment is a task together with the notification recorded for its
// courier. Push the notification only after the enclosing tx commits.
type Assignment struct {
	Task         *models.DeliveryTask
	Notification *models.Notification
}

// CreateTask assigns a pending task for order inside tx. A zero courierID
// picks the least loaded active courier.
func (m *Manager) CreateTask(ctx context.Context, tx *sql.Tx, order *models.Order, courierID int64) (*Assignment, error) {
	if order.DeliveryType != models.DeliveryHome {
		return nil, database.ErrInvalidDeliveryType
	}

	if courierID == 0 {
		courier, err := store.PickCourier(ctx, tx)
		if err != nil {
			return nil, err
		}
		courierID = courier.ID
	} else if _, err := store.GetCourier(ctx, tx, courierID); err != nil {
		return nil, err
	}

	task, err := store.InsertTask(ctx, tx, order.ID, courierID)
	if err != nil {
		return nil, err
	}

	n, err := m.dispatcher.NotifyTx(ctx, tx, task, notify.AssignmentMessage(order))
	if err != nil {
		return nil, err
	}

	return &Assignment{Task: task, Notification: n}, nil
}

// Assign creates a task for a home order that has none. A cancelled order is
// reopened: its lines are reserved again and it returns to pending.
func (m *Manager) Assign(ctx context.Context, orderID, courierID int64) (*models.DeliveryTask, error) {
	var assignment *Assignment

	err := database.WithRetry(ctx, m.db, m.txOpts, func(tx *sql.Tx) error {
		order, err := store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.DeliveryType != models.DeliveryHome {
			return database.ErrInvalidDeliveryType
		}

		switch order.Status {
		case models.OrderStatusPending:
		case models.OrderStatusCancelled:
			if err := store.ReserveOrderStock(ctx, tx, order.ID); err != nil {
				return err
			}
			if err := store.SetOrderStatus(ctx, tx, order.ID, models.OrderStatusPending); err != nil {
				return err
			}
		default:
			return database.ErrIllegalTransition
		}

		assignment, err = m.CreateTask(ctx, tx, order, courierID)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("delivery_assigned", map[string]any{
		"order_id":   orderID,
		"task_id":    assignment.Task.ID,
		"courier_id": assignment.Task.CourierID,
	})
	m.dispatcher.Push(ctx, *assignment.Notification)

	return assignment.Task, nil
}

// Reassign hands a pending task to another active courier and notifies them.
func (m *Manager) Reassign(ctx context.Context, taskID, newCourierID int64) (*models.DeliveryTask, error) {
	var (
		task *models.DeliveryTask
		n    *models.Notification
	)

	err := database.WithRetry(ctx, m.db, m.txOpts, func(tx *sql.Tx) error {
		current, err := store.GetTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if current.State != models.TaskPending {
			return database.ErrIllegalTransition
		}

		if _, err := store.GetCourier(ctx, tx, newCourierID); err != nil {
			return err
		}

		if current.CourierID == newCourierID {
			task = current
			return nil
		}

		order, err := store.GetOrder(ctx, tx, current.OrderID)
		if err != nil {
			return err
		}

		task, err = store.UpdateTaskCourier(ctx, tx, current, newCourierID)
		if err != nil {
			return err
		}

		n, err = m.dispatcher.NotifyTx(ctx, tx, task, notify.AssignmentMessage(order))
		return err
	})
	if err != nil {
		return nil, err
	}

	if n != nil {
		m.log.Info("delivery_reassigned", map[string]any{
			"task_id":    task.ID,
			"courier_id": task.CourierID,
		})
		m.dispatcher.Push(ctx, *n)
	}

	return task, nil
}

// Transition is the courier's move of their own task to target.
func (m *Manager) Transition(ctx context.Context, taskID, courierID int64, target models.TaskState) (*models.DeliveryTask, error) {
	if !target.Valid() {
		return nil, database.ErrIllegalTransition
	}

	return m.apply(ctx, taskID, target, func(task *models.DeliveryTask) error {
		if task.CourierID != courierID {
			return database.ErrNotAssignedCourier
		}
		return nil
	})
}

// Cancel is the staff cancellation of a pending task.
func (m *Manager) Cancel(ctx context.Context, taskID, staffID int64) (*models.DeliveryTask, error) {
	if _, err := store.GetEmployee(ctx, m.db, staffID); err != nil {
		return nil, err
	}

	return m.apply(ctx, taskID, models.TaskCancelled, nil)
}

// CancelForOrder cancels a pending task on behalf of the customer who placed
// orderID. The caller has already checked that the customer owns the order.
func (m *Manager) CancelForOrder(ctx context.Context, taskID, orderID int64) (*models.DeliveryTask, error) {
	return m.apply(ctx, taskID, models.TaskCancelled, func(task *models.DeliveryTask) error {
		if task.OrderID != orderID {
			return database.ErrNotOwner
		}
		return nil
	})
}

// apply runs one transition under the task row lock: authorize, advance,
// mirror the order status and, on cancellation, release the order's stock.
func (m *Manager) apply(ctx context.Context, taskID int64, target models.TaskState, authorize func(*models.DeliveryTask) error) (*models.DeliveryTask, error) {
	var (
		updated *models.DeliveryTask
		from    models.TaskState
	)

	err := database.WithRetry(ctx, m.db, m.txOpts, func(tx *sql.Tx) error {
		task, err := store.GetTaskForUpdate(ctx, tx, taskID)
		if err != nil {
			return err
		}
		from = task.State

		if authorize != nil {
			if err := authorize(task); err != nil {
				return err
			}
		}

		if err := Advance(task, target, m.now()); err != nil {
			return err
		}

		updated, err = store.UpdateTaskState(ctx, tx, task)
		if err != nil {
			return err
		}

		if err := store.SetOrderStatus(ctx, tx, task.OrderID, OrderStatusFor(target)); err != nil {
			return err
		}

		if target == models.TaskCancelled {
			return store.ReleaseOrderStock(ctx, tx, task.OrderID)
		}
		return nil
	})
	if err != nil {
		if !database.IsDomainError(err) {
			m.log.Error("delivery_transition_failed", err, map[string]any{
				"task_id": taskID,
				"target":  target,
			})
		}
		return nil, err
	}

	m.log.Info("delivery_transitioned", map[string]any{
		"task_id":    updated.ID,
		"order_id":   updated.OrderID,
		"courier_id": updated.CourierID,
		"from":       from,
		"to":         updated.State,
	})

	return updated, nil
}

func (m *Manager) GetTask(ctx context.Context, taskID int64) (*models.DeliveryTask, error) {
	return store.GetTask(ctx, m.db, taskID)
}

func (m *Manager) ListCourierTasks(ctx context.Context, courierID int64, state *models.TaskState) ([]models.DeliveryTask, error) {
	return store.ListCourierTasks(ctx, m.db, courierID, state)
}

func (m *Manager) History(ctx context.Context, filter store.TaskHistoryFilter) ([]models.DeliveryTask, error) {
	return store.ListTaskHistory(ctx, m.db, filter)
}

// EstimateForTask routes the assigned courier from origin to the order's
// destination. It holds no transaction or lock while the provider is called.
func (m *Manager) EstimateForTask(ctx context.Context, taskID, courierID int64, origin *models.Coordinates) (models.RouteEstimate, error) {
	task, err := store.GetTask(ctx, m.db, taskID)
	if err != nil {
		return models.RouteEstimate{}, err
	}
	if task.CourierID != courierID {
		return models.RouteEstimate{}, database.ErrNotAssignedCourier
	}

	order, err := store.GetOrder(ctx, m.db, task.OrderID)
	if err != nil {
		return models.RouteEstimate{}, err
	}
	if order.Destination == nil {
		return models.RouteEstimate{Source: models.RouteSourceUnavailable}, nil
	}

	estimate := m.estimator.Estimate(ctx, origin, *order.Destination)
	if estimate.Approximate() {
		m.log.Debug("route_estimate_degraded", map[string]any{
			"task_id": taskID,
			"source":  estimate.Source,
		})
	}

	return estimate, nil
}
