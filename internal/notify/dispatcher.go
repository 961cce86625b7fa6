package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/go-order-delivery/internal/logger"
	"github.com/safar/go-order-delivery/internal/models"
	"github.com/safar/go-order-delivery/internal/store"
)

const pushTimeout = 2 * time.Second

// Dispatcher persists courier notifications and pushes them live. The
// persisted row is authoritative; the live push is best effort.
type Dispatcher struct {
	db  *sql.DB
	pub Publisher
	log *logger.Logger
}

func NewDispatcher(db *sql.DB, pub Publisher, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{db: db, pub: pub, log: log}
}

func AssignmentMessage(order *models.Order) string {
	return fmt.Sprintf("New delivery assigned: order %s (#%d)", order.OrderNumber, order.ID)
}

// Notify persists a notification for courierID and pushes it.
func (d *Dispatcher) Notify(ctx context.Context, courierID, orderID int64, message string) (*models.Notification, error) {
	if _, err := store.GetCourier(ctx, d.db, courierID); err != nil {
		return nil, err
	}

	n, err := store.InsertNotification(ctx, d.db, courierID, orderID, nil, message)
	if err != nil {
		return nil, err
	}

	d.Push(ctx, *n)
	return n, nil
}

// NotifyTx persists a task notification inside the caller's transaction. The
// caller pushes it with Push once the transaction has committed.
func (d *Dispatcher) NotifyTx(ctx context.Context, tx *sql.Tx, task *models.DeliveryTask, message string) (*models.Notification, error) {
	taskID := task.ID
	return store.InsertNotification(ctx, tx, task.CourierID, task.OrderID, &taskID, message)
}

// Push never fails the caller; a failed push is logged and the courier picks
// the notification up from the inbox.
func (d *Dispatcher) Push(ctx context.Context, n models.Notification) {
	if d.pub == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()

	if err := d.pub.Publish(ctx, n); err != nil {
		d.log.Warn("live_push_failed", err, map[string]any{
			"courier_id":      n.CourierID,
			"notification_id": n.ID,
		})
		return
	}

	d.log.Debug("live_push_sent", map[string]any{
		"courier_id":      n.CourierID,
		"notification_id": n.ID,
	})
}

func (d *Dispatcher) MarkRead(ctx context.Context, notificationID, courierID int64) error {
	return store.MarkNotificationRead(ctx, d.db, notificationID, courierID)
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, courierID int64) (int64, error) {
	return store.MarkAllNotificationsRead(ctx, d.db, courierID)
}

// UnreadCount is derived from the rows, never stored.
func (d *Dispatcher) UnreadCount(ctx context.Context, courierID int64) (int, error) {
	return store.CountUnreadNotifications(ctx, d.db, courierID)
}

func (d *Dispatcher) Inbox(ctx context.Context, courierID int64, unreadOnly bool, cursor string, limit int) (*store.CursorPage[models.Notification], error) {
	return store.ListNotificationsCursor(ctx, d.db, courierID, unreadOnly, cursor, store.PageLimit(limit, 10))
}
