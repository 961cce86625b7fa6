package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/models"
)

const notificationColumns = `id, courier_id, order_id, task_id, message, read, created_at`

func scanNotification(row rowScanner) (*models.Notification, error) {
	n := &models.Notification{}
	var taskID sql.NullInt64

	err := row.Scan(&n.ID, &n.CourierID, &n.OrderID, &taskID, &n.Message, &n.Read, &n.CreatedAt)
	if err != nil {
		return nil, err
	}

	if taskID.Valid {
		n.TaskID = &taskID.Int64
	}
	return n, nil
}

func InsertNotification(ctx context.Context, db DBTX, courierID, orderID int64, taskID *int64, message string) (*models.Notification, error) {
	query := `
		INSERT INTO notifications (courier_id, order_id, task_id, message, read, created_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW())
		RETURNING ` + notificationColumns

	n, err := scanNotification(db.QueryRowContext(ctx, query, courierID, orderID, taskID, message))
	if err != nil {
		return nil, database.Persistence("create notification", err)
	}

	return n, nil
}

func GetNotification(ctx context.Context, db DBTX, id int64) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotificationNotFound
		}
		return nil, database.Persistence("get notification", err)
	}

	return n, nil
}

// MarkNotificationRead is idempotent: marking an already read notification
// succeeds without changes.
func MarkNotificationRead(ctx context.Context, db DBTX, id, courierID int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND courier_id = $2`,
		id, courierID)
	if err != nil {
		return database.Persistence("mark notification read", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return database.Persistence("get rows affected", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	n, err := GetNotification(ctx, db, id)
	if err != nil {
		return err
	}
	if n.CourierID != courierID {
		return database.ErrNotOwner
	}
	return nil
}

func MarkAllNotificationsRead(ctx context.Context, db DBTX, courierID int64) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE courier_id = $1 AND NOT read`,
		courierID)
	if err != nil {
		return 0, database.Persistence("mark all notifications read", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, database.Persistence("get rows affected", err)
	}
	return rowsAffected, nil
}

func CountUnreadNotifications(ctx context.Context, db DBTX, courierID int64) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE courier_id = $1 AND NOT read`,
		courierID).Scan(&count)
	if err != nil {
		return 0, database.Persistence("count unread notifications", err)
	}
	return count, nil
}

// ListNotificationsCursor pages a courier's inbox newest first.
func ListNotificationsCursor(ctx context.Context, db DBTX, courierID int64, unreadOnly bool, cursor string, limit int) (*CursorPage[models.Notification], error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE courier_id = $1
		  AND (NOT $2 OR NOT read)
		  AND (created_at, id) < ($3, $4)
		ORDER BY created_at DESC, id DESC
		LIMIT $5`

	rows, err := db.QueryContext(ctx, query, courierID, unreadOnly, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, database.Persistence("list notifications", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, database.Persistence("scan notification", err)
		}
		notifications = append(notifications, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Persistence("rows error", err)
	}

	return pageOf(notifications, limit, func(n models.Notification) Cursor {
		return Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	}), nil
}
