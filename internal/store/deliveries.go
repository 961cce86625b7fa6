package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/models"
)

const taskColumns = `id, order_id, courier_id, state, created_at, updated_at, picked_up_at, completed_at, cancelled_at, version`

const activeTaskIndex = "uq_delivery_tasks_active_order"

func scanTask(row rowScanner) (*models.DeliveryTask, error) {
	task := &models.DeliveryTask{}
	var pickedUp, completed, cancelled sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.OrderID,
		&task.CourierID,
		&task.State,
		&task.CreatedAt,
		&task.UpdatedAt,
		&pickedUp,
		&completed,
		&cancelled,
		&task.Version,
	)
	if err != nil {
		return nil, err
	}

	task.PickedUpAt = nullTime(pickedUp)
	task.CompletedAt = nullTime(completed)
	task.CancelledAt = nullTime(cancelled)
	return task, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

// InsertTask creates a pending task. A second active task for the same order
// violates the partial unique index and is reported as ErrIllegalTransition.
func InsertTask(ctx context.Context, tx *sql.Tx, orderID, courierID int64) (*models.DeliveryTask, error) {
	query := `
		INSERT INTO delivery_tasks (order_id, courier_id, state, created_at, updated_at, version)
		VALUES ($1, $2, $3, NOW(), NOW(), 1)
		RETURNING ` + taskColumns

	task, err := scanTask(tx.QueryRowContext(ctx, query, orderID, courierID, models.TaskPending))
	if err != nil {
		if database.IsUniqueViolation(err, activeTaskIndex) {
			return nil, database.ErrIllegalTransition
		}
		return nil, database.Persistence("create delivery task", err)
	}

	return task, nil
}

func GetTask(ctx context.Context, db DBTX, id int64) (*models.DeliveryTask, error) {
	query := `SELECT ` + taskColumns + ` FROM delivery_tasks WHERE id = $1`

	task, err := scanTask(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrTaskNotFound
		}
		return nil, database.Persistence("get delivery task", err)
	}

	return task, nil
}

// GetTaskForUpdate locks the task row; every state change goes through it.
func GetTaskForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.DeliveryTask, error) {
	query := `SELECT ` + taskColumns + ` FROM delivery_tasks WHERE id = $1 FOR UPDATE`

	task, err := scanTask(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrTaskNotFound
		}
		return nil, database.Persistence("lock delivery task", err)
	}

	return task, nil
}

// LatestTaskForOrder returns the active task, or the most recent cancelled one.
func LatestTaskForOrder(ctx context.Context, db DBTX, orderID int64) (*models.DeliveryTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM delivery_tasks
		WHERE order_id = $1
		ORDER BY (state <> $2) DESC, created_at DESC, id DESC
		LIMIT 1`

	task, err := scanTask(db.QueryRowContext(ctx, query, orderID, models.TaskCancelled))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrTaskNotFound
		}
		return nil, database.Persistence("get order task", err)
	}

	return task, nil
}

// UpdateTaskState persists the state and timestamps carried by task. The
// version guard rejects writes based on a stale read.
func UpdateTaskState(ctx context.Context, tx *sql.Tx, task *models.DeliveryTask) (*models.DeliveryTask, error) {
	query := `
		UPDATE delivery_tasks
		SET state = $1,
		    picked_up_at = $2,
		    completed_at = $3,
		    cancelled_at = $4,
		    updated_at = NOW(),
		    version = version + 1
		WHERE id = $5 AND version = $6
		RETURNING ` + taskColumns

	updated, err := scanTask(tx.QueryRowContext(ctx, query,
		task.State, task.PickedUpAt, task.CompletedAt, task.CancelledAt, task.ID, task.Version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOptimisticLockFailed
		}
		return nil, database.Persistence("update delivery task", err)
	}

	return updated, nil
}

func UpdateTaskCourier(ctx context.Context, tx *sql.Tx, task *models.DeliveryTask, courierID int64) (*models.DeliveryTask, error) {
	query := `
		UPDATE delivery_tasks
		SET courier_id = $1, updated_at = NOW(), version = version + 1
		WHERE id = $2 AND version = $3
		RETURNING ` + taskColumns

	updated, err := scanTask(tx.QueryRowContext(ctx, query, courierID, task.ID, task.Version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOptimisticLockFailed
		}
		return nil, database.Persistence("reassign delivery task", err)
	}

	return updated, nil
}

// ListCourierTasks lists a courier's tasks, newest first. A nil state lists all.
func ListCourierTasks(ctx context.Context, db DBTX, courierID int64, state *models.TaskState) ([]models.DeliveryTask, error) {
	var filter sql.NullString
	if state != nil {
		filter = sql.NullString{String: string(*state), Valid: true}
	}

	query := `
		SELECT ` + taskColumns + `
		FROM delivery_tasks
		WHERE courier_id = $1
		  AND ($2::text IS NULL OR state = $2)
		ORDER BY created_at DESC, id DESC`

	return queryTasks(ctx, db, query, courierID, filter)
}

type TaskHistoryFilter struct {
	CourierID int64
	From      *time.Time
	To        *time.Time
	Limit     int
}

func ListTaskHistory(ctx context.Context, db DBTX, f TaskHistoryFilter) ([]models.DeliveryTask, error) {
	var courier sql.NullInt64
	if f.CourierID != 0 {
		courier = sql.NullInt64{Int64: f.CourierID, Valid: true}
	}
	limit := PageLimit(f.Limit, MaxPageSize)

	query := `
		SELECT ` + taskColumns + `
		FROM delivery_tasks
		WHERE ($1::bigint IS NULL OR courier_id = $1)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	return queryTasks(ctx, db, query, courier, f.From, f.To, limit)
}

func queryTasks(ctx context.Context, db DBTX, query string, args ...any) ([]models.DeliveryTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.Persistence("list delivery tasks", err)
	}
	defer rows.Close()

	tasks := []models.DeliveryTask{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, database.Persistence("scan delivery task", err)
		}
		tasks = append(tasks, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Persistence("rows error", err)
	}

	return tasks, nil
}
