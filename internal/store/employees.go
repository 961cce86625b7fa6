package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/models"
)

const employeeColumns = `id, name, role, phone, active, created_at, updated_at, version`

func scanEmployee(row rowScanner) (*models.Employee, error) {
	employee := &models.Employee{}
	err := row.Scan(
		&employee.ID,
		&employee.Name,
		&employee.Role,
		&employee.Phone,
		&employee.Active,
		&employee.CreatedAt,
		&employee.UpdatedAt,
		&employee.Version,
	)
	if err != nil {
		return nil, err
	}
	return employee, nil
}

func CreateEmployee(ctx context.Context, db DBTX, name string, role models.EmployeeRole, phone string) (*models.Employee, error) {
	query := `
		INSERT INTO employees (name, role, phone, active, created_at, updated_at, version)
		VALUES ($1, $2, $3, TRUE, NOW(), NOW(), 1)
		RETURNING ` + employeeColumns

	employee, err := scanEmployee(db.QueryRowContext(ctx, query, name, role, phone))
	if err != nil {
		return nil, database.Persistence("create employee", err)
	}

	return employee, nil
}

func GetEmployee(ctx context.Context, db DBTX, id int64) (*models.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE id = $1`

	employee, err := scanEmployee(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrEmployeeNotFound
		}
		return nil, database.Persistence("get employee", err)
	}

	return employee, nil
}

// GetCourier returns the employee only if it is an active courier.
func GetCourier(ctx context.Context, db DBTX, id int64) (*models.Employee, error) {
	employee, err := GetEmployee(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if employee.Role != models.RoleCourier || !employee.Active {
		return nil, database.ErrEmployeeNotFound
	}
	return employee, nil
}

func SetEmployeeActive(ctx context.Context, db DBTX, id int64, active bool) error {
	result, err := db.ExecContext(ctx,
		`UPDATE employees SET active = $1, version = version + 1, updated_at = NOW() WHERE id = $2`,
		active, id)
	if err != nil {
		return database.Persistence("set employee active", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return database.Persistence("get rows affected", err)
	}
	if rowsAffected == 0 {
		return database.ErrEmployeeNotFound
	}
	return nil
}

// FirstSeller is the employee recorded on self-service checkouts.
func FirstSeller(ctx context.Context, db DBTX) (*models.Employee, error) {
	query := `
		SELECT ` + employeeColumns + `
		FROM employees
		WHERE role = $1 AND active
		ORDER BY id
		LIMIT 1`

	employee, err := scanEmployee(db.QueryRowContext(ctx, query, models.RoleSeller))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrEmployeeNotFound
		}
		return nil, database.Persistence("first seller", err)
	}

	return employee, nil
}

// courierPickLock is the advisory lock key shared by every balanced pick.
const courierPickLock int64 = 0x636f7572696572

// PickCourier selects the active courier with the fewest pending or picked_up
// tasks, lowest id first on ties. Picks are serialized on a transaction-level
// advisory lock: the load count runs only after the previous picker has
// committed its task, so concurrent checkouts see each other's load.
func PickCourier(ctx context.Context, tx *sql.Tx) (*models.Employee, error) {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, courierPickLock); err != nil {
		return nil, database.Persistence("lock courier pick", err)
	}

	query := `
		SELECT ` + employeeColumns + `
		FROM employees e
		WHERE e.role = $1 AND e.active
		ORDER BY (
			SELECT COUNT(*)
			FROM delivery_tasks t
			WHERE t.courier_id = e.id
			  AND t.state IN ($2, $3)
		), e.id
		LIMIT 1
		FOR UPDATE OF e`

	employee, err := scanEmployee(tx.QueryRowContext(ctx, query,
		models.RoleCourier, models.TaskPending, models.TaskPickedUp))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNoCourierAvailable
		}
		return nil, database.Persistence("pick courier", err)
	}

	return employee, nil
}

func ListCouriers(ctx context.Context, db DBTX) ([]models.Employee, error) {
	query := `
		SELECT ` + employeeColumns + `
		FROM employees
		WHERE role = $1 AND active
		ORDER BY name, id`

	rows, err := db.QueryContext(ctx, query, models.RoleCourier)
	if err != nil {
		return nil, database.Persistence("list couriers", err)
	}
	defer rows.Close()

	couriers := []models.Employee{}
	for rows.Next() {
		employee, err := scanEmployee(rows)
		if err != nil {
			return nil, database.Persistence("scan employee", err)
		}
		couriers = append(couriers, *employee)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Persistence("rows error", err)
	}

	return couriers, nil
}
