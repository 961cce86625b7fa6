package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/models"
)

func CreateCustomer(ctx context.Context, db DBTX, email, name, address, phone string) (*models.Customer, error) {
	customer := &models.Customer{}

	query := `
		INSERT INTO customers (email, name, address, phone, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
		RETURNING id, email, name, address, phone, created_at, updated_at, version`

	err := db.QueryRowContext(ctx, query, email, name, address, phone).Scan(
		&customer.ID,
		&customer.Email,
		&customer.Name,
		&customer.Address,
		&customer.Phone,
		&customer.CreatedAt,
		&customer.UpdatedAt,
		&customer.Version,
	)
	if err != nil {
		if database.IsUniqueViolation(err, "") {
			return nil, fmt.Errorf("customer %s: %w", email, database.ErrAlreadyExists)
		}
		return nil, database.Persistence("create customer", err)
	}

	return customer, nil
}

func GetCustomer(ctx context.Context, db DBTX, id int64) (*models.Customer, error) {
	customer := &models.Customer{}

	query := `
		SELECT id, email, name, address, phone, created_at, updated_at, version
		FROM customers
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&customer.ID,
		&customer.Email,
		&customer.Name,
		&customer.Address,
		&customer.Phone,
		&customer.CreatedAt,
		&customer.UpdatedAt,
		&customer.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCustomerNotFound
		}
		return nil, database.Persistence("get customer", err)
	}

	return customer, nil
}

func CustomerExists(ctx context.Context, db DBTX, id int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1)",
		id).Scan(&exists)
	if err != nil {
		return false, database.Persistence("check customer exists", err)
	}
	return exists, nil
}
