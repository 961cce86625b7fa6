package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, sku, name, category, price, discount_price, stock_quantity, created_at, updated_at, version`

func scanProduct(row rowScanner) (*models.Product, error) {
	product := &models.Product{}
	var discount decimal.NullDecimal

	err := row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Category,
		&product.Price,
		&discount,
		&product.StockQuantity,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}

	if discount.Valid {
		product.DiscountPrice = &discount.Decimal
	}
	return product, nil
}

func CreateProduct(ctx context.Context, db DBTX, sku, name, category string, price decimal.Decimal, stock int) (*models.Product, error) {
	query := `
		INSERT INTO products (sku, name, category, price, stock_quantity, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query, sku, name, category, price, stock))
	if err != nil {
		if database.IsUniqueViolation(err, "") {
			return nil, fmt.Errorf("product %s: %w", sku, database.ErrAlreadyExists)
		}
		return nil, database.Persistence("create product", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db DBTX, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, database.Persistence("get product", err)
	}

	return product, nil
}

// SetDiscountPrice sets or, with nil, clears the discounted price.
func SetDiscountPrice(ctx context.Context, db DBTX, id int64, discount *decimal.Decimal) (*models.Product, error) {
	var value decimal.NullDecimal
	if discount != nil {
		value = decimal.NullDecimal{Decimal: *discount, Valid: true}
	}

	query := `
		UPDATE products
		SET discount_price = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowContext(ctx, query, value, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, database.Persistence("set discount price", err)
	}

	return product, nil
}

// ReserveStock atomically takes quantity units of a product. The conditional
// update holds the row lock for the rest of tx, so concurrent reservations of
// the same product serialize while other products proceed in parallel.
func ReserveStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	if quantity < 1 {
		return database.ErrInvalidQuantity
	}

	var remaining int
	err := tx.QueryRowContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1
		 RETURNING stock_quantity`,
		quantity, productID).Scan(&remaining)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return database.Persistence("reserve stock", err)
	}

	var available int
	err = tx.QueryRowContext(ctx,
		`SELECT stock_quantity FROM products WHERE id = $1`,
		productID).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrProductNotFound
		}
		return database.Persistence("read stock", err)
	}

	return &database.InsufficientStockError{
		ProductID: productID,
		Requested: quantity,
		Available: available,
	}
}

// ReleaseStock returns previously reserved units. Only cancellation calls it.
func ReleaseStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	if quantity < 1 {
		return database.ErrInvalidQuantity
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity + $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return database.Persistence("release stock", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return database.Persistence("get rows affected", err)
	}

	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}

func ListProducts(ctx context.Context, db DBTX, page, pageSize int) (*OffsetPage[models.Product], error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, database.Persistence("count products", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, database.Persistence("list products", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, database.Persistence("scan product", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Persistence("rows error", err)
	}

	return &OffsetPage[models.Product]{
		Items:      products,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}
