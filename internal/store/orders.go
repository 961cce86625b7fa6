package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/models"
	"github.com/shopspring/decimal"
)

type NewOrder struct {
	CustomerID    int64
	EmployeeID    int64
	Status        models.OrderStatus
	DeliveryType  models.DeliveryType
	PaymentMethod models.PaymentMethod
	Address       string
	Destination   *models.Coordinates
	Subtotal      decimal.Decimal
	Surcharge     decimal.Decimal
	Total         decimal.Decimal
	CartVersion   int
}

type NewOrderItem struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

func generateOrderNumber() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

const orderColumns = `id, order_number, customer_id, employee_id, status, delivery_type, payment_method,
	address, latitude, longitude, subtotal, surcharge, total_amount, cart_version, created_at, updated_at, version`

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var address sql.NullString
	var lat, lng sql.NullFloat64

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.CustomerID,
		&order.EmployeeID,
		&order.Status,
		&order.DeliveryType,
		&order.PaymentMethod,
		&address,
		&lat,
		&lng,
		&order.Subtotal,
		&order.Surcharge,
		&order.TotalAmount,
		&order.CartVersion,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}

	order.Address = address.String
	if lat.Valid && lng.Valid {
		order.Destination = &models.Coordinates{Lat: lat.Float64, Lng: lng.Float64}
	}
	return order, nil
}

func InsertOrder(ctx context.Context, tx *sql.Tx, o NewOrder) (*models.Order, error) {
	var address sql.NullString
	if o.Address != "" {
		address = sql.NullString{String: o.Address, Valid: true}
	}
	var lat, lng sql.NullFloat64
	if o.Destination != nil {
		lat = sql.NullFloat64{Float64: o.Destination.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: o.Destination.Lng, Valid: true}
	}

	query := `
		INSERT INTO orders (order_number, customer_id, employee_id, status, delivery_type, payment_method,
		                    address, latitude, longitude, subtotal, surcharge, total_amount, cart_version,
		                    created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW(), 1)
		RETURNING ` + orderColumns

	order, err := scanOrder(tx.QueryRowContext(ctx, query,
		generateOrderNumber(), o.CustomerID, o.EmployeeID, o.Status, o.DeliveryType, o.PaymentMethod,
		address, lat, lng, o.Subtotal, o.Surcharge, o.Total, o.CartVersion))
	if err != nil {
		return nil, database.Persistence("create order", err)
	}

	return order, nil
}

func InsertOrderItem(ctx context.Context, tx *sql.Tx, orderID int64, item NewOrderItem) (*models.OrderItem, error) {
	subtotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	created := &models.OrderItem{}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING id, order_id, product_id, quantity, unit_price, subtotal, created_at`,
		orderID, item.ProductID, item.Quantity, item.UnitPrice, subtotal).Scan(
		&created.ID,
		&created.OrderID,
		&created.ProductID,
		&created.Quantity,
		&created.UnitPrice,
		&created.Subtotal,
		&created.CreatedAt,
	)
	if err != nil {
		return nil, database.Persistence("create order item", err)
	}

	return created, nil
}

func GetOrder(ctx context.Context, db DBTX, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, database.Persistence("get order", err)
	}

	return order, nil
}

// GetOrderForUpdate locks the order row for the rest of tx.
func GetOrderForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	order, err := scanOrder(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, database.Persistence("lock order", err)
	}

	return order, nil
}

// GetOrderDetails loads the order with its lines and its current delivery task.
func GetOrderDetails(ctx context.Context, db DBTX, id int64) (*models.Order, error) {
	order, err := GetOrder(ctx, db, id)
	if err != nil {
		return nil, err
	}

	items, err := ListOrderItems(ctx, db, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	task, err := LatestTaskForOrder(ctx, db, id)
	if err != nil && !errors.Is(err, database.ErrTaskNotFound) {
		return nil, err
	}
	order.Task = task

	return order, nil
}

func ListOrderItems(ctx context.Context, db DBTX, orderID int64) ([]models.OrderItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, database.Persistence("get order items", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, database.Persistence("scan order item", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Persistence("rows error", err)
	}

	return items, nil
}

func SetOrderStatus(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2`,
		status, id)
	if err != nil {
		return database.Persistence("update order status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return database.Persistence("get rows affected", err)
	}

	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}

	return nil
}

func ListCustomerOrdersCursor(ctx context.Context, db DBTX, customerID int64, cursor string, limit int) (*CursorPage[models.Order], error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	orders, err := queryOrders(ctx, db, query, customerID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, err
	}

	return pageOf(orders, limit, func(o models.Order) Cursor {
		return Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}

// ListOrdersByStatus feeds the staff console. An empty status lists everything.
func ListOrdersByStatus(ctx context.Context, db DBTX, status models.OrderStatus, page, pageSize int) (*OffsetPage[models.Order], error) {
	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE $1 = '' OR status = $1`,
		status).Scan(&total)
	if err != nil {
		return nil, database.Persistence("count orders", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	orders, err := queryOrders(ctx, db, query, status, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}

	return &OffsetPage[models.Order]{
		Items:      orders,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

func queryOrders(ctx context.Context, db DBTX, query string, args ...any) ([]models.Order, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.Persistence("list orders", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, database.Persistence("scan order", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, database.Persistence("rows error", err)
	}

	return orders, nil
}

// ReleaseOrderStock returns every line of an order to the ledger, in product
// id order to match the reservation lock order.
func ReleaseOrderStock(ctx context.Context, tx *sql.Tx, orderID int64) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT product_id, SUM(quantity)
		 FROM order_items
		 WHERE order_id = $1
		 GROUP BY product_id
		 ORDER BY product_id`,
		orderID)
	if err != nil {
		return database.Persistence("list order stock", err)
	}

	type line struct {
		productID int64
		quantity  int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.productID, &l.quantity); err != nil {
			rows.Close()
			return database.Persistence("scan order stock", err)
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return database.Persistence("rows error", err)
	}

	for _, l := range lines {
		if err := ReleaseStock(ctx, tx, l.productID, l.quantity); err != nil {
			return fmt.Errorf("release product %d: %w", l.productID, err)
		}
	}

	return nil
}

// ReserveOrderStock takes an existing order's lines from the ledger again,
// used when a cancelled home order is reopened for delivery.
func ReserveOrderStock(ctx context.Context, tx *sql.Tx, orderID int64) error {
	items, err := ListOrderItems(ctx, tx, orderID)
	if err != nil {
		return err
	}

	quantities := map[int64]int{}
	var productIDs []int64
	for _, item := range items {
		if _, seen := quantities[item.ProductID]; !seen {
			productIDs = append(productIDs, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}
	slices.Sort(productIDs)

	for _, id := range productIDs {
		if err := ReserveStock(ctx, tx, id, quantities[id]); err != nil {
			return err
		}
	}

	return nil
}
