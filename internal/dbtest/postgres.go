// Package dbtest starts a throwaway PostgreSQL container with the schema
// applied, for integration tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/models"
	"github.com/safar/go-order-delivery/internal/store"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Setup returns a migrated database that is torn down with t. It skips the
// test under -short.
func Setup(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
	})
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if _, err := database.Migrate(ctx, db, database.MigrateUp); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

// Fixture holds the people every order flow needs.
type Fixture struct {
	Customer *models.Customer
	Seller   *models.Employee
	Couriers []*models.Employee
}

// Seed creates one customer, one seller and the given number of couriers.
func Seed(t *testing.T, db *sql.DB, couriers int) Fixture {
	t.Helper()
	ctx := context.Background()

	customer, err := store.CreateCustomer(ctx, db, "customer@example.com", "Ana Rojas", "Av. Heroinas 123", "70000000")
	if err != nil {
		t.Fatalf("Create customer: %v", err)
	}

	seller, err := store.CreateEmployee(ctx, db, "Seller", models.RoleSeller, "")
	if err != nil {
		t.Fatalf("Create seller: %v", err)
	}

	f := Fixture{Customer: customer, Seller: seller}
	for i := 0; i < couriers; i++ {
		courier, err := store.CreateEmployee(ctx, db, fmt.Sprintf("Courier %d", i+1), models.RoleCourier, "")
		if err != nil {
			t.Fatalf("Create courier %d: %v", i+1, err)
		}
		f.Couriers = append(f.Couriers, courier)
	}
	return f
}

func Product(t *testing.T, db *sql.DB, sku string, price int64, stock int) *models.Product {
	t.Helper()

	product, err := store.CreateProduct(context.Background(), db, sku, "Product "+sku, "Test", decimal.NewFromInt(price), stock)
	if err != nil {
		t.Fatalf("Create product %s: %v", sku, err)
	}
	return product
}

func Stock(t *testing.T, db *sql.DB, productID int64) int {
	t.Helper()

	product, err := store.GetProduct(context.Background(), db, productID)
	if err != nil {
		t.Fatalf("Get product %d: %v", productID, err)
	}
	return product.StockQuantity
}
