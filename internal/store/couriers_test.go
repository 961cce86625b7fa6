package store_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/dbtest"
	"github.com/safar/go-order-delivery/internal/models"
	"github.com/safar/go-order-delivery/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertHomeOrder(t *testing.T, db *sql.DB, f dbtest.Fixture) *models.Order {
	t.Helper()
	ctx := context.Background()

	var order *models.Order
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = store.InsertOrder(ctx, tx, store.NewOrder{
			CustomerID:    f.Customer.ID,
			EmployeeID:    f.Seller.ID,
			Status:        models.OrderStatusPending,
			DeliveryType:  models.DeliveryHome,
			PaymentMethod: models.PaymentCash,
			Address:       "Calle Sucre 10",
			Subtotal:      decimal.NewFromInt(10),
			Surcharge:     decimal.NewFromInt(2),
			Total:         decimal.NewFromInt(12),
		})
		return err
	})
	require.NoError(t, err)
	return order
}

func TestPickCourierBalancesLoad(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 2)

	var picked []int64
	for i := 0; i < 4; i++ {
		order := insertHomeOrder(t, db, f)
		err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
			courier, err := store.PickCourier(ctx, tx)
			if err != nil {
				return err
			}
			picked = append(picked, courier.ID)
			_, err = store.InsertTask(ctx, tx, order.ID, courier.ID)
			return err
		})
		require.NoError(t, err)
	}

	first, second := f.Couriers[0].ID, f.Couriers[1].ID
	assert.Equal(t, []int64{first, second, first, second}, picked)
}

func TestConcurrentPicksSeeEachOthersLoad(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 2)

	const workers = 4
	orders := make([]*models.Order, workers)
	for i := range orders {
		orders[i] = insertHomeOrder(t, db, f)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = map[int64]int{}
		start  = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(order *models.Order) {
			defer wg.Done()
			<-start

			err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
				courier, err := store.PickCourier(ctx, tx)
				if err != nil {
					return err
				}
				if _, err := store.InsertTask(ctx, tx, order.ID, courier.ID); err != nil {
					return err
				}
				// Hold the transaction open so the other pickers queue behind it.
				time.Sleep(50 * time.Millisecond)

				mu.Lock()
				counts[courier.ID]++
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("pick for order %d: %v", order.ID, err)
			}
		}(orders[i])
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 2, counts[f.Couriers[0].ID])
	assert.Equal(t, 2, counts[f.Couriers[1].ID])
}

func TestPickCourierSkipsInactive(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 1)

	require.NoError(t, store.SetEmployeeActive(ctx, db, f.Couriers[0].ID, false))

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		_, err := store.PickCourier(ctx, tx)
		return err
	})
	assert.ErrorIs(t, err, database.ErrNoCourierAvailable)

	_, err = store.GetCourier(ctx, db, f.Couriers[0].ID)
	assert.ErrorIs(t, err, database.ErrEmployeeNotFound)
	_, err = store.GetCourier(ctx, db, f.Seller.ID)
	assert.ErrorIs(t, err, database.ErrEmployeeNotFound, "a seller is not a courier")
}

func TestOneActiveTaskPerOrder(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 1)
	order := insertHomeOrder(t, db, f)
	courierID := f.Couriers[0].ID

	var task *models.DeliveryTask
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		task, err = store.InsertTask(ctx, tx, order.ID, courierID)
		return err
	})
	require.NoError(t, err)

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		_, err := store.InsertTask(ctx, tx, order.ID, courierID)
		return err
	})
	assert.ErrorIs(t, err, database.ErrIllegalTransition)

	// A cancelled task frees the slot.
	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		locked, err := store.GetTaskForUpdate(ctx, tx, task.ID)
		if err != nil {
			return err
		}
		locked.State = models.TaskCancelled
		if _, err := store.UpdateTaskState(ctx, tx, locked); err != nil {
			return err
		}
		_, err = store.InsertTask(ctx, tx, order.ID, courierID)
		return err
	})
	require.NoError(t, err)

	latest, err := store.LatestTaskForOrder(ctx, db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, latest.State)
	assert.NotEqual(t, task.ID, latest.ID)
}

func TestUpdateTaskStateVersionGuard(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 1)
	order := insertHomeOrder(t, db, f)

	var task *models.DeliveryTask
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		task, err = store.InsertTask(ctx, tx, order.ID, f.Couriers[0].ID)
		return err
	})
	require.NoError(t, err)

	stale := *task
	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		_, err := store.UpdateTaskCourier(ctx, tx, task, f.Couriers[0].ID)
		return err
	})
	require.NoError(t, err)

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		stale.State = models.TaskCancelled
		_, err := store.UpdateTaskState(ctx, tx, &stale)
		return err
	})
	if !errors.Is(err, database.ErrOptimisticLockFailed) {
		t.Errorf("Expected optimistic lock failure, got: %v", err)
	}
}
