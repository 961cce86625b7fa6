package checkout_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/safar/go-order-delivery/internal/cart"
	"github.com/safar/go-order-delivery/internal/checkout"
	"github.com/safar/go-order-delivery/internal/config"
	"github.com/safar/go-order-delivery/internal/database"
	"github.com/safar/go-order-delivery/internal/dbtest"
	"github.com/safar/go-order-delivery/internal/delivery"
	"github.com/safar/go-order-delivery/internal/models"
	"github.com/safar/go-order-delivery/internal/notify"
	"github.com/safar/go-order-delivery/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var surcharge = decimal.RequireFromString("2.00")

func newService(db *sql.DB) (*checkout.Service, *notify.Hub) {
	hub := notify.NewHub(nil)
	dispatcher := notify.NewDispatcher(db, hub, nil)
	manager := delivery.NewManager(db, dispatcher, nil, nil)
	return checkout.NewService(db, manager, dispatcher, config.CheckoutConfig{DeliverySurcharge: surcharge}, nil), hub
}

func snapshot(t *testing.T, items ...any) cart.Snapshot {
	t.Helper()
	c := cart.New()
	for i := 0; i < len(items); i += 2 {
		require.NoError(t, c.Add(*items[i].(*models.Product), items[i+1].(int)))
	}
	return c.Snapshot()
}

func homeRequest(f dbtest.Fixture, snap cart.Snapshot) checkout.CreateOrderRequest {
	return checkout.CreateOrderRequest{
		CustomerID:    f.Customer.ID,
		Snapshot:      snap,
		DeliveryType:  models.DeliveryHome,
		PaymentMethod: models.PaymentCash,
		Destination: checkout.Destination{
			Address:     "Av. Heroinas 123",
			Coordinates: &models.Coordinates{Lat: -17.39, Lng: -66.15},
		},
	}
}

func TestHomeCheckoutReservesAndAssigns(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 1)
	courier := f.Couriers[0].ID

	x := dbtest.Product(t, db, "X", 10, 2)
	y := dbtest.Product(t, db, "Y", 5, 5)

	svc, hub := newService(db)
	sub := hub.Subscribe(courier)
	defer hub.Unsubscribe(sub)

	order, err := svc.CreateOrder(ctx, homeRequest(f, snapshot(t, x, 2, y, 1)))
	require.NoError(t, err)

	assert.Equal(t, 0, dbtest.Stock(t, db, x.ID))
	assert.Equal(t, 4, dbtest.Stock(t, db, y.ID))

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, f.Seller.ID, order.EmployeeID, "first seller is recorded when none is given")
	assert.True(t, order.Subtotal.Equal(decimal.NewFromInt(25)))
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("27.00")))
	require.Len(t, order.Items, 2)
	require.NotNil(t, order.Task)
	assert.Equal(t, models.TaskPending, order.Task.State)
	assert.Equal(t, courier, order.Task.CourierID)

	unread, err := store.CountUnreadNotifications(ctx, db, courier)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	select {
	case n := <-sub.C:
		assert.Equal(t, order.ID, n.OrderID)
		require.NotNil(t, n.TaskID)
		assert.Equal(t, order.Task.ID, *n.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("courier was not pushed the assignment")
	}

	loaded, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Items, 2)
	require.NotNil(t, loaded.Destination)
	assert.Equal(t, -17.39, loaded.Destination.Lat)
}

func TestConcurrentCheckoutForLastUnit(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 1)
	z := dbtest.Product(t, db, "Z", 10, 1)
	svc, _ := newService(db)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(ctx, homeRequest(f, snapshot(t, z, 1)))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, database.ErrInsufficientStock):
			rejected++
			var stockErr *database.InsufficientStockError
			require.ErrorAs(t, err, &stockErr)
			assert.Equal(t, z.ID, stockErr.ProductID)
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 0, dbtest.Stock(t, db, z.ID))
}

func TestCheckoutIsAllOrNothing(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 1)

	plenty := dbtest.Product(t, db, "PLENTY", 10, 50)
	scarce := dbtest.Product(t, db, "SCARCE", 10, 1)
	svc, _ := newService(db)

	_, err := svc.CreateOrder(ctx, homeRequest(f, snapshot(t, plenty, 5, scarce, 2)))
	require.ErrorIs(t, err, database.ErrInsufficientStock)

	assert.Equal(t, 50, dbtest.Stock(t, db, plenty.ID))
	assert.Equal(t, 1, dbtest.Stock(t, db, scarce.ID))

	var orders, items, tasks int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&orders))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM order_items`).Scan(&items))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM delivery_tasks`).Scan(&tasks))
	assert.Zero(t, orders)
	assert.Zero(t, items)
	assert.Zero(t, tasks)
}

func TestHomeCheckoutWithoutCourierAborts(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 0)
	p := dbtest.Product(t, db, "P", 10, 3)
	svc, _ := newService(db)

	_, err := svc.CreateOrder(ctx, homeRequest(f, snapshot(t, p, 1)))
	require.ErrorIs(t, err, database.ErrNoCourierAvailable)
	assert.Equal(t, 3, dbtest.Stock(t, db, p.ID))
}

func TestCheckoutRejectsUnknownCustomer(t *testing.T) {
	db := dbtest.Setup(t)
	f := dbtest.Seed(t, db, 1)
	p := dbtest.Product(t, db, "P", 10, 3)
	svc, _ := newService(db)

	req := homeRequest(f, snapshot(t, p, 1))
	req.CustomerID = 987654
	_, err := svc.CreateOrder(context.Background(), req)
	require.ErrorIs(t, err, database.ErrCustomerNotFound)
	assert.Equal(t, 3, dbtest.Stock(t, db, p.ID))
}

func TestPickupOrderLifecycle(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 1)
	p := dbtest.Product(t, db, "P", 10, 4)
	svc, _ := newService(db)

	req := checkout.CreateOrderRequest{
		CustomerID:    f.Customer.ID,
		EmployeeID:    f.Seller.ID,
		Snapshot:      snapshot(t, p, 3),
		DeliveryType:  models.DeliveryPickup,
		PaymentMethod: models.PaymentQR,
	}

	order, err := svc.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, order.Task)
	assert.True(t, order.Surcharge.IsZero())
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(30)))

	_, err = svc.UpdatePickupStatus(ctx, order.ID, models.OrderStatusReady)
	assert.ErrorIs(t, err, database.ErrIllegalTransition)

	updated, err := svc.UpdatePickupStatus(ctx, order.ID, models.OrderStatusPreparing)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPreparing, updated.Status)

	updated, err = svc.UpdatePickupStatus(ctx, order.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, updated.Status)
	assert.Equal(t, 4, dbtest.Stock(t, db, p.ID), "cancellation returns the stock")

	_, err = svc.UpdatePickupStatus(ctx, order.ID, models.OrderStatusDelivered)
	assert.ErrorIs(t, err, database.ErrIllegalTransition)
}

func TestListCustomerOrders(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 1)
	p := dbtest.Product(t, db, "P", 1, 100)
	svc, _ := newService(db)

	for i := 0; i < 15; i++ {
		req := homeRequest(f, snapshot(t, p, 1))
		req.DeliveryType = models.DeliveryPickup
		_, err := svc.CreateOrder(ctx, req)
		require.NoError(t, err)
	}

	page1, err := svc.ListCustomerOrders(ctx, f.Customer.ID, "", 10)
	require.NoError(t, err)
	assert.True(t, page1.HasMore)
	assert.NotEmpty(t, page1.NextCursor)

	page2, err := svc.ListCustomerOrders(ctx, f.Customer.ID, page1.NextCursor, 10)
	require.NoError(t, err)
	assert.False(t, page2.HasMore)
	assert.Len(t, page2.Items, 5)

	pending, err := svc.ListOrders(ctx, models.OrderStatusPending, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(15), pending.Total)
}

func TestCustomerCancelsPendingHomeOrder(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 1)
	p := dbtest.Product(t, db, "C", 8, 5)
	svc, _ := newService(db)

	order, err := svc.CreateOrder(ctx, homeRequest(f, snapshot(t, p, 2)))
	require.NoError(t, err)
	assert.Equal(t, 3, dbtest.Stock(t, db, p.ID))

	stranger, err := store.CreateCustomer(ctx, db, "other@example.com", "Luis Vargas", "", "")
	require.NoError(t, err)
	_, err = svc.CancelOrder(ctx, order.ID, stranger.ID)
	assert.ErrorIs(t, err, database.ErrNotOwner)
	assert.Equal(t, 3, dbtest.Stock(t, db, p.ID))

	cancelled, err := svc.CancelOrder(ctx, order.ID, f.Customer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Task)
	assert.Equal(t, models.TaskCancelled, cancelled.Task.State)
	assert.Equal(t, 5, dbtest.Stock(t, db, p.ID), "cancellation returns the stock")

	_, err = svc.CancelOrder(ctx, order.ID, f.Customer.ID)
	assert.ErrorIs(t, err, database.ErrIllegalTransition)
	assert.Equal(t, 5, dbtest.Stock(t, db, p.ID), "stock is released once")

	_, err = svc.CancelOrder(ctx, 987654, f.Customer.ID)
	assert.ErrorIs(t, err, database.ErrOrderNotFound)
}

func TestCustomerCannotCancelAfterPickup(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 1)
	p := dbtest.Product(t, db, "D", 8, 5)
	svc, _ := newService(db)

	order, err := svc.CreateOrder(ctx, homeRequest(f, snapshot(t, p, 1)))
	require.NoError(t, err)

	manager := delivery.NewManager(db, notify.NewDispatcher(db, nil, nil), nil, nil)
	_, err = manager.Transition(ctx, order.Task.ID, order.Task.CourierID, models.TaskPickedUp)
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, order.ID, f.Customer.ID)
	assert.ErrorIs(t, err, database.ErrIllegalTransition)
	assert.Equal(t, 4, dbtest.Stock(t, db, p.ID))

	loaded, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusInTransit, loaded.Status)
}

func TestCustomerCancelsPickupOrderOnlyWhilePending(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 0)
	p := dbtest.Product(t, db, "E", 4, 6)
	svc, _ := newService(db)

	pickup := func() *models.Order {
		order, err := svc.CreateOrder(ctx, checkout.CreateOrderRequest{
			CustomerID:    f.Customer.ID,
			Snapshot:      snapshot(t, p, 2),
			DeliveryType:  models.DeliveryPickup,
			PaymentMethod: models.PaymentCash,
		})
		require.NoError(t, err)
		return order
	}

	first := pickup()
	cancelled, err := svc.CancelOrder(ctx, first.ID, f.Customer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 6, dbtest.Stock(t, db, p.ID))

	second := pickup()
	_, err = svc.UpdatePickupStatus(ctx, second.ID, models.OrderStatusPreparing)
	require.NoError(t, err)
	_, err = svc.CancelOrder(ctx, second.ID, f.Customer.ID)
	assert.ErrorIs(t, err, database.ErrIllegalTransition)
	assert.Equal(t, 4, dbtest.Stock(t, db, p.ID))
}

func TestCheckoutRejectsSubCentPrices(t *testing.T) {
	db := dbtest.Setup(t)
	ctx := context.Background()
	f := dbtest.Seed(t, db, 1)
	a := dbtest.Product(t, db, "HALF-A", 1, 5)
	b := dbtest.Product(t, db, "HALF-B", 1, 5)
	svc, _ := newService(db)

	half := decimal.RequireFromString("0.005")
	req := homeRequest(f, cart.Snapshot{Version: 1, Lines: []cart.Line{
		{ProductID: a.ID, Quantity: 1, UnitPrice: half},
		{ProductID: b.ID, Quantity: 1, UnitPrice: half},
	}})

	_, err := svc.CreateOrder(ctx, req)
	assert.ErrorIs(t, err, database.ErrInvalidPrice)
	assert.Equal(t, 5, dbtest.Stock(t, db, a.ID))
	assert.Equal(t, 5, dbtest.Stock(t, db, b.ID))
}
