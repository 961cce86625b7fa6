package delivery_test

import (
	"context"
	"database/sql"
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

type stubEstimator struct {
	calls  int
	origin *models.Coordinates
	dest   models.Coordinates
}

func (s *stubEstimator) Estimate(_ context.Context, origin *models.Coordinates, dest models.Coordinates) models.RouteEstimate {
	s.calls++
	s.origin, s.dest = origin, dest
	if origin == nil {
		return models.RouteEstimate{Source: models.RouteSourceUnavailable}
	}
	return models.RouteEstimate{Source: models.RouteSourceProvider, DistanceKm: 3.2, DurationMinutes: 9}
}

type env struct {
	db        *sql.DB
	fixture   dbtest.Fixture
	manager   *delivery.Manager
	checkout  *checkout.Service
	hub       *notify.Hub
	estimator *stubEstimator
	product   *models.Product
}

func setup(t *testing.T, couriers int) *env {
	t.Helper()
	db := dbtest.Setup(t)

	hub := notify.NewHub(nil)
	dispatcher := notify.NewDispatcher(db, hub, nil)
	estimator := &stubEstimator{}
	manager := delivery.NewManager(db, dispatcher, estimator, nil)

	return &env{
		db:        db,
		fixture:   dbtest.Seed(t, db, couriers),
		manager:   manager,
		checkout:  checkout.NewService(db, manager, dispatcher, config.CheckoutConfig{DeliverySurcharge: decimal.NewFromInt(2)}, nil),
		hub:       hub,
		estimator: estimator,
		product:   dbtest.Product(t, db, "SKU-1", 10, 20),
	}
}

func (e *env) homeOrder(t *testing.T, quantity int) *models.Order {
	t.Helper()

	c := cart.New()
	require.NoError(t, c.Add(*e.product, quantity))

	order, err := e.checkout.CreateOrder(context.Background(), checkout.CreateOrderRequest{
		CustomerID:    e.fixture.Customer.ID,
		Snapshot:      c.Snapshot(),
		DeliveryType:  models.DeliveryHome,
		PaymentMethod: models.PaymentCreditCard,
		Destination: checkout.Destination{
			Address:     "Calle Jordan 200",
			Coordinates: &models.Coordinates{Lat: -17.3935, Lng: -66.157},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, order.Task)
	return order
}

func orderStatus(t *testing.T, db *sql.DB, id int64) models.OrderStatus {
	t.Helper()
	order, err := store.GetOrder(context.Background(), db, id)
	require.NoError(t, err)
	return order.Status
}

func TestCourierDeliversTask(t *testing.T) {
	e := setup(t, 1)
	ctx := context.Background()
	order := e.homeOrder(t, 1)
	courier := order.Task.CourierID

	task, err := e.manager.Transition(ctx, order.Task.ID, courier, models.TaskPickedUp)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPickedUp, task.State)
	assert.NotNil(t, task.PickedUpAt)
	assert.Equal(t, models.OrderStatusInTransit, orderStatus(t, e.db, order.ID))

	task, err = e.manager.Transition(ctx, order.Task.ID, courier, models.TaskDelivered)
	require.NoError(t, err)
	assert.Equal(t, models.TaskDelivered, task.State)
	assert.NotNil(t, task.CompletedAt)
	assert.Equal(t, models.OrderStatusDelivered, orderStatus(t, e.db, order.ID))

	_, err = e.manager.Transition(ctx, order.Task.ID, courier, models.TaskCancelled)
	assert.ErrorIs(t, err, database.ErrIllegalTransition)

	history, err := e.manager.History(ctx, store.TaskHistoryFilter{CourierID: courier})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.TaskDelivered, history[0].State)
}

func TestTransitionByOtherCourierIsRejected(t *testing.T) {
	e := setup(t, 2)
	ctx := context.Background()
	order := e.homeOrder(t, 1)

	other := e.fixture.Couriers[0].ID
	if other == order.Task.CourierID {
		other = e.fixture.Couriers[1].ID
	}

	_, err := e.manager.Transition(ctx, order.Task.ID, other, models.TaskPickedUp)
	require.ErrorIs(t, err, database.ErrNotAssignedCourier)

	task, err := e.manager.GetTask(ctx, order.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.State)
	assert.Equal(t, order.Task.Version, task.Version)
}

func TestReassignPickedUpTaskIsIllegal(t *testing.T) {
	e := setup(t, 2)
	ctx := context.Background()
	order := e.homeOrder(t, 1)

	_, err := e.manager.Transition(ctx, order.Task.ID, order.Task.CourierID, models.TaskPickedUp)
	require.NoError(t, err)

	other := e.fixture.Couriers[1].ID
	if other == order.Task.CourierID {
		other = e.fixture.Couriers[0].ID
	}

	_, err = e.manager.Reassign(ctx, order.Task.ID, other)
	assert.ErrorIs(t, err, database.ErrIllegalTransition)
}

func TestReassignNotifiesNewCourier(t *testing.T) {
	e := setup(t, 2)
	ctx := context.Background()
	order := e.homeOrder(t, 1)

	other := e.fixture.Couriers[1].ID
	if other == order.Task.CourierID {
		other = e.fixture.Couriers[0].ID
	}
	sub := e.hub.Subscribe(other)
	defer e.hub.Unsubscribe(sub)

	task, err := e.manager.Reassign(ctx, order.Task.ID, other)
	require.NoError(t, err)
	assert.Equal(t, other, task.CourierID)

	select {
	case n := <-sub.C:
		assert.Equal(t, order.ID, n.OrderID)
	case <-time.After(2 * time.Second):
		t.Fatal("new courier was not pushed the reassignment")
	}

	unread, err := store.CountUnreadNotifications(ctx, e.db, other)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	_, err = e.manager.Reassign(ctx, order.Task.ID, e.fixture.Seller.ID)
	assert.ErrorIs(t, err, database.ErrEmployeeNotFound, "only active couriers take tasks")
}

func TestCancelReleasesStockAndAllowsReassignment(t *testing.T) {
	e := setup(t, 1)
	ctx := context.Background()
	order := e.homeOrder(t, 3)
	assert.Equal(t, 17, dbtest.Stock(t, e.db, e.product.ID))

	task, err := e.manager.Cancel(ctx, order.Task.ID, e.fixture.Seller.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, task.State)
	assert.NotNil(t, task.CancelledAt)
	assert.Equal(t, models.OrderStatusCancelled, orderStatus(t, e.db, order.ID))
	assert.Equal(t, 20, dbtest.Stock(t, e.db, e.product.ID))

	_, err = e.manager.Cancel(ctx, order.Task.ID, e.fixture.Seller.ID)
	assert.ErrorIs(t, err, database.ErrIllegalTransition)

	reopened, err := e.manager.Assign(ctx, order.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, reopened.State)
	assert.Equal(t, models.OrderStatusPending, orderStatus(t, e.db, order.ID))
	assert.Equal(t, 17, dbtest.Stock(t, e.db, e.product.ID))

	_, err = e.manager.Assign(ctx, order.ID, 0)
	assert.ErrorIs(t, err, database.ErrIllegalTransition, "an active task already exists")
}

func TestCourierCancelsPendingTask(t *testing.T) {
	e := setup(t, 2)
	ctx := context.Background()
	order := e.homeOrder(t, 4)
	courier := order.Task.CourierID
	assert.Equal(t, 16, dbtest.Stock(t, e.db, e.product.ID))

	other := e.fixture.Couriers[0].ID
	if other == courier {
		other = e.fixture.Couriers[1].ID
	}
	_, err := e.manager.Transition(ctx, order.Task.ID, other, models.TaskCancelled)
	assert.ErrorIs(t, err, database.ErrNotAssignedCourier)
	assert.Equal(t, 16, dbtest.Stock(t, e.db, e.product.ID))

	task, err := e.manager.Transition(ctx, order.Task.ID, courier, models.TaskCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, task.State)
	assert.NotNil(t, task.CancelledAt)
	assert.Nil(t, task.PickedUpAt)
	assert.Equal(t, models.OrderStatusCancelled, orderStatus(t, e.db, order.ID))
	assert.Equal(t, 20, dbtest.Stock(t, e.db, e.product.ID))

	_, err = e.manager.Transition(ctx, order.Task.ID, courier, models.TaskPickedUp)
	assert.ErrorIs(t, err, database.ErrIllegalTransition)
}

func TestCancelAfterPickupIsIllegal(t *testing.T) {
	e := setup(t, 1)
	ctx := context.Background()
	order := e.homeOrder(t, 1)

	_, err := e.manager.Transition(ctx, order.Task.ID, order.Task.CourierID, models.TaskPickedUp)
	require.NoError(t, err)

	_, err = e.manager.Cancel(ctx, order.Task.ID, e.fixture.Seller.ID)
	assert.ErrorIs(t, err, database.ErrIllegalTransition)
	assert.Equal(t, 19, dbtest.Stock(t, e.db, e.product.ID))
}

func TestConcurrentTransitionsOnOneTask(t *testing.T) {
	e := setup(t, 1)
	ctx := context.Background()
	order := e.homeOrder(t, 1)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := e.manager.Transition(ctx, order.Task.ID, order.Task.CourierID, models.TaskPickedUp)
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := e.manager.Cancel(ctx, order.Task.ID, e.fixture.Seller.ID)
		errs <- err
	}()
	wg.Wait()
	close(errs)

	var succeeded int
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, database.ErrIllegalTransition)
	}
	assert.Equal(t, 1, succeeded)

	task, err := e.manager.GetTask(ctx, order.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, delivery.OrderStatusFor(task.State), orderStatus(t, e.db, order.ID))

	wantStock := 19
	if task.State == models.TaskCancelled {
		wantStock = 20
	}
	assert.Equal(t, wantStock, dbtest.Stock(t, e.db, e.product.ID))
}

func TestAssignRejectsPickupOrders(t *testing.T) {
	e := setup(t, 1)
	ctx := context.Background()

	c := cart.New()
	require.NoError(t, c.Add(*e.product, 1))
	order, err := e.checkout.CreateOrder(ctx, checkout.CreateOrderRequest{
		CustomerID:    e.fixture.Customer.ID,
		Snapshot:      c.Snapshot(),
		DeliveryType:  models.DeliveryPickup,
		PaymentMethod: models.PaymentDebitCard,
	})
	require.NoError(t, err)

	_, err = e.manager.Assign(ctx, order.ID, 0)
	assert.ErrorIs(t, err, database.ErrInvalidDeliveryType)
}

func TestEstimateForTask(t *testing.T) {
	e := setup(t, 2)
	ctx := context.Background()
	order := e.homeOrder(t, 1)
	courier := order.Task.CourierID

	origin := &models.Coordinates{Lat: -17.38, Lng: -66.16}
	estimate, err := e.manager.EstimateForTask(ctx, order.Task.ID, courier, origin)
	require.NoError(t, err)
	assert.Equal(t, models.RouteSourceProvider, estimate.Source)
	assert.Equal(t, *order.Destination, e.estimator.dest)

	estimate, err = e.manager.EstimateForTask(ctx, order.Task.ID, courier, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RouteSourceUnavailable, estimate.Source)

	other := e.fixture.Couriers[1].ID
	if other == courier {
		other = e.fixture.Couriers[0].ID
	}
	_, err = e.manager.EstimateForTask(ctx, order.Task.ID, other, origin)
	assert.ErrorIs(t, err, database.ErrNotAssignedCourier)
	assert.Equal(t, 2, e.estimator.calls)
}

func TestListCourierTasksByState(t *testing.T) {
	e := setup(t, 1)
	ctx := context.Background()
	first := e.homeOrder(t, 1)
	e.homeOrder(t, 1)
	courier := first.Task.CourierID

	_, err := e.manager.Transition(ctx, first.Task.ID, courier, models.TaskPickedUp)
	require.NoError(t, err)

	all, err := e.manager.ListCourierTasks(ctx, courier, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pickedUp := models.TaskPickedUp
	active, err := e.manager.ListCourierTasks(ctx, courier, &pickedUp)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, first.Task.ID, active[0].ID)
}
