package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type EmployeeRole string

const (
	RoleSeller  EmployeeRole = "seller"
	RoleCourier EmployeeRole = "courier"
)

type Employee struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Role      EmployeeRole `json:"role"`
	Phone     string       `json:"phone,omitempty"`
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Version   int          `json:"version"`
}

type Product struct {
	ID            int64            `json:"id"`
	SKU           string           `json:"sku"`
	Name          string           `json:"name"`
	Category      string           `json:"category,omitempty"`
	Price         decimal.Decimal  `json:"price"`
	DiscountPrice *decimal.Decimal `json:"discount_price,omitempty"`
	StockQuantity int              `json:"stock_quantity"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Version       int              `json:"version"`
}

// EffectivePrice is the discounted price when one is set.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice != nil {
		return *p.DiscountPrice
	}
	return p.Price
}

type DeliveryType string

const (
	DeliveryHome   DeliveryType = "home"
	DeliveryPickup DeliveryType = "pickup"
)

func (t DeliveryType) Valid() bool {
	return t == DeliveryHome || t == DeliveryPickup
}

// PaymentMethod is captured for the record only; no payment is processed.
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "cash"
	PaymentQR         PaymentMethod = "qr"
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentDebitCard  PaymentMethod = "debit_card"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentQR, PaymentCreditCard, PaymentDebitCard:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusInTransit OrderStatus = "in_transit"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Order struct {
	ID            int64           `json:"id"`
	OrderNumber   string          `json:"order_number"`
	CustomerID    int64           `json:"customer_id"`
	EmployeeID    int64           `json:"employee_id"`
	Status        OrderStatus     `json:"status"`
	DeliveryType  DeliveryType    `json:"delivery_type"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Address       string          `json:"address,omitempty"`
	Destination   *Coordinates    `json:"destination,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Surcharge     decimal.Decimal `json:"surcharge"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	CartVersion   int             `json:"cart_version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
	Items         []OrderItem     `json:"items,omitempty"`
	Task          *DeliveryTask   `json:"delivery_task,omitempty"`
}

type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskPickedUp  TaskState = "picked_up"
	TaskDelivered TaskState = "delivered"
	TaskCancelled TaskState = "cancelled"
)

func (s TaskState) Valid() bool {
	switch s {
	case TaskPending, TaskPickedUp, TaskDelivered, TaskCancelled:
		return true
	}
	return false
}

func (s TaskState) Terminal() bool {
	return s == TaskDelivered || s == TaskCancelled
}

type DeliveryTask struct {
	ID          int64      `json:"id"`
	OrderID     int64      `json:"order_id"`
	CourierID   int64      `json:"courier_id"`
	State       TaskState  `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PickedUpAt  *time.Time `json:"picked_up_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	Version     int        `json:"version"`
}

type Notification struct {
	ID        int64     `json:"id"`
	CourierID int64     `json:"courier_id"`
	OrderID   int64     `json:"order_id"`
	TaskID    *int64    `json:"task_id,omitempty"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type RouteSource string

const (
	RouteSourceProvider    RouteSource = "osrm"
	RouteSourceHaversine   RouteSource = "haversine"
	RouteSourceUnavailable RouteSource = "unavailable"
)

// RouteEstimate is computed on demand and never persisted.
type RouteEstimate struct {
	Source          RouteSource   `json:"source"`
	DistanceKm      float64       `json:"distance_km"`
	DurationMinutes int           `json:"duration_minutes"`
	Path            []Coordinates `json:"path,omitempty"`
}

func (r RouteEstimate) Approximate() bool {
	return r.Source != RouteSourceProvider
}
