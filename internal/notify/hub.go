package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/safar/go-order-delivery/internal/logger"
	"github.com/safar/go-order-delivery/internal/models"
)

const subscriberBuffer = 16

// Publisher pushes a persisted notification to whoever is listening live.
type Publisher interface {
	Publish(ctx context.Context, n models.Notification) error
}

type Subscription struct {
	ID        string
	CourierID int64
	C         <-chan models.Notification

	ch chan models.Notification
}

// Hub is an in-process pub/sub keyed by courier id. Delivery is at most once:
// a subscriber whose buffer is full misses the event and must reconcile
// against the persisted inbox.
type Hub struct {
	mu   sync.RWMutex
	subs map[int64]map[string]*Subscription
	log  *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		subs: make(map[int64]map[string]*Subscription),
		log:  log,
	}
}

func (h *Hub) Subscribe(courierID int64) *Subscription {
	ch := make(chan models.Notification, subscriberBuffer)
	sub := &Subscription{
		ID:        uuid.NewString(),
		CourierID: courierID,
		C:         ch,
		ch:        ch,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[courierID] == nil {
		h.subs[courierID] = make(map[string]*Subscription)
	}
	h.subs[courierID][sub.ID] = sub
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	byID, ok := h.subs[sub.CourierID]
	if !ok {
		return
	}
	if _, ok := byID[sub.ID]; !ok {
		return
	}

	delete(byID, sub.ID)
	close(sub.ch)
	if len(byID) == 0 {
		delete(h.subs, sub.CourierID)
	}
}

func (h *Hub) Publish(_ context.Context, n models.Notification) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs[n.CourierID] {
		select {
		case sub.ch <- n:
		default:
			h.log.Warn("live_push_dropped", nil, map[string]any{
				"courier_id":      n.CourierID,
				"notification_id": n.ID,
				"subscription":    sub.ID,
			})
		}
	}
	return nil
}

func (h *Hub) Subscribers(courierID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[courierID])
}
