package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/safar/go-order-delivery/internal/logger"
	"github.com/safar/go-order-delivery/internal/models"
)

const routingPrefix = "courier."

func RoutingKey(courierID int64) string {
	return routingPrefix + strconv.FormatInt(courierID, 10)
}

func courierFromKey(key string) (int64, error) {
	if !strings.HasPrefix(key, routingPrefix) {
		return 0, fmt.Errorf("unexpected routing key %q", key)
	}
	return strconv.ParseInt(strings.TrimPrefix(key, routingPrefix), 10, 64)
}

// RabbitBridge fans notifications out across API nodes through a topic
// exchange. Publish sends to the broker; Run consumes every courier key on an
// exclusive queue and hands each message to the local Hub.
type RabbitBridge struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	exchange string
	hub      *Hub
	log      *logger.Logger

	mu sync.Mutex
}

func DialRabbitBridge(url, exchange string, hub *Hub, log *logger.Logger) (*RabbitBridge, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &RabbitBridge{
		conn:     conn,
		pubCh:    ch,
		exchange: exchange,
		hub:      hub,
		log:      log,
	}, nil
}

func (b *RabbitBridge) Publish(ctx context.Context, n models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.pubCh.PublishWithContext(ctx, b.exchange, RoutingKey(n.CourierID), false, false, amqp.Publishing{
		DeliveryMode: amqp.Transient,
		ContentType:  "application/json",
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Run blocks until ctx is cancelled or the broker closes the channel.
func (b *RabbitBridge) Run(ctx context.Context) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingPrefix+"*", b.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	b.log.Info("courier_bridge_consuming", map[string]any{"queue": q.Name, "exchange": b.exchange})

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr != nil {
				return fmt.Errorf("channel closed: %s", amqpErr.Reason)
			}
			return errors.New("channel closed")
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			b.forward(ctx, d)
		}
	}
}

func (b *RabbitBridge) forward(ctx context.Context, d amqp.Delivery) {
	n, err := decodeDelivery(d.RoutingKey, d.Body)
	if err != nil {
		b.log.Warn("courier_bridge_bad_message", err, map[string]any{"routing_key": d.RoutingKey})
		return
	}
	_ = b.hub.Publish(ctx, n)
}

func decodeDelivery(routingKey string, body []byte) (models.Notification, error) {
	var n models.Notification
	courierID, err := courierFromKey(routingKey)
	if err != nil {
		return n, err
	}
	if err := json.Unmarshal(body, &n); err != nil {
		return n, fmt.Errorf("decode notification: %w", err)
	}
	if n.CourierID != courierID {
		return n, fmt.Errorf("routing key courier %d does not match payload courier %d", courierID, n.CourierID)
	}
	return n, nil
}

func (b *RabbitBridge) Close() {
	if b.pubCh != nil {
		_ = b.pubCh.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
}
