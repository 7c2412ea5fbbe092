package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/go-storefront/internal/model"
)

const (
	orderEventsQueue = "order.events"
	dlxExchange      = "order.events.dlx"
	dlqQueueName     = "order.events.dlq"
	idempotencyTTL   = 24 * time.Hour
	idempotencyKey   = "order_event:"
)

// CacheInvalidator drops cached copies of products whose stock an order
// event changed.
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context, ids ...int64)
}

// SetupRabbitMQ declares the order event queue and its dead-letter topology.
func SetupRabbitMQ(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLX: %w", err)
	}
	if _, err := ch.QueueDeclare(dlqQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}
	if err := ch.QueueBind(dlqQueueName, orderEventsQueue, dlxExchange, false, nil); err != nil {
		return fmt.Errorf("bind DLQ: %w", err)
	}
	if _, err := ch.QueueDeclare(orderEventsQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlxExchange,
		"x-dead-letter-routing-key": orderEventsQueue,
	}); err != nil {
		return fmt.Errorf("declare order events queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}
	return nil
}

// Publisher sends order events to RabbitMQ as persistent JSON messages.
type Publisher struct {
	mu      sync.Mutex
	channel *amqp.Channel
}

func NewPublisher(ch *amqp.Channel) *Publisher {
	return &Publisher{channel: ch}
}

func (p *Publisher) Publish(ctx context.Context, event model.OrderEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, "", orderEventsQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Type:         string(event.Type),
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// OrderWorker consumes order events. Each event is handled at most once per
// idempotency window, tracked in Redis.
type OrderWorker struct {
	channel     *amqp.Channel
	cache       CacheInvalidator
	redisClient *redis.Client
	log         *slog.Logger
	done        chan struct{}
	stopOnce    sync.Once
}

func NewOrderWorker(ch *amqp.Channel, cache CacheInvalidator, redisClient *redis.Client, log *slog.Logger) *OrderWorker {
	return &OrderWorker{
		channel:     ch,
		cache:       cache,
		redisClient: redisClient,
		log:         log,
		done:        make(chan struct{}),
	}
}

func (w *OrderWorker) Start(ctx context.Context) error {
	msgs, err := w.channel.Consume(orderEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	go func() {
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				w.processMessage(ctx, msg)
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	w.log.Info("order worker started")
	return nil
}

func (w *OrderWorker) Stop() { w.stopOnce.Do(func() { close(w.done) }) }

// Publish handles the event in-process. It stands in for the RabbitMQ
// publisher when no broker is configured.
func (w *OrderWorker) Publish(ctx context.Context, event model.OrderEvent) error {
	_, err := w.handle(ctx, event)
	return err
}

func (w *OrderWorker) processMessage(ctx context.Context, msg amqp.Delivery) {
	var event model.OrderEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		w.log.Error("unmarshal order event", "error", err)
		_ = msg.Nack(false, false) // dead-lettered
		return
	}

	retry, err := w.handle(ctx, event)
	if err != nil {
		w.log.Error("handle order event", "event_id", event.ID, "type", event.Type, "error", err)
		_ = msg.Nack(false, retry)
		return
	}
	_ = msg.Ack(false)
}

// handle reports whether a failure is worth redelivering.
func (w *OrderWorker) handle(ctx context.Context, event model.OrderEvent) (bool, error) {
	log := w.log.With("event_id", event.ID, "type", event.Type, "order_id", event.OrderID)

	key := idempotencyKey + event.ID.String()
	if w.redisClient != nil {
		exists, err := w.redisClient.Exists(ctx, key).Result()
		if err != nil {
			return true, fmt.Errorf("check idempotency key: %w", err)
		}
		if exists > 0 {
			log.Info("order event already handled, skipping")
			return false, nil
		}
	}

	switch event.Type {
	case model.OrderEventPlaced, model.OrderEventCancelled, model.OrderEventDeleted, model.OrderEventReactivated:
		w.cache.InvalidateCache(ctx, event.ProductIDs...)
	default:
		return false, fmt.Errorf("unknown order event type %q", event.Type)
	}

	if w.redisClient != nil {
		if err := w.redisClient.Set(ctx, key, "1", idempotencyTTL).Err(); err != nil {
			log.Error("set idempotency key", "error", err)
		}
	}
	log.Info("order event handled", "order_number", event.OrderNumber, "products", len(event.ProductIDs))
	return false, nil
}
