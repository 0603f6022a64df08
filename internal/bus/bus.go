// Package bus implements the durable event bus: publish writes the event row
// before the broker sees it, and consumption guarantees handlers run at most
// once per event even though the transport delivers at least once.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"agent-platform/internal/common/errors"
	"agent-platform/internal/common/logging"
	"agent-platform/internal/dedup"
	"agent-platform/internal/models"
	"agent-platform/internal/storage"
	"agent-platform/internal/transport"
)

// EventHandler processes one event. Handlers registered for the same event
// type run in registration order; the first error stops the chain.
type EventHandler func(ctx context.Context, event *models.Event) error

// EventBus couples the event table, the dedup cache and the transport.
type EventBus struct {
	storage   storage.Storage
	cache     dedup.Cache
	transport transport.Transport
	breaker   *gobreaker.CircuitBreaker
	logger    logging.Logger

	mu         sync.RWMutex
	handlers   map[string][]EventHandler
	subscribed map[string]bool
}

// NewEventBus creates an event bus over the given storage, cache and transport.
func NewEventBus(store storage.Storage, cache dedup.Cache, tr transport.Transport, logger logging.Logger) *EventBus {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "event-bus-publish",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &EventBus{
		storage:    store,
		cache:      cache,
		transport:  tr,
		breaker:    breaker,
		logger:     logger.WithFields(logging.String("component", "event_bus")),
		handlers:   make(map[string][]EventHandler),
		subscribed: make(map[string]bool),
	}
}

// Publish persists the event and hands it to the transport. The row write is
// the durability floor: if the broker publish fails the event stays PENDING
// and the reconciler republishes it later, so Publish still succeeds.
func (b *EventBus) Publish(ctx context.Context, eventType, source string, payload map[string]interface{}) (*models.Event, error) {
	if eventType == "" {
		return nil, errors.ValidationError("event type is required")
	}

	event := &models.Event{
		EventType: eventType,
		Source:    source,
		Payload:   payload,
	}
	if err := b.storage.CreateEvent(ctx, event); err != nil {
		return nil, err
	}

	if err := b.publishToTransport(ctx, event); err != nil {
		b.logger.Warn("transport publish failed, event left for reconciler",
			logging.Int64("event_id", event.ID),
			logging.String("event_type", eventType),
			logging.String("error", err.Error()))
		return event, nil
	}

	b.logger.Debug("event published",
		logging.Int64("event_id", event.ID),
		logging.String("event_type", eventType))
	return event, nil
}

func (b *EventBus) publishToTransport(ctx context.Context, event *models.Event) error {
	body, err := encodeMessage(event)
	if err != nil {
		return err
	}

	msg := &transport.Message{
		MessageID:  uuid.NewString(),
		RoutingKey: event.EventType,
		Headers:    map[string]string{"source": event.Source},
		Body:       body,
		Timestamp:  event.CreatedAt,
	}

	_, err = b.breaker.Execute(func() (interface{}, error) {
		return nil, b.transport.Publish(ctx, msg)
	})
	if err != nil {
		return errors.DeliveryError("broker publish failed", err).
			WithContext("event_id", event.ID)
	}
	return nil
}

// Subscribe registers a handler for an event type. The first handler for a
// type binds the durable queue queue_<event_type> and starts the consumer.
func (b *EventBus) Subscribe(ctx context.Context, eventType string, handler EventHandler) error {
	if eventType == "" {
		return errors.ValidationError("event type is required")
	}
	if handler == nil {
		return errors.ValidationError("handler is required")
	}

	b.mu.Lock()
	index := len(b.handlers[eventType])
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	needsConsumer := !b.subscribed[eventType]
	if needsConsumer {
		b.subscribed[eventType] = true
	}
	b.mu.Unlock()

	if !needsConsumer {
		return nil
	}

	queue := queueName(eventType)
	if err := b.transport.Subscribe(ctx, queue, eventType, b.consume); err != nil {
		// Roll back the registration too, or a retried Subscribe would
		// leave the handler in the chain twice.
		b.mu.Lock()
		list := b.handlers[eventType]
		if index < len(list) {
			b.handlers[eventType] = append(list[:index], list[index+1:]...)
		}
		delete(b.subscribed, eventType)
		b.mu.Unlock()
		return err
	}

	b.logger.Info("subscribed to event type",
		logging.String("event_type", eventType),
		logging.String("queue", queue))
	return nil
}

// consume is the per-delivery protocol. A nil return acknowledges the
// delivery; an error leaves it for the transport to redeliver.
func (b *EventBus) consume(ctx context.Context, delivery *transport.Delivery) error {
	msg, err := decodeMessage(delivery.Body)
	if err != nil {
		// Malformed bodies can never succeed; drop them.
		b.logger.Error("dropping malformed event message", err,
			logging.String("message_id", delivery.MessageID))
		return nil
	}

	log := b.logger.WithFields(
		logging.Int64("event_id", msg.EventID),
		logging.String("event_type", msg.EventType))

	won, err := b.cache.Acquire(ctx, msg.EventID)
	if err != nil {
		log.Error("dedup acquire failed", err)
		return err
	}
	if !won {
		log.Debug("duplicate delivery ignored",
			logging.Bool("redelivered", delivery.Redelivered))
		return nil
	}

	if err := b.storage.MarkEventProcessing(ctx, msg.EventID); err != nil {
		b.releaseClaim(ctx, msg.EventID, log)
		return err
	}

	event := &models.Event{
		ID:        msg.EventID,
		EventType: msg.EventType,
		Source:    msg.Source,
		Payload:   msg.Payload,
		Status:    models.EventStatusProcessing,
		CreatedAt: msg.Timestamp,
	}

	if err := b.runHandlers(ctx, event); err != nil {
		log.Error("event handling failed", err)
		if markErr := b.storage.MarkEventFailed(ctx, msg.EventID); markErr != nil {
			log.Error("failed to record event failure", markErr)
		}
		b.releaseClaim(ctx, msg.EventID, log)
		return err
	}

	if err := b.storage.MarkEventCompleted(ctx, msg.EventID, time.Now().UTC()); err != nil {
		log.Error("failed to record event completion", err)
	}

	log.Debug("event processed")
	return nil
}

func (b *EventBus) runHandlers(ctx context.Context, event *models.Event) error {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers[event.EventType]))
	copy(handlers, b.handlers[event.EventType])
	b.mu.RUnlock()

	for i, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			return fmt.Errorf("handler %d for %s: %w", i, event.EventType, err)
		}
	}
	return nil
}

func (b *EventBus) releaseClaim(ctx context.Context, eventID int64, log logging.Logger) {
	if err := b.cache.Release(ctx, eventID); err != nil {
		log.Error("failed to release dedup claim", err)
	}
}

// Health checks the transport connection.
func (b *EventBus) Health() error {
	return b.transport.Health()
}

func queueName(eventType string) string {
	return "queue_" + eventType
}
