// Package memory provides an in-process transport used by tests and local
// single-node runs. Deliveries are synchronous and handler failures trigger
// immediate redelivery up to a bounded attempt count, which models the
// at-least-once behavior of a real broker deterministically.
package memory

import (
	"context"
	"fmt"
	"sync"

	"agent-platform/internal/common/logging"
	"agent-platform/internal/transport"
)

// DefaultMaxDeliveries bounds how many times one message is handed to a
// failing handler before it is dropped.
const DefaultMaxDeliveries = 3

type binding struct {
	queue   string
	handler transport.Handler
	ctx     context.Context
}

// Transport is the in-memory broker.
type Transport struct {
	mu            sync.RWMutex
	bindings      map[string][]*binding
	maxDeliveries int
	closed        bool
	logger        logging.Logger
}

// New creates an in-memory transport.
func New(logger logging.Logger) *Transport {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Transport{
		bindings:      make(map[string][]*binding),
		maxDeliveries: DefaultMaxDeliveries,
		logger:        logger.WithFields(logging.String("component", "memory_transport")),
	}
}

// SetMaxDeliveries overrides the per-message delivery bound.
func (t *Transport) SetMaxDeliveries(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > 0 {
		t.maxDeliveries = n
	}
}

// Publish delivers the message to every queue bound to its routing key.
// Delivery happens in the caller's goroutine so tests stay deterministic.
func (t *Transport) Publish(ctx context.Context, msg *transport.Message) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return fmt.Errorf("transport is closed")
	}
	bindings := append([]*binding(nil), t.bindings[msg.RoutingKey]...)
	maxDeliveries := t.maxDeliveries
	t.mu.RUnlock()

	for _, b := range bindings {
		t.deliver(b, msg, maxDeliveries)
	}
	return nil
}

func (t *Transport) deliver(b *binding, msg *transport.Message, maxDeliveries int) {
	for attempt := 0; attempt < maxDeliveries; attempt++ {
		if b.ctx.Err() != nil {
			return
		}

		delivery := &transport.Delivery{
			MessageID:   msg.MessageID,
			RoutingKey:  msg.RoutingKey,
			Headers:     msg.Headers,
			Body:        msg.Body,
			Timestamp:   msg.Timestamp,
			Redelivered: attempt > 0,
		}

		if err := b.handler(b.ctx, delivery); err == nil {
			return
		}
	}

	t.logger.Warn("message dropped after delivery attempts exhausted",
		logging.String("queue", b.queue),
		logging.String("routing_key", msg.RoutingKey),
		logging.Int("attempts", maxDeliveries),
	)
}

// Subscribe binds a queue to a routing key.
func (t *Transport) Subscribe(ctx context.Context, queue, routingKey string, handler transport.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport is closed")
	}

	t.bindings[routingKey] = append(t.bindings[routingKey], &binding{
		queue:   queue,
		handler: handler,
		ctx:     ctx,
	})
	return nil
}

// Health reports whether the transport is open.
func (t *Transport) Health() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return fmt.Errorf("transport is closed")
	}
	return nil
}

// Close drops all bindings.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.bindings = make(map[string][]*binding)
	return nil
}
