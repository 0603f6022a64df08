// Package transport abstracts the durable message broker the event bus
// publishes through. Implementations provide topic-exchange publish and
// subscribe with per-message acknowledgment and at-least-once delivery.
package transport

import (
	"context"
	"time"
)

// Message is an outbound transport message. Delivery is always persistent.
type Message struct {
	MessageID  string
	RoutingKey string
	Headers    map[string]string
	Body       []byte
	Timestamp  time.Time
}

// Delivery is an inbound message handed to a subscriber.
type Delivery struct {
	MessageID   string
	RoutingKey  string
	Headers     map[string]string
	Body        []byte
	Timestamp   time.Time
	Redelivered bool
}

// Handler processes one delivery. A nil return acknowledges the message; an
// error leaves it unacknowledged so the transport redelivers it.
type Handler func(ctx context.Context, delivery *Delivery) error

// Transport is a durable topic-exchange broker.
type Transport interface {
	// Publish hands a message to the broker with persistent delivery.
	// It never blocks waiting for a consumer.
	Publish(ctx context.Context, msg *Message) error

	// Subscribe binds the named durable queue to the topic exchange with
	// the given routing key and consumes it until ctx is cancelled. The
	// number of in-flight unacknowledged deliveries is bounded by the
	// transport's prefetch limit.
	Subscribe(ctx context.Context, queue, routingKey string, handler Handler) error

	Health() error
	Close() error
}
