// Package rabbitmq implements the transport interface over RabbitMQ using
// a durable topic exchange, durable per-event-type queues, manual
// acknowledgment, and a prefetch bound for backpressure.
package rabbitmq

import (
	"context"

	"github.com/streadway/amqp"

	"agent-platform/internal/common/errors"
	"agent-platform/internal/common/logging"
	"agent-platform/internal/transport"
)

// Transport is the RabbitMQ-backed broker.
type Transport struct {
	config *Config
	pool   *ConnectionPool
	logger logging.Logger
}

// New validates the configuration and connects the pool.
func New(config *Config, logger logging.Logger) (*Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	pool, err := NewConnectionPool(config.URL, config.PoolSize)
	if err != nil {
		return nil, errors.ConnectionError("failed to create RabbitMQ connection pool", err)
	}

	return &Transport{
		config: config,
		pool:   pool,
		logger: logger.WithFields(
			logging.String("component", "rabbitmq_transport"),
			logging.String("broker", config.ConnectionString()),
		),
	}, nil
}

// Publish sends a persistent message to the topic exchange.
func (t *Transport) Publish(ctx context.Context, msg *transport.Message) error {
	client, err := t.pool.NewClient()
	if err != nil {
		return errors.ConnectionError("failed to get RabbitMQ client", err)
	}
	defer client.Close()

	ch := client.Channel()
	if err := ch.ExchangeDeclare(t.config.Exchange, "topic", true, false, false, false, nil); err != nil {
		return errors.InternalError("failed to declare exchange "+t.config.Exchange, err)
	}

	headers := amqp.Table{}
	for key, value := range msg.Headers {
		headers[key] = value
	}

	err = ch.Publish(
		t.config.Exchange,
		msg.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    msg.MessageID,
			Timestamp:    msg.Timestamp,
			Headers:      headers,
			Body:         msg.Body,
		},
	)
	if err != nil {
		return errors.DeliveryError("failed to publish to exchange "+t.config.Exchange, err)
	}
	return nil
}

// Subscribe declares a durable queue bound to the topic exchange with the
// routing key and consumes it until ctx is cancelled. Handler errors nack
// the delivery with requeue, which is what drives redelivery.
func (t *Transport) Subscribe(ctx context.Context, queue, routingKey string, handler transport.Handler) error {
	client, err := t.pool.NewClient()
	if err != nil {
		return errors.ConnectionError("failed to get RabbitMQ client", err)
	}

	ch := client.Channel()

	if err := ch.ExchangeDeclare(t.config.Exchange, "topic", true, false, false, false, nil); err != nil {
		client.Close()
		return errors.InternalError("failed to declare exchange "+t.config.Exchange, err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		client.Close()
		return errors.InternalError("failed to declare queue "+queue, err)
	}

	if err := ch.QueueBind(queue, routingKey, t.config.Exchange, false, nil); err != nil {
		client.Close()
		return errors.InternalError("failed to bind queue "+queue, err)
	}

	// Bound the number of unacknowledged in-flight deliveries.
	if err := ch.Qos(t.config.Prefetch, 0, false); err != nil {
		client.Close()
		return errors.InternalError("failed to set prefetch on queue "+queue, err)
	}

	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		client.Close()
		return errors.InternalError("failed to start consuming from queue "+queue, err)
	}

	logger := t.logger.WithFields(
		logging.String("queue", queue),
		logging.String("routing_key", routingKey),
	)

	go func() {
		defer client.Close()
		for {
			select {
			case <-ctx.Done():
				logger.Info("subscription cancelled",
					logging.Any("reason", ctx.Err()),
				)
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Info("message channel closed")
					return
				}

				delivery := &transport.Delivery{
					MessageID:   msg.MessageId,
					RoutingKey:  msg.RoutingKey,
					Headers:     convertAMQPHeaders(msg.Headers),
					Body:        msg.Body,
					Timestamp:   msg.Timestamp,
					Redelivered: msg.Redelivered,
				}

				if err := handler(ctx, delivery); err != nil {
					logger.Warn("delivery handler failed, requeueing",
						logging.String("message_id", msg.MessageId),
						logging.Any("error", err.Error()),
					)
					msg.Nack(false, true)
					continue
				}
				msg.Ack(false)
			}
		}
	}()

	return nil
}

// Health verifies a channel can be opened against the broker.
func (t *Transport) Health() error {
	client, err := t.pool.NewClient()
	if err != nil {
		return errors.ConnectionError("failed to get RabbitMQ client for health check", err)
	}
	defer client.Close()

	_, err = client.Channel().QueueDeclare("health-check-temp", false, true, false, false, nil)
	return err
}

// Close shuts down the connection pool.
func (t *Transport) Close() error {
	if t.pool != nil {
		t.pool.Close()
		t.pool = nil
	}
	return nil
}

func convertAMQPHeaders(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	result := make(map[string]string, len(headers))
	for key, value := range headers {
		if str, ok := value.(string); ok {
			result[key] = str
		}
	}
	return result
}
