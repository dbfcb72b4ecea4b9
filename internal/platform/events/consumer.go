package events

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ErrPoison marks a message that can never be processed. It is dropped
// instead of requeued.
var ErrPoison = errors.New("unprocessable message")

// HandlerFunc processes one delivery body.
type HandlerFunc func(ctx context.Context, routingKey string, body []byte) error

// Consumer reads from a durable queue bound to the event exchange.
type Consumer struct {
	ch     *amqp.Channel
	queue  string
	logger zerolog.Logger
}

// NewConsumer declares queue, binds it to exchange for each routing key and
// limits unacknowledged deliveries to prefetch.
func NewConsumer(conn *amqp.Connection, exchange, queue string, keys []string, prefetch int, logger zerolog.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	for _, key := range keys {
		if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("bind %s to %s: %w", queue, key, err)
		}
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &Consumer{ch: ch, queue: queue, logger: logger}, nil
}

// Run delivers messages to handle until ctx is cancelled or the channel
// closes. Failed messages are requeued once; poison messages are dropped.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.logger.Info().Str("queue", c.queue).Msg("consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.process(ctx, d, handle)
		}
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery, handle HandlerFunc) {
	log := c.logger.With().Str("routing_key", d.RoutingKey).Str("message_id", d.MessageId).Logger()
	err := handle(ctx, d.RoutingKey, d.Body)
	switch disposition(err, d.Redelivered) {
	case ack:
		if err := d.Ack(false); err != nil {
			log.Error().Err(err).Msg("ack failed")
		}
	case requeue:
		log.Warn().Err(err).Msg("message failed, requeueing")
		if err := d.Nack(false, true); err != nil {
			log.Error().Err(err).Msg("nack failed")
		}
	case drop:
		log.Error().Err(err).Msg("message dropped")
		if err := d.Nack(false, false); err != nil {
			log.Error().Err(err).Msg("nack failed")
		}
	}
}

type outcome int

const (
	ack outcome = iota
	requeue
	drop
)

func disposition(err error, redelivered bool) outcome {
	switch {
	case err == nil:
		return ack
	case errors.Is(err, ErrPoison), redelivered:
		return drop
	default:
		return requeue
	}
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
