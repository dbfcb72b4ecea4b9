package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const contentTypeJSON = "application/json"

var ErrNotConfirmed = errors.New("message not confirmed by broker")

// Publisher sends domain events to a durable topic exchange and waits for
// the broker to confirm each one.
type Publisher struct {
	ch       *amqp.Channel
	exchange string
	confirms chan amqp.Confirmation
	mu       sync.Mutex
	logger   zerolog.Logger
	now      func() time.Time
}

func NewPublisher(conn *amqp.Connection, exchange string, logger zerolog.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	return &Publisher{
		ch:       ch,
		exchange: exchange,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// Publish encodes payload as JSON and publishes it under routingKey.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	msg, err := encode(payload, p.now())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	select {
	case c := <-p.confirms:
		if !c.Ack {
			return fmt.Errorf("publish %s: %w", routingKey, ErrNotConfirmed)
		}
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", routingKey, ctx.Err())
	}
	p.logger.Debug().Str("routing_key", routingKey).Str("message_id", msg.MessageId).Msg("event published")
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

func encode(payload interface{}, at time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    at,
		Body:         body,
	}, nil
}

// Dial connects to the broker at url.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return conn, nil
}
