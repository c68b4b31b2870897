package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/skydish/api/internal/services"
)

// AMQPChannel is the subset of *amqp.Channel used by the publisher.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPOrderEventPublisher publishes order events to a durable fanout exchange.
type AMQPOrderEventPublisher struct {
	mu       sync.Mutex
	channel  AMQPChannel
	conn     *amqp.Connection
	exchange string
}

var _ services.OrderEventPublisher = (*AMQPOrderEventPublisher)(nil)

// DialAMQPOrderEventPublisher connects to the broker and declares the exchange.
func DialAMQPOrderEventPublisher(url, exchange string) (*AMQPOrderEventPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp order event publisher: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp order event publisher: open channel: %w", err)
	}
	publisher, err := NewAMQPOrderEventPublisher(ch, exchange)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	publisher.conn = conn
	return publisher, nil
}

// NewAMQPOrderEventPublisher declares the fanout exchange on an open channel.
func NewAMQPOrderEventPublisher(ch AMQPChannel, exchange string) (*AMQPOrderEventPublisher, error) {
	if ch == nil {
		return nil, errors.New("amqp order event publisher: channel is required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, errors.New("amqp order event publisher: exchange is required")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqp order event publisher: declare exchange %s: %w", exchange, err)
	}
	return &AMQPOrderEventPublisher{channel: ch, exchange: exchange}, nil
}

// PublishOrderEvent sends a persistent JSON message routed by event type.
func (p *AMQPOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	body, err := json.Marshal(newOrderEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, p.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.OrderID + ":" + event.Type + ":" + event.OccurredAt.UTC().Format("20060102T150405.000"),
		Timestamp:    event.OccurredAt.UTC(),
		Type:         event.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish order event to %s: %w", p.exchange, err)
	}
	return nil
}

// Close releases the channel and, when dialled here, the connection.
func (p *AMQPOrderEventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.channel.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
