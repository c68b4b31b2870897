package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	domain "github.com/skydish/api/internal/domain"
	"github.com/skydish/api/internal/services"
)

type stubChannel struct {
	declareFn func(name, kind string, durable bool) error
	publishFn func(exchange, key string, msg amqp.Publishing) error
	published []amqp.Publishing
	closed    bool
}

func (s *stubChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if s.declareFn != nil {
		return s.declareFn(name, kind, durable)
	}
	return nil
}

func (s *stubChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	s.published = append(s.published, msg)
	if s.publishFn != nil {
		return s.publishFn(exchange, key, msg)
	}
	return nil
}

func (s *stubChannel) Close() error {
	s.closed = true
	return nil
}

func TestAMQPOrderEventPublisherDeclaresDurableFanout(t *testing.T) {
	var gotName, gotKind string
	var gotDurable bool
	ch := &stubChannel{declareFn: func(name, kind string, durable bool) error {
		gotName, gotKind, gotDurable = name, kind, durable
		return nil
	}}
	if _, err := NewAMQPOrderEventPublisher(ch, "order_events"); err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if gotName != "order_events" || gotKind != amqp.ExchangeFanout || !gotDurable {
		t.Fatalf("unexpected declaration %s %s %v", gotName, gotKind, gotDurable)
	}
}

func TestAMQPOrderEventPublisherPublishes(t *testing.T) {
	var gotExchange, gotKey string
	ch := &stubChannel{publishFn: func(exchange, key string, _ amqp.Publishing) error {
		gotExchange, gotKey = exchange, key
		return nil
	}}
	publisher, err := NewAMQPOrderEventPublisher(ch, "order_events")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	event := services.OrderEvent{
		Type:          "order.reminder",
		OrderID:       "ord_1",
		CurrentStatus: domain.OrderStatusConfirmed,
		OccurredAt:    time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if gotExchange != "order_events" || gotKey != "order.reminder" {
		t.Fatalf("unexpected routing %s/%s", gotExchange, gotKey)
	}
	msg := ch.published[0]
	if msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" {
		t.Fatalf("unexpected publishing %+v", msg)
	}
	var body OrderEventMessage
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.OrderID != "ord_1" || body.CurrentStatus != 3 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestAMQPOrderEventPublisherErrors(t *testing.T) {
	if _, err := NewAMQPOrderEventPublisher(&stubChannel{}, " "); err == nil {
		t.Fatal("expected error for empty exchange")
	}
	declareErr := errors.New("access refused")
	if _, err := NewAMQPOrderEventPublisher(&stubChannel{declareFn: func(string, string, bool) error { return declareErr }}, "x"); !errors.Is(err, declareErr) {
		t.Fatalf("expected declare error, got %v", err)
	}

	publishErr := errors.New("channel closed")
	publisher, err := NewAMQPOrderEventPublisher(&stubChannel{publishFn: func(string, string, amqp.Publishing) error { return publishErr }}, "x")
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{Type: "order.paid"}); !errors.Is(err, publishErr) {
		t.Fatalf("expected publish error, got %v", err)
	}
}

type recordingPublisher struct {
	err    error
	events []services.OrderEvent
}

func (r *recordingPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutPublisherDeliversToAllTargets(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("broker down")}
	healthy := &recordingPublisher{}
	fanout := NewFanoutPublisher(failing, nil, healthy)

	err := fanout.PublishOrderEvent(context.Background(), services.OrderEvent{Type: "order.paid"})
	if !errors.Is(err, failing.err) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(failing.events) != 1 || len(healthy.events) != 1 {
		t.Fatalf("expected both targets to receive the event")
	}
}
