package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/skydish/api/internal/services"
)

// OrderEventMessage is the JSON body published for every order event.
type OrderEventMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber,omitempty"`
	PreviousStatus int            `json:"previousStatus,omitempty"`
	CurrentStatus  int            `json:"currentStatus"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func newOrderEventMessage(event services.OrderEvent) OrderEventMessage {
	return OrderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		PreviousStatus: event.PreviousStatus.Code(),
		CurrentStatus:  event.CurrentStatus.Code(),
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	}
}

// FanoutPublisher delivers every event to all targets. One failing target does not stop the rest.
type FanoutPublisher struct {
	targets []services.OrderEventPublisher
}

var _ services.OrderEventPublisher = (*FanoutPublisher)(nil)

// NewFanoutPublisher skips nil targets.
func NewFanoutPublisher(targets ...services.OrderEventPublisher) *FanoutPublisher {
	fanout := &FanoutPublisher{}
	for _, target := range targets {
		if target != nil {
			fanout.targets = append(fanout.targets, target)
		}
	}
	return fanout
}

// PublishOrderEvent joins the errors of all failing targets.
func (f *FanoutPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	var errs []error
	for _, target := range f.targets {
		if err := target.PublishOrderEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
