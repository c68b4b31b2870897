// Package push fans order notifications out to connected merchant clients.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/skydish/api/internal/platform/observability"
	"github.com/skydish/api/internal/services"
)

// Message types understood by merchant clients.
const (
	TypeNewOrder = 1
	TypeReminder = 2
)

const defaultSinkBuffer = 16

// ErrDuplicateSink is returned when a connection id is already registered.
var ErrDuplicateSink = errors.New("push: connection id already registered")

// Message is the JSON frame delivered to merchant clients.
type Message struct {
	Type    int    `json:"type"`
	OrderID string `json:"orderId"`
	Content string `json:"content"`
}

// Sink receives encoded frames for one connection. It is closed when the connection is cancelled.
type Sink <-chan []byte

// Hub tracks live merchant connections keyed by client-supplied id.
type Hub struct {
	mu     sync.Mutex
	sinks  map[string]chan []byte
	buffer int
	logger func(ctx context.Context, event string, fields map[string]any)
}

var _ services.OrderEventPublisher = (*Hub)(nil)

// HubOption customises the hub.
type HubOption func(*Hub)

// WithSinkBuffer sets the number of frames queued per connection before new frames are dropped.
func WithSinkBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithLogger installs a structured logger.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub constructs an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		sinks:  make(map[string]chan []byte),
		buffer: defaultSinkBuffer,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register adds a connection. The returned cancel func removes it and closes the sink; it is safe to call twice.
func (h *Hub) Register(id string) (Sink, func(), error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil, errors.New("push: connection id is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.sinks[id]; exists {
		return nil, nil, ErrDuplicateSink
	}
	ch := make(chan []byte, h.buffer)
	h.sinks[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if current, ok := h.sinks[id]; ok && current == ch {
				delete(h.sinks, id)
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sinks)
}

// Broadcast enqueues msg on every sink without blocking and returns the number of sinks that
// accepted it. Sinks with a full buffer miss the frame.
func (h *Hub) Broadcast(ctx context.Context, msg Message) (int, error) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for id, ch := range h.sinks {
		select {
		case ch <- frame:
			delivered++
		default:
			h.logger(ctx, "push.frame.dropped", map[string]any{"connectionId": observability.SanitizeIdentifier(id), "orderId": msg.OrderID})
		}
	}
	return delivered, nil
}

// PublishOrderEvent turns paid and reminder events into merchant frames. Other events are ignored.
func (h *Hub) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	var msg Message
	switch event.Type {
	case "order.paid":
		msg = Message{Type: TypeNewOrder, OrderID: event.OrderID, Content: "order number: " + event.OrderNumber}
	case "order.reminder":
		msg = Message{Type: TypeReminder, OrderID: event.OrderID, Content: "order number: " + event.OrderNumber}
	default:
		return nil
	}
	_, err := h.Broadcast(ctx, msg)
	return err
}
