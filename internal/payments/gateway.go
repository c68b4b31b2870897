package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrGatewayFailure wraps every failed call to the payment provider.
	ErrGatewayFailure      = errors.New("payments: gateway failure")
	// ErrAlreadyPaid is returned by RequestPrepay when the provider reports the order as settled.
	ErrAlreadyPaid         = errors.New("payments: order already paid")
	// ErrNotificationInvalid is returned when a callback fails verification or is malformed.
	ErrNotificationInvalid = errors.New("payments: invalid notification")
	// ErrNotificationIgnored marks an authentic callback that carries nothing to apply.
	ErrNotificationIgnored = errors.New("payments: notification ignored")
)

// Outcome is the result carried by a verified provider notification.
type Outcome string

const (
	OutcomePaid     Outcome = "paid"
	OutcomeRefunded Outcome = "refunded"
)

// PrepayRequest asks the provider for a client-side payment token.
type PrepayRequest struct {
	OrderNumber string
	Amount      int64
	Currency    string
	Description string
	PayerID     string
	// NotifyURL is forwarded to providers that take a per-request callback address.
	NotifyURL   string
}

// PrepayToken is handed to the client to complete payment.
type PrepayToken struct {
	Provider     string
	IntentID     string
	ClientSecret string
	Status       string
}

// RefundRequest refunds a captured payment in full or in part.
type RefundRequest struct {
	OrderNumber    string
	RefundNumber   string
	RefundAmount   int64
	OriginalAmount int64
	PaymentRef     string
	Reason         string
}

// RefundAck acknowledges an accepted refund.
type RefundAck struct {
	RefundID string
	Status   string
}

// Notification is a verified provider callback.
type Notification struct {
	EventID     string
	OrderNumber string
	PaymentRef  string
	Outcome     Outcome
	OccurredAt  time.Time
}

// Gateway is the payment surface used by the order lifecycle. Calls never touch local state.
type Gateway interface {
	RequestPrepay(ctx context.Context, req PrepayRequest) (PrepayToken, error)
	Refund(ctx context.Context, req RefundRequest) (RefundAck, error)
	VerifyNotification(payload []byte, signature string) (Notification, error)
}

// Manager routes gateway calls to a registered provider.
type Manager struct {
	providers       map[string]Gateway
	defaultProvider string
}

var _ Gateway = (*Manager)(nil)

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when none is named.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Gateway, len(providers))
	for k, v := range providers {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{providers: registered}
	if _, ok := registered["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Provider returns the gateway registered under name, or the default when name is empty.
func (m *Manager) Provider(name string) (string, Gateway, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if key := strings.ToLower(strings.TrimSpace(name)); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
	}
	if p, ok := m.providers[m.defaultProvider]; ok {
		return m.defaultProvider, p, nil
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// RequestPrepay delegates to the default provider.
func (m *Manager) RequestPrepay(ctx context.Context, req PrepayRequest) (PrepayToken, error) {
	key, provider, err := m.Provider("")
	if err != nil {
		return PrepayToken{}, err
	}
	token, err := provider.RequestPrepay(ctx, req)
	if err != nil {
		return PrepayToken{}, err
	}
	token.Provider = key
	return token, nil
}

// Refund delegates to the default provider.
func (m *Manager) Refund(ctx context.Context, req RefundRequest) (RefundAck, error) {
	_, provider, err := m.Provider("")
	if err != nil {
		return RefundAck{}, err
	}
	return provider.Refund(ctx, req)
}

// VerifyNotification delegates to the default provider.
func (m *Manager) VerifyNotification(payload []byte, signature string) (Notification, error) {
	_, provider, err := m.Provider("")
	if err != nil {
		return Notification{}, err
	}
	return provider.VerifyNotification(payload, signature)
}

// ValidateRefund checks the invariants every provider relies on.
func ValidateRefund(req RefundRequest) error {
	switch {
	case strings.TrimSpace(req.OrderNumber) == "":
		return errors.New("payments: refund order number is required")
	case strings.TrimSpace(req.RefundNumber) == "":
		return errors.New("payments: refund number is required")
	case req.RefundAmount <= 0:
		return errors.New("payments: refund amount must be positive")
	case req.OriginalAmount > 0 && req.RefundAmount > req.OriginalAmount:
		return errors.New("payments: refund amount exceeds original amount")
	}
	return nil
}
