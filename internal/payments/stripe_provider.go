package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	metadataOrderNumber  = "order_number"
	metadataPayerID      = "payer_id"
	metadataRefundNumber = "refund_number"
	metadataNotifyURL    = "notify_url"

	stripeEventIntentSucceeded = "payment_intent.succeeded"
	stripeEventChargeRefunded  = "charge.refunded"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey           string
	WebhookSecret    string
	AccountID        string
	Backends         *stripe.Backends
	WebhookTolerance time.Duration
	Logger           StripeLogger
	Clients          *stripeClients
}

// StripeProvider implements Gateway with PaymentIntents and Refunds.
type StripeProvider struct {
	api           stripeClients
	account       string
	webhookSecret string
	tolerance     time.Duration
	logger        StripeLogger
}

var _ Gateway = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe gateway using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{intents: sc.PaymentIntents, refunds: sc.Refunds}
	}
	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	return &StripeProvider{
		api:           clients,
		account:       strings.TrimSpace(cfg.AccountID),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		tolerance:     tolerance,
		logger:        logger,
	}, nil
}

// RequestPrepay creates (or, under the same idempotency key, re-reads) a PaymentIntent for the order.
func (p *StripeProvider) RequestPrepay(ctx context.Context, req PrepayRequest) (PrepayToken, error) {
	if strings.TrimSpace(req.OrderNumber) == "" {
		return PrepayToken{}, errors.New("stripe: order number is required")
	}
	if req.Amount <= 0 {
		return PrepayToken{}, errors.New("stripe: amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{metadataOrderNumber: req.OrderNumber},
	}
	params.Context = ctx
	params.SetIdempotencyKey("prepay:" + req.OrderNumber)
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.PayerID != "" {
		params.Metadata[metadataPayerID] = req.PayerID
	}
	// Stripe delivers webhooks to account-level endpoints; the URL is kept for reconciliation only.
	if req.NotifyURL != "" {
		params.Metadata[metadataNotifyURL] = req.NotifyURL
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return PrepayToken{}, fmt.Errorf("%w: stripe: create payment intent: %v", ErrGatewayFailure, err)
	}
	if intent.Status == stripe.PaymentIntentStatusSucceeded {
		return PrepayToken{}, ErrAlreadyPaid
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"orderNumber":   req.OrderNumber,
		"status":        intent.Status,
	})
	return PrepayToken{
		Provider:     "stripe",
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
	}, nil
}

// Refund refunds the PaymentIntent recorded on the order. The refund number doubles as idempotency key.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundAck, error) {
	if err := ValidateRefund(req); err != nil {
		return RefundAck{}, err
	}
	if strings.TrimSpace(req.PaymentRef) == "" {
		return RefundAck{}, fmt.Errorf("%w: stripe: payment reference missing for order %s", ErrGatewayFailure, req.OrderNumber)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentRef),
		Amount:        stripe.Int64(req.RefundAmount),
		Metadata: map[string]string{
			metadataOrderNumber:  req.OrderNumber,
			metadataRefundNumber: req.RefundNumber,
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund:" + req.RefundNumber)
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return RefundAck{}, fmt.Errorf("%w: stripe: refund payment intent: %v", ErrGatewayFailure, err)
	}
	if refund.Status == stripe.RefundStatusFailed || refund.Status == stripe.RefundStatusCanceled {
		return RefundAck{}, fmt.Errorf("%w: stripe: refund %s is %s", ErrGatewayFailure, refund.ID, refund.Status)
	}

	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": req.PaymentRef,
		"refund":        refund.ID,
		"orderNumber":   req.OrderNumber,
		"status":        refund.Status,
	})
	return RefundAck{RefundID: refund.ID, Status: string(refund.Status)}, nil
}

// VerifyNotification checks the Stripe-Signature header and maps the event to an Outcome.
func (p *StripeProvider) VerifyNotification(payload []byte, signature string) (Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrNotificationInvalid, err)
	}
	if event.Data == nil {
		return Notification{}, fmt.Errorf("%w: event %s has no data", ErrNotificationInvalid, event.ID)
	}

	note := Notification{
		EventID:    event.ID,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	switch string(event.Type) {
	case stripeEventIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return Notification{}, fmt.Errorf("%w: decode payment intent: %v", ErrNotificationInvalid, err)
		}
		note.Outcome = OutcomePaid
		note.PaymentRef = intent.ID
		note.OrderNumber = intent.Metadata[metadataOrderNumber]
		if note.OrderNumber == "" {
			return Notification{}, fmt.Errorf("%w: payment intent %s has no order number", ErrNotificationInvalid, intent.ID)
		}
	case stripeEventChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return Notification{}, fmt.Errorf("%w: decode charge: %v", ErrNotificationInvalid, err)
		}
		if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
			return Notification{}, fmt.Errorf("%w: charge %s has no payment intent", ErrNotificationInvalid, charge.ID)
		}
		if !charge.Refunded {
			return Notification{}, fmt.Errorf("%w: charge %s only partially refunded", ErrNotificationIgnored, charge.ID)
		}
		note.Outcome = OutcomeRefunded
		note.PaymentRef = charge.PaymentIntent.ID
		note.OrderNumber = charge.Metadata[metadataOrderNumber]
	default:
		return Notification{}, fmt.Errorf("%w: unhandled event type %s", ErrNotificationIgnored, event.Type)
	}
	return note, nil
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case "", "user cancelled", string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
