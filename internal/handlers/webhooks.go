package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/skydish/api/internal/payments"
	"github.com/skydish/api/internal/platform/httpx"
	"github.com/skydish/api/internal/platform/observability"
	"github.com/skydish/api/internal/services"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// NotificationVerifier authenticates a raw provider callback.
type NotificationVerifier interface {
	VerifyNotification(payload []byte, signature string) (payments.Notification, error)
}

type webhookAck struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

// PaymentWebhookHandlers receives payment provider callbacks.
type PaymentWebhookHandlers struct {
	verifier NotificationVerifier
	orders   services.OrderService
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// WebhookOption customises webhook handlers.
type WebhookOption func(*PaymentWebhookHandlers)

// WithWebhookLogger sets the event logger.
func WithWebhookLogger(logger func(ctx context.Context, event string, fields map[string]any)) WebhookOption {
	return func(h *PaymentWebhookHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewPaymentWebhookHandlers constructs webhook handlers.
func NewPaymentWebhookHandlers(verifier NotificationVerifier, orders services.OrderService, opts ...WebhookOption) *PaymentWebhookHandlers {
	h := &PaymentWebhookHandlers{
		verifier: verifier,
		orders:   orders,
		logger:   func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /webhooks/payments endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.stripe)
}

// stripe acknowledges everything it cannot act on so the provider stops retrying.
// Store outages and version conflicts answer non-2xx to get a redelivery.
func (h *PaymentWebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.orders == nil {
		writeServiceUnavailable(ctx, w, "payment_webhook")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	signature := strings.TrimSpace(r.Header.Get(stripeSignatureHeader))
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "missing signature header", http.StatusBadRequest))
		return
	}

	notice, err := h.verifier.VerifyNotification(payload, signature)
	switch {
	case errors.Is(err, payments.ErrNotificationIgnored):
		h.logger(ctx, "webhook.stripe.ignored", map[string]any{"reason": err.Error()})
		httpx.WriteJSON(w, http.StatusOK, webhookAck{Status: "ignored"})
		return
	case err != nil:
		h.logger(ctx, "webhook.stripe.rejected", map[string]any{"error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "notification could not be verified", http.StatusBadRequest))
		return
	}

	fields := map[string]any{
		"eventId":     observability.SanitizeIdentifier(notice.EventID),
		"orderNumber": observability.SanitizeIdentifier(notice.OrderNumber),
		"outcome":     string(notice.Outcome),
	}
	_, err = h.orders.ApplyPaymentNotification(ctx, notice)
	switch {
	case err == nil:
		h.logger(ctx, "webhook.stripe.applied", fields)
		httpx.WriteJSON(w, http.StatusOK, webhookAck{Status: "applied", EventID: notice.EventID})
	case errors.Is(err, services.ErrOrderStatus), errors.Is(err, services.ErrOrderNotFound):
		fields["error"] = err.Error()
		h.logger(ctx, "webhook.stripe.unmatched", fields)
		httpx.WriteJSON(w, http.StatusOK, webhookAck{Status: "ignored", EventID: notice.EventID})
	default:
		fields["error"] = err.Error()
		h.logger(ctx, "webhook.stripe.failed", fields)
		writeOrderError(ctx, w, err)
	}
}
