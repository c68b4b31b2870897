package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

const testWebhookSecret = "whsec_test"

type stubIntentAPI struct {
	newFn func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	last  *stripe.PaymentIntentParams
}

func (s *stubIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	s.last = params
	if s.newFn != nil {
		return s.newFn(params)
	}
	return &stripe.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret", Status: stripe.PaymentIntentStatusRequiresPaymentMethod}, nil
}

type stubRefundAPI struct {
	newFn func(*stripe.RefundParams) (*stripe.Refund, error)
	last  *stripe.RefundParams
}

func (s *stubRefundAPI) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	s.last = params
	if s.newFn != nil {
		return s.newFn(params)
	}
	return &stripe.Refund{ID: "re_123", Status: stripe.RefundStatusSucceeded}, nil
}

func newTestStripeProvider(t *testing.T, intents *stubIntentAPI, refunds *stubRefundAPI) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		WebhookSecret: testWebhookSecret,
		Clients:       &stripeClients{intents: intents, refunds: refunds},
	})
	if err != nil {
		t.Fatalf("new stripe provider: %v", err)
	}
	return provider
}

func signedPayload(t *testing.T, payload string) (string, []byte) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Header, signed.Payload
}

func TestNewStripeProviderValidatesConfig(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{WebhookSecret: "x"}); err == nil {
		t.Fatal("expected error without api key")
	}
	if _, err := NewStripeProvider(StripeProviderConfig{APIKey: "sk_test"}); err == nil {
		t.Fatal("expected error without webhook secret")
	}
}

func TestStripeRequestPrepay(t *testing.T) {
	intents := &stubIntentAPI{}
	provider := newTestStripeProvider(t, intents, &stubRefundAPI{})

	token, err := provider.RequestPrepay(context.Background(), PrepayRequest{
		OrderNumber: "1700000000000ABCDEF",
		Amount:      2599,
		Currency:    "CNY",
		PayerID:     "user-1",
	})
	if err != nil {
		t.Fatalf("request prepay: %v", err)
	}
	if token.IntentID != "pi_123" || token.ClientSecret != "pi_123_secret" {
		t.Fatalf("unexpected token %+v", token)
	}
	if intents.last == nil || *intents.last.Amount != 2599 || *intents.last.Currency != "cny" {
		t.Fatalf("unexpected params %+v", intents.last)
	}
	if got := intents.last.Metadata[metadataOrderNumber]; got != "1700000000000ABCDEF" {
		t.Fatalf("expected order number metadata, got %q", got)
	}
	if intents.last.IdempotencyKey == nil || *intents.last.IdempotencyKey != "prepay:1700000000000ABCDEF" {
		t.Fatalf("unexpected idempotency key")
	}
}

func TestStripeRequestPrepayAlreadyPaid(t *testing.T) {
	intents := &stubIntentAPI{newFn: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		return &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusSucceeded}, nil
	}}
	provider := newTestStripeProvider(t, intents, &stubRefundAPI{})
	_, err := provider.RequestPrepay(context.Background(), PrepayRequest{OrderNumber: "1", Amount: 1, Currency: "cny"})
	if !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
}

func TestStripeRequestPrepayFailure(t *testing.T) {
	intents := &stubIntentAPI{newFn: func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		return nil, errors.New("network")
	}}
	provider := newTestStripeProvider(t, intents, &stubRefundAPI{})
	_, err := provider.RequestPrepay(context.Background(), PrepayRequest{OrderNumber: "1", Amount: 1, Currency: "cny"})
	if !errors.Is(err, ErrGatewayFailure) {
		t.Fatalf("expected ErrGatewayFailure, got %v", err)
	}
}

func TestStripeRefund(t *testing.T) {
	refunds := &stubRefundAPI{}
	provider := newTestStripeProvider(t, &stubIntentAPI{}, refunds)

	ack, err := provider.Refund(context.Background(), RefundRequest{
		OrderNumber:    "N1",
		RefundNumber:   "N1",
		RefundAmount:   800,
		OriginalAmount: 800,
		PaymentRef:     "pi_9",
		Reason:         "user cancelled",
	})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if ack.RefundID != "re_123" {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if *refunds.last.PaymentIntent != "pi_9" || *refunds.last.Amount != 800 {
		t.Fatalf("unexpected refund params")
	}
	if *refunds.last.Reason != string(stripe.RefundReasonRequestedByCustomer) {
		t.Fatalf("unexpected reason %q", *refunds.last.Reason)
	}
	if *refunds.last.IdempotencyKey != "refund:N1" {
		t.Fatalf("unexpected idempotency key %q", *refunds.last.IdempotencyKey)
	}
}

func TestStripeRefundFailures(t *testing.T) {
	provider := newTestStripeProvider(t, &stubIntentAPI{}, &stubRefundAPI{newFn: func(*stripe.RefundParams) (*stripe.Refund, error) {
		return &stripe.Refund{ID: "re_1", Status: stripe.RefundStatusFailed}, nil
	}})
	req := RefundRequest{OrderNumber: "N1", RefundNumber: "N1", RefundAmount: 1, PaymentRef: "pi_1"}
	if _, err := provider.Refund(context.Background(), req); !errors.Is(err, ErrGatewayFailure) {
		t.Fatalf("expected ErrGatewayFailure for failed refund, got %v", err)
	}

	req.PaymentRef = ""
	if _, err := provider.Refund(context.Background(), req); !errors.Is(err, ErrGatewayFailure) {
		t.Fatalf("expected ErrGatewayFailure without payment ref, got %v", err)
	}
}

func TestStripeVerifyPaymentSucceeded(t *testing.T) {
	provider := newTestStripeProvider(t, &stubIntentAPI{}, &stubRefundAPI{})
	header, payload := signedPayload(t, `{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"created": 1700000000,
		"data": {"object": {"id": "pi_1", "object": "payment_intent", "status": "succeeded", "metadata": {"order_number": "N1"}}}
	}`)

	note, err := provider.VerifyNotification(payload, header)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if note.Outcome != OutcomePaid || note.OrderNumber != "N1" || note.PaymentRef != "pi_1" || note.EventID != "evt_1" {
		t.Fatalf("unexpected notification %+v", note)
	}
}

func TestStripeVerifyChargeRefunded(t *testing.T) {
	provider := newTestStripeProvider(t, &stubIntentAPI{}, &stubRefundAPI{})
	header, payload := signedPayload(t, `{
		"id": "evt_2",
		"object": "event",
		"type": "charge.refunded",
		"created": 1700000000,
		"data": {"object": {"id": "ch_1", "object": "charge", "refunded": true, "payment_intent": "pi_1", "metadata": {}}}
	}`)

	note, err := provider.VerifyNotification(payload, header)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if note.Outcome != OutcomeRefunded || note.PaymentRef != "pi_1" {
		t.Fatalf("unexpected notification %+v", note)
	}
}

func TestStripeVerifyRejectsBadSignatureAndUnknownEvents(t *testing.T) {
	provider := newTestStripeProvider(t, &stubIntentAPI{}, &stubRefundAPI{})
	if _, err := provider.VerifyNotification([]byte(`{"id":"evt"}`), "t=1,v1=bad"); !errors.Is(err, ErrNotificationInvalid) {
		t.Fatalf("expected ErrNotificationInvalid for bad signature, got %v", err)
	}

	header, payload := signedPayload(t, `{"id":"evt_3","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	if _, err := provider.VerifyNotification(payload, header); !errors.Is(err, ErrNotificationIgnored) {
		t.Fatalf("expected ErrNotificationIgnored for unhandled event, got %v", err)
	}
}
