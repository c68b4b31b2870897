package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/skydish/api/internal/domain"
	"github.com/skydish/api/internal/services"
)

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurred := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:           "order.paid",
		OrderID:        "ord_1",
		OrderNumber:    "1773489600000ABCDEF",
		PreviousStatus: domain.OrderStatusPendingPayment,
		CurrentStatus:  domain.OrderStatusToBeConfirmed,
		ActorID:        "payment-gateway",
		OccurredAt:     occurred,
		Metadata:       map[string]any{"action": "paid"},
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.Attributes["eventType"] != "order.paid" || msg.Attributes["orderId"] != "ord_1" {
		t.Fatalf("unexpected attributes %v", msg.Attributes)
	}
	if msg.Attributes["status"] != "to_be_confirmed" {
		t.Fatalf("expected status attribute, got %q", msg.Attributes["status"])
	}

	var body OrderEventMessage
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.PreviousStatus != 1 || body.CurrentStatus != 2 || !body.OccurredAt.Equal(occurred) {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestNewPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
