package idempotency

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func redisTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("API_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("API_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStoreLifecycle(t *testing.T) {
	client := redisTestClient(t)
	store, err := NewRedisStore(client, WithKeyPrefix("test:idempotency:"+t.Name()+":"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC()
	t.Cleanup(func() { _ = store.Release(ctx, "k") })

	res, err := store.Reserve(ctx, "k", "fp", now, time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v %v", res, err)
	}
	res, err = store.Reserve(ctx, "k", "fp", now, time.Minute)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %+v %v", res, err)
	}
	if _, err := store.Reserve(ctx, "k", "other", now, time.Minute); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	if err := store.Complete(ctx, "k", "fp", Response{Status: 201, Body: []byte("ok")}, now, time.Minute); err != nil {
		t.Fatalf("complete: %v", err)
	}
	res, err = store.Reserve(ctx, "k", "fp", now, time.Minute)
	if err != nil || res.State != ReservationStateCompleted || string(res.Record.ResponseBody) != "ok" {
		t.Fatalf("expected completed replay, got %+v %v", res, err)
	}
}

func TestNewRedisStoreRequiresClient(t *testing.T) {
	if _, err := NewRedisStore(nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}
