package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/skydish/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-1"})

	rec := httptest.NewRecorder()
	WriteError(ctx, rec, NewError("order_status", "order cannot be confirmed\n", http.StatusConflict).
		WithDetails(map[string]any{"orderId": "ord_1"}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "order_status" || body["message"] != "order cannot be confirmed" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["request_id"] != "req-1" || body["trace_id"] != "trace-1" || body["orderId"] != "ord_1" {
		t.Fatalf("unexpected envelope %v", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		AddressID string `json:"addressId"`
	}

	var dst payload
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"addressId":"addr-1"}`))
	if err := DecodeJSON(req, 0, &dst); err != nil || dst.AddressID != "addr-1" {
		t.Fatalf("unexpected result %+v %v", dst, err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"addressId":"a","extra":1}`))
	if err := DecodeJSON(req, 0, &dst); err == nil {
		t.Fatal("expected unknown field error")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"addressId":"a"} {}`))
	if err := DecodeJSON(req, 0, &dst); err == nil {
		t.Fatal("expected trailing data error")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"addressId":"`+strings.Repeat("x", 64)+`"}`))
	if err := DecodeJSON(req, 16, &dst); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	dst = payload{AddressID: "keep"}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("  "))
	if err := DecodeJSON(req, 0, &dst); err != nil || dst.AddressID != "keep" {
		t.Fatalf("expected empty body to be ignored, got %+v %v", dst, err)
	}
}
