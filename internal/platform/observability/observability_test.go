package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/skydish/api/internal/platform/requestctx"
)

func TestEventLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(core))

	log(context.Background(), "order.submitted", map[string]any{"orderId": "ord_1", "amount": int64(4250)})
	log(context.Background(), "sweeper.order.failed", map[string]any{"error": "boom"})

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.ErrorLevel {
		t.Fatalf("unexpected levels %s %s", entries[0].Level, entries[1].Level)
	}
	fields := entries[0].ContextMap()
	if fields["event"] != "order.submitted" || fields["orderId"] != "ord_1" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.DebugLevel)
	requestCore, requestLogs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(fallbackCore))

	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	log(ctx, "cart.cleared", nil)

	if fallbackLogs.Len() != 0 || requestLogs.Len() != 1 {
		t.Fatalf("expected request logger to be used, fallback=%d request=%d", fallbackLogs.Len(), requestLogs.Len())
	}
}

func TestRequestLoggerRecordsStatusAndUser(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := InjectLoggerMiddleware(zap.New(core))(
		RequestLoggerMiddleware("test-project")(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				AttachUserID(w, "user-1")
				w.WriteHeader(http.StatusConflict)
			}),
		),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders", nil))

	completed := logs.FilterMessage("request completed").AllUntimed()
	if len(completed) != 1 {
		t.Fatalf("expected completion log, got %d", len(completed))
	}
	entry := completed[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for 409, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["user_id"] != "user-1" || fields["status"] != int64(http.StatusConflict) {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestResponseRecorderFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	recorder := newResponseRecorder(rec)
	var w http.ResponseWriter = recorder
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("recorder must implement http.Flusher")
	}
	_, _ = w.Write([]byte("data: hi\n\n"))
	flusher.Flush()
	if !rec.Flushed {
		t.Fatal("expected underlying writer to be flushed")
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	info, spanCtx, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if info.TraceID != "105445aa7843bc8bf206b12000100000" || !info.Sampled || !spanCtx.IsRemote() {
		t.Fatalf("unexpected trace info %+v", info)
	}
	if _, _, ok := parseCloudTraceContext("garbage"); ok {
		t.Fatal("expected malformed header to be rejected")
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	long := string(bytes.Repeat([]byte("a"), 80))
	cases := []struct {
		in   string
		want string
	}{
		{in: " tab-1 ", want: "tab-1"},
		{in: "evt_1\nfake=entry", want: "evt_1fake=entry"},
		{in: "N2026\r\x00", want: "N2026"},
		{in: long, want: long[:64]},
	}
	for _, tc := range cases {
		if got := SanitizeIdentifier(tc.in); got != tc.want {
			t.Fatalf("SanitizeIdentifier(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
