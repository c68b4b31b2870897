package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel/metric/noop"
)

const testAudience = "https://api.example.com/internal"

type oidcFixture struct {
	validator *OIDCValidator
	key       *rsa.PrivateKey
	fetches   *atomic.Int32
	now       time.Time
	events    []string
}

func newOIDCFixture(t *testing.T, jwksStatus int) *oidcFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "svc-key", Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}

	fetches := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		if jwksStatus != http.StatusOK {
			w.WriteHeader(jwksStatus)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(server.Close)

	fx := &oidcFixture{key: key, fetches: fetches, now: time.Unix(1_773_489_600, 0)}
	original := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return fx.now }
	t.Cleanup(func() { jwt.TimeFunc = original })

	logger := func(_ context.Context, event string, _ map[string]any) { fx.events = append(fx.events, event) }
	fx.validator = NewOIDCValidator(
		NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return fx.now }), WithJWKSLogger(logger)),
		WithOIDCLogger(logger),
		WithOIDCMeter(noop.NewMeterProvider().Meter("test")),
	)
	return fx
}

func (fx *oidcFixture) sign(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"aud":   testAudience,
		"iss":   "https://accounts.google.com",
		"sub":   "1234567890",
		"email": "scheduler@project.iam.gserviceaccount.com",
		"exp":   float64(fx.now.Add(time.Hour).Unix()),
		"iat":   float64(fx.now.Unix()),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "svc-key"
	signed, err := token.SignedString(fx.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (fx *oidcFixture) serve(token string) (*httptest.ResponseRecorder, *ServiceIdentity) {
	var identity *ServiceIdentity
	handler := fx.validator.RequireOIDC(testAudience, []string{"https://accounts.google.com"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ = ServiceIdentityFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}),
	)
	req := httptest.NewRequest(http.MethodPost, "/internal/sweeps/unpaid", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, identity
}

func TestRequireOIDCAcceptsSchedulerToken(t *testing.T) {
	fx := newOIDCFixture(t, http.StatusOK)

	rec, identity := fx.serve(fx.sign(t, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if identity == nil || identity.Email != "scheduler@project.iam.gserviceaccount.com" || identity.Audience != testAudience {
		t.Fatalf("unexpected identity %+v", identity)
	}

	// Second call is served from cache.
	if rec, _ := fx.serve(fx.sign(t, nil)); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := fx.fetches.Load(); got != 1 {
		t.Fatalf("expected single jwks fetch, got %d", got)
	}
}

func TestRequireOIDCRefetchesAfterMaxAge(t *testing.T) {
	fx := newOIDCFixture(t, http.StatusOK)
	if rec, _ := fx.serve(fx.sign(t, nil)); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	fx.now = fx.now.Add(11 * time.Minute)
	if rec, _ := fx.serve(fx.sign(t, nil)); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := fx.fetches.Load(); got != 2 {
		t.Fatalf("expected refetch after max-age, got %d fetches", got)
	}
}

func TestRequireOIDCRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(jwt.MapClaims)
		token  string
	}{
		{name: "audience mismatch", mutate: func(c jwt.MapClaims) { c["aud"] = "https://other" }},
		{name: "issuer mismatch", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = float64(time.Unix(1_773_489_600, 0).Add(-time.Minute).Unix()) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newOIDCFixture(t, http.StatusOK)
			rec, identity := fx.serve(fx.sign(t, tc.mutate))
			if rec.Code != http.StatusUnauthorized || identity != nil {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}

	fx := newOIDCFixture(t, http.StatusOK)
	if rec, _ := fx.serve(""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", rec.Code)
	}
}

func TestRequireOIDCJWKSUnavailable(t *testing.T) {
	fx := newOIDCFixture(t, http.StatusBadGateway)
	rec, _ := fx.serve(fx.sign(t, nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if len(fx.events) == 0 || fx.events[len(fx.events)-1] != "auth.oidc.rejected" {
		t.Fatalf("expected rejection to be logged, got %v", fx.events)
	}
}

func TestRequireOIDCWithoutAudience(t *testing.T) {
	fx := newOIDCFixture(t, http.StatusOK)
	handler := fx.validator.RequireOIDC("", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/sweeps/unpaid", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestParseMaxAge(t *testing.T) {
	if got := parseMaxAge("public, max-age=19845, must-revalidate"); got != 19845*time.Second {
		t.Fatalf("unexpected max-age %s", got)
	}
	if got := parseMaxAge("no-store"); got != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
}
