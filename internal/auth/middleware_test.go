package auth

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"greenthread/internal/observability/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		w.Header().Set("X-User", identity.UserID)
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	mw := NewMiddleware([]byte("test-secret"), NewDefaultPolicy(nil, nil))
	resp := httptest.NewRecorder()
	mw.Wrap(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/data/current", nil))
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.JSONEq(t, `{"error":"Unauthorized"}`, resp.Body.String())
}

func TestAuthMiddleware_BearerAndCookie(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, "authenticated", time.Hour)
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/data/current", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "user-1", resp.Header().Get("X-User"))

	req = httptest.NewRequest(http.MethodGet, "/ai/explain", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestAuthMiddleware_RejectsExpiredAndForeignTokens(t *testing.T) {
	secret := []byte("test-secret")
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	for _, token := range []string{
		mustToken(t, secret, "authenticated", -time.Minute),
		mustToken(t, []byte("other-secret"), "authenticated", time.Hour),
		mustToken(t, secret, "anon", time.Hour),
	} {
		req := httptest.NewRequest(http.MethodGet, "/audit/transactions", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	}
}

func TestAuthMiddleware_PublicRoutesPassThrough(t *testing.T) {
	handler := NewMiddleware([]byte("test-secret"), NewDefaultPolicy([]string{"/healthz"}, nil)).Wrap(okHandler())
	for _, path := range []string{"/healthz", "/auth/login", "/auth/register", "/data/webhooks"} {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, path, nil))
		require.Equal(t, http.StatusOK, resp.Code, path)
	}
}

func TestWebhookSecretMiddleware(t *testing.T) {
	called := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	})

	cases := []struct {
		configured string
		header     string
		want       int
	}{
		{configured: "s3cret", header: "s3cret", want: http.StatusOK},
		{configured: "s3cret", header: "wrong", want: http.StatusUnauthorized},
		{configured: "s3cret", header: "", want: http.StatusUnauthorized},
		{configured: "", header: "", want: http.StatusUnauthorized},
		{configured: " padded ", header: " padded ", want: http.StatusOK},
		{configured: "s3cret", header: " s3cret ", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/data/webhooks", strings.NewReader(`{}`))
		if tc.header != "" {
			req.Header.Set(WebhookSecretHeader, tc.header)
		}
		resp := httptest.NewRecorder()
		NewWebhookSecretMiddleware(tc.configured).Wrap(next).ServeHTTP(resp, req)
		require.Equal(t, tc.want, resp.Code)
	}
	require.Equal(t, 2, called)
}

func TestWebhookSecretMiddleware_CountsRejections(t *testing.T) {
	metrics.Init(nil, log.New(io.Discard, "", 0))
	before := webhookRequests(t, metrics.IngestResultUnauthorized)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := NewWebhookSecretMiddleware("s3cret").Wrap(next)
	for _, header := range []string{"", "wrong", "s3cret"} {
		req := httptest.NewRequest(http.MethodPost, "/data/webhooks", strings.NewReader(`{}`))
		if header != "" {
			req.Header.Set(WebhookSecretHeader, header)
		}
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Equal(t, before+2, webhookRequests(t, metrics.IngestResultUnauthorized))
}

func webhookRequests(t *testing.T, result string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "greenthread_webhook_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func mustToken(t *testing.T, secret []byte, role string, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		Email: "operator@example.com",
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}
