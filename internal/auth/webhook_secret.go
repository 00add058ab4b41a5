package auth

import (
	"crypto/subtle"
	"net/http"
	"time"

	"greenthread/internal/observability/metrics"
)

// WebhookSecretHeader carries the shared ingestion secret.
const WebhookSecretHeader = "x-webhook-secret"

// WebhookSecretMiddleware admits requests carrying the shared secret.
type WebhookSecretMiddleware struct {
	Secret []byte
}

// NewWebhookSecretMiddleware constructs the middleware.
func NewWebhookSecretMiddleware(secret string) *WebhookSecretMiddleware {
	return &WebhookSecretMiddleware{Secret: []byte(secret)}
}

// Wrap rejects the request with 401 before the body is read when the
// secret is missing, wrong or not configured. The header is compared
// byte for byte.
func (m *WebhookSecretMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if m == nil || len(m.Secret) == 0 {
			reject(w, start)
			return
		}
		provided := r.Header.Get(WebhookSecretHeader)
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), m.Secret) != 1 {
			reject(w, start)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func reject(w http.ResponseWriter, start time.Time) {
	metrics.ObserveIngest(metrics.IngestResultUnauthorized, 0, time.Since(start))
	writeUnauthorized(w)
}
