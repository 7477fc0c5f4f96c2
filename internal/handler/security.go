package handler

import (
	"net/http"

	"github.com/oakmart/checkout/internal/auth"
)

// Request headers used by the API. The user identity header is set by the
// storefront gateway after session validation; the service itself never
// authenticates shoppers.
const (
	apiKeyHeader = "api_key"
	userIDHeader = "X-User-ID"
)

// RequireAPIKey rejects requests that do not carry a valid API key in the
// api_key header.
func RequireAPIKey(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(apiKeyHeader)
			if key == "" {
				respondError(w, http.StatusUnauthorized, "missing api key", "")
				return
			}
			if _, err := verifier.Verify(r.Context(), key); err != nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
