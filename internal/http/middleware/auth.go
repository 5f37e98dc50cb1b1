package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"
)

type contextKey string

const APIKeyKey contextKey = "api_key"

// APIKeyHeader carries the caller's NASA API key.
const APIKeyHeader = "X-API-KEY"

// RequireAPIKey rejects requests whose X-API-KEY does not match key. The
// accepted key is stored in the request context for forwarding upstream.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(APIKeyHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				hlog.FromRequest(r).Warn().Str("remote", r.RemoteAddr).Msg("rejected request with bad api key")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusUnauthorized,
					"message": "Api key not valid",
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), APIKeyKey, got)))
		})
	}
}

// APIKey returns the key accepted by RequireAPIKey.
func APIKey(ctx context.Context) string {
	key, _ := ctx.Value(APIKeyKey).(string)
	return key
}
