package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/taskpulse/backend/internal/models"
)

type contextKey string

const ctxAPIKey contextKey = "api_key"

// APIKeyLookup is the interface used by API key auth middleware.
type APIKeyLookup interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*models.APIKey, error)
}

// APIKeyAuth authenticates requests by hashing the Bearer token (SHA-256)
// and looking it up in api_keys. On success it sets the key into request
// context.
func APIKeyAuth(keys APIKeyLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				unauthorized(w, "missing or malformed Authorization header")
				return
			}

			key, err := keys.FindByKeyHash(r.Context(), HashKey(raw))
			if err != nil {
				unauthorized(w, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), ctxAPIKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// KeyFromCtx returns the authenticated API key or nil.
func KeyFromCtx(ctx context.Context) *models.APIKey {
	k, _ := ctx.Value(ctxAPIKey).(*models.APIKey)
	return k
}

// WithKey returns a context carrying the given API key.
func WithKey(ctx context.Context, k *models.APIKey) context.Context {
	return context.WithValue(ctx, ctxAPIKey, k)
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"` + models.CodeInvalidAPIKey + `","message":"` + msg + `"}}`))
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// HashKey returns the hex SHA-256 digest of a raw API key secret.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
