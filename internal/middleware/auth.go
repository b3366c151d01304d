// Package middleware contains HTTP middleware for the Textback application.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/calebdavis/textback/internal/auth"
	"github.com/calebdavis/textback/internal/domain"
)

// APIKeyHeader is the request header carrying the tenant API key.
const APIKeyHeader = "X-API-Key"

// BusinessLookup resolves a tenant from an API key hash. Implemented by the
// repository Store.
type BusinessLookup interface {
	GetBusinessByAPIKeyHash(ctx context.Context, hash string) (*domain.Business, error)
}

// AuthMiddleware authenticates tenant API requests.
//
// API keys are random tokens handed out once at signup; only their SHA-256
// hash is stored, so a database leak does not leak usable keys.
type AuthMiddleware struct {
	businesses BusinessLookup
	logger     *slog.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
func NewAuthMiddleware(businesses BusinessLookup, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		businesses: businesses,
		logger:     logger,
	}
}

// RequireBusiness returns middleware that rejects requests without a valid
// API key and injects the authenticated business into the request context.
func (m *AuthMiddleware) RequireBusiness(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		if key == "" {
			m.unauthorized(w, r, "missing API key")
			return
		}

		business, err := m.businesses.GetBusinessByAPIKeyHash(r.Context(), HashAPIKey(key))
		if err != nil {
			if errors.Is(err, domain.ErrBusinessNotFound) {
				m.unauthorized(w, r, "unknown API key")
				return
			}
			m.logger.Error("API key lookup failed", "error", err, "path", r.URL.Path)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		ctx := auth.WithBusiness(r.Context(), business)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) unauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	m.logger.Info("unauthenticated API request",
		"reason", reason,
		"path", r.URL.Path,
		"method", r.Method,
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"A valid API key is required"}}`))
}

// HashAPIKey returns the hex-encoded SHA-256 hash of an API key, the form
// keys are stored in.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Stack composes middlewares so the first argument is the outermost wrapper.
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
