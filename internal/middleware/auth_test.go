package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calebdavis/textback/internal/auth"
	"github.com/calebdavis/textback/internal/domain"
	"github.com/google/uuid"
)

// =============================================================================
// Mock BusinessLookup Implementation
// =============================================================================

// mockBusinessLookup implements the BusinessLookup interface for testing.
type mockBusinessLookup struct {
	GetBusinessByAPIKeyHashFunc func(ctx context.Context, hash string) (*domain.Business, error)
}

func (m *mockBusinessLookup) GetBusinessByAPIKeyHash(ctx context.Context, hash string) (*domain.Business, error) {
	if m.GetBusinessByAPIKeyHashFunc != nil {
		return m.GetBusinessByAPIKeyHashFunc(ctx, hash)
	}
	return nil, errors.New("not implemented")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// RequireBusiness Tests
// =============================================================================

func TestRequireBusiness_ValidKey(t *testing.T) {
	business := &domain.Business{ID: uuid.New(), Name: "Sunset Dental"}
	lookup := &mockBusinessLookup{
		GetBusinessByAPIKeyHashFunc: func(ctx context.Context, hash string) (*domain.Business, error) {
			if hash != HashAPIKey("tk_live_abc123") {
				t.Errorf("hash = %q, want hash of the presented key", hash)
			}
			return business, nil
		},
	}
	mw := NewAuthMiddleware(lookup, testLogger())

	var gotBusiness *domain.Business
	handler := mw.RequireBusiness(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBusiness = auth.GetBusiness(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/usage", nil)
	req.Header.Set(APIKeyHeader, "tk_live_abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotBusiness == nil || gotBusiness.ID != business.ID {
		t.Errorf("business in context = %+v, want %s", gotBusiness, business.ID)
	}
}

func TestRequireBusiness_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		lookupErr  error
		wantStatus int
	}{
		{
			name:       "missing key",
			key:        "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unknown key",
			key:        "tk_live_wrong",
			lookupErr:  domain.ErrBusinessNotFound,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "lookup failure",
			key:        "tk_live_abc123",
			lookupErr:  errors.New("connection refused"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &mockBusinessLookup{
				GetBusinessByAPIKeyHashFunc: func(ctx context.Context, hash string) (*domain.Business, error) {
					return nil, tt.lookupErr
				},
			}
			mw := NewAuthMiddleware(lookup, testLogger())

			nextCalled := false
			handler := mw.RequireBusiness(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
			}))

			req := httptest.NewRequest("GET", "/api/usage", nil)
			if tt.key != "" {
				req.Header.Set(APIKeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if nextCalled {
				t.Error("next handler called on rejected request")
			}
		})
	}
}

func TestHashAPIKey(t *testing.T) {
	// Deterministic and never the raw key.
	h1 := HashAPIKey("tk_live_abc123")
	h2 := HashAPIKey("tk_live_abc123")
	if h1 != h2 {
		t.Error("hash is not deterministic")
	}
	if h1 == "tk_live_abc123" {
		t.Error("hash equals the raw key")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
	if HashAPIKey("other") == h1 {
		t.Error("different keys produced the same hash")
	}
}

// =============================================================================
// Stack Tests
// =============================================================================

func TestStack_Order(t *testing.T) {
	var order []string
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Stack(tag("outer"), tag("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if len(order) != 3 || order[0] != "outer" || order[1] != "inner" || order[2] != "handler" {
		t.Errorf("execution order = %v, want [outer inner handler]", order)
	}
}
