package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/calebdavis/textback/internal/auth"
	"github.com/calebdavis/textback/internal/domain"
	"github.com/calebdavis/textback/internal/service"
	"github.com/google/uuid"
)

// =============================================================================
// Mock Service Implementations
// =============================================================================

// mockSendService implements the service.SendService interface for testing.
type mockSendService struct {
	SendTestFunc func(ctx context.Context, businessID uuid.UUID, phone, message string) (*service.TestSendResult, error)
}

func (m *mockSendService) SendTest(ctx context.Context, businessID uuid.UUID, phone, message string) (*service.TestSendResult, error) {
	if m.SendTestFunc != nil {
		return m.SendTestFunc(ctx, businessID, phone, message)
	}
	return nil, errors.New("not implemented")
}

// mockQuotaService implements the service.QuotaService interface for testing.
// Handlers only read usage; reservation paths go through the send service.
type mockQuotaService struct {
	GetUsageFunc func(ctx context.Context, businessID uuid.UUID) (*domain.UsageStats, error)
}

func (m *mockQuotaService) Reserve(ctx context.Context, businessID uuid.UUID, count int) (*service.Reservation, error) {
	return nil, errors.New("not implemented")
}

func (m *mockQuotaService) ReserveBulk(ctx context.Context, businessID uuid.UUID, requested int) (*service.BulkReservation, error) {
	return nil, errors.New("not implemented")
}

func (m *mockQuotaService) GetUsage(ctx context.Context, businessID uuid.UUID) (*domain.UsageStats, error) {
	if m.GetUsageFunc != nil {
		return m.GetUsageFunc(ctx, businessID)
	}
	return nil, errors.New("not implemented")
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	business := &domain.Business{
		ID:                 uuid.New(),
		SubscriptionStatus: domain.SubscriptionStatusActive,
	}
	return req.WithContext(auth.WithBusiness(req.Context(), business))
}

// =============================================================================
// Test Send Endpoint Tests
// =============================================================================

func TestHandleTestSend_Success(t *testing.T) {
	sends := &mockSendService{
		SendTestFunc: func(ctx context.Context, businessID uuid.UUID, phone, message string) (*service.TestSendResult, error) {
			if phone != "+15551234567" || message != "hello" {
				t.Errorf("SendTest(%q, %q), want +15551234567/hello", phone, message)
			}
			return &service.TestSendResult{ProviderMessageID: "SM123", Remaining: 489}, nil
		},
	}
	h := NewSendHandler(sends, &mockQuotaService{}, testLogger())

	req := authedRequest("POST", "/api/sms/test", `{"phone":"+15551234567","message":"hello"}`)
	rec := httptest.NewRecorder()
	h.HandleTestSend(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	var result service.TestSendResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if result.ProviderMessageID != "SM123" || result.Remaining != 489 {
		t.Errorf("result = %+v, want SM123/489", result)
	}
}

func TestHandleTestSend_QuotaDenied(t *testing.T) {
	sends := &mockSendService{
		SendTestFunc: func(ctx context.Context, businessID uuid.UUID, phone, message string) (*service.TestSendResult, error) {
			return nil, domain.LimitReached("quota.reserve", 0, 1)
		},
	}
	h := NewSendHandler(sends, &mockQuotaService{}, testLogger())

	req := authedRequest("POST", "/api/sms/test", `{"phone":"+15551234567","message":"hello"}`)
	rec := httptest.NewRecorder()
	h.HandleTestSend(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "monthly SMS limit") {
		t.Errorf("body missing upgrade guidance: %s", rec.Body.String())
	}
}

func TestHandleTestSend_InvalidJSON(t *testing.T) {
	h := NewSendHandler(&mockSendService{}, &mockQuotaService{}, testLogger())

	req := authedRequest("POST", "/api/sms/test", `{not json`)
	rec := httptest.NewRecorder()
	h.HandleTestSend(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleTestSend_Unauthenticated(t *testing.T) {
	h := NewSendHandler(&mockSendService{}, &mockQuotaService{}, testLogger())

	req := httptest.NewRequest("POST", "/api/sms/test", strings.NewReader(`{"phone":"+15551234567","message":"hi"}`))
	rec := httptest.NewRecorder()
	h.HandleTestSend(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

// =============================================================================
// Usage Endpoint Tests
// =============================================================================

func TestHandleUsage(t *testing.T) {
	quota := &mockQuotaService{
		GetUsageFunc: func(ctx context.Context, businessID uuid.UUID) (*domain.UsageStats, error) {
			return &domain.UsageStats{Count: 42, Limit: 500, Remaining: 458}, nil
		},
	}
	h := NewSendHandler(&mockSendService{}, quota, testLogger())

	req := authedRequest("GET", "/api/usage", "")
	rec := httptest.NewRecorder()
	h.HandleUsage(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats domain.UsageStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if stats.Count != 42 || stats.Limit != 500 || stats.Remaining != 458 {
		t.Errorf("stats = %+v, want 42/500/458", stats)
	}
}

func TestHandleUsage_UnknownBusiness(t *testing.T) {
	quota := &mockQuotaService{
		GetUsageFunc: func(ctx context.Context, businessID uuid.UUID) (*domain.UsageStats, error) {
			return nil, domain.NotFound("quota.get_usage", "business", businessID.String())
		},
	}
	h := NewSendHandler(&mockSendService{}, quota, testLogger())

	req := authedRequest("GET", "/api/usage", "")
	rec := httptest.NewRecorder()
	h.HandleUsage(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
