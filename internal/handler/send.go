// Package handler contains HTTP handlers for the Textback API.
//
// Routes:
//   - POST /api/sms/test  -> SendHandler.HandleTestSend
//   - GET  /api/usage     -> SendHandler.HandleUsage
//
// Both routes require tenant API-key authentication.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/calebdavis/textback/internal/auth"
	"github.com/calebdavis/textback/internal/domain"
	"github.com/calebdavis/textback/internal/service"
)

// SendHandler handles single test sends and usage reads.
type SendHandler struct {
	sends  service.SendService
	quota  service.QuotaService
	logger *slog.Logger
}

// NewSendHandler creates a new SendHandler.
func NewSendHandler(sends service.SendService, quota service.QuotaService, logger *slog.Logger) *SendHandler {
	return &SendHandler{
		sends:  sends,
		quota:  quota,
		logger: logger,
	}
}

// RegisterRoutes registers send routes on the provided mux. The caller
// wraps them with the auth middleware.
func (h *SendHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("POST /api/sms/test", protect(http.HandlerFunc(h.HandleTestSend)))
	mux.Handle("GET /api/usage", protect(http.HandlerFunc(h.HandleUsage)))
}

type testSendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// HandleTestSend sends a single SMS against the tenant's quota.
func (h *SendHandler) HandleTestSend(w http.ResponseWriter, r *http.Request) {
	business := auth.GetBusiness(r.Context())
	if business == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized("send.test", "authentication required"))
		return
	}

	var req testSendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*1024)).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("send.test", "invalid JSON body"))
		return
	}

	result, err := h.sends.SendTest(r.Context(), business.ID, req.Phone, req.Message)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleUsage returns the current usage snapshot for display.
func (h *SendHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	business := auth.GetBusiness(r.Context())
	if business == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized("quota.get_usage", "authentication required"))
		return
	}

	stats, err := h.quota.GetUsage(r.Context(), business.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
