// Package handler contains HTTP handlers for the Textback API.
//
// Routes:
//   - POST /api/billing/checkout   -> BillingHandler.HandleCheckout
//   - POST /api/billing/portal     -> BillingHandler.HandlePortal
//   - POST /api/billing/cancel     -> BillingHandler.HandleCancel
//   - POST /api/billing/reactivate -> BillingHandler.HandleReactivate
//
// All routes require tenant API-key authentication. Subscription state is
// never mutated here; that happens only through the webhook flow.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/calebdavis/textback/internal/auth"
	"github.com/calebdavis/textback/internal/billing"
	"github.com/calebdavis/textback/internal/domain"
	"github.com/google/uuid"
)

// CustomerWriter records the Stripe customer ID assigned to a tenant.
type CustomerWriter interface {
	SetStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error
}

// BillingHandler exposes the Stripe-hosted billing surface.
type BillingHandler struct {
	billing   billing.Service
	customers CustomerWriter
	prices    billing.PriceConfig
	baseURL   string
	logger    *slog.Logger
}

// NewBillingHandler creates a new BillingHandler. baseURL is the public
// address Stripe redirects back to after checkout or portal sessions.
func NewBillingHandler(billingService billing.Service, customers CustomerWriter, prices billing.PriceConfig, baseURL string, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billing:   billingService,
		customers: customers,
		prices:    prices,
		baseURL:   baseURL,
		logger:    logger,
	}
}

// RegisterRoutes registers billing routes on the provided mux. The caller
// wraps them with the auth middleware.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("POST /api/billing/checkout", protect(http.HandlerFunc(h.HandleCheckout)))
	mux.Handle("POST /api/billing/portal", protect(http.HandlerFunc(h.HandlePortal)))
	mux.Handle("POST /api/billing/cancel", protect(http.HandlerFunc(h.HandleCancel)))
	mux.Handle("POST /api/billing/reactivate", protect(http.HandlerFunc(h.HandleReactivate)))
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

type redirectResponse struct {
	URL string `json:"url"`
}

// HandleCheckout creates a Stripe Checkout session for the requested plan
// and returns the URL to redirect the user to. A tenant without a Stripe
// customer gets one created first.
func (h *BillingHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	const op = "billing.checkout"

	business := auth.GetBusiness(r.Context())
	if business == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized(op, "authentication required"))
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4*1024)).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid JSON body"))
		return
	}

	var priceID string
	switch req.Plan {
	case "monthly":
		priceID = h.prices.MonthlyPriceID
	case "yearly":
		priceID = h.prices.YearlyPriceID
	default:
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "plan must be 'monthly' or 'yearly'"))
		return
	}
	if priceID == "" {
		ErrorResponse(w, r, h.logger, domain.Internal(nil, op, "plan is not configured"))
		return
	}

	customerID := business.StripeCustomerID
	if customerID == "" {
		created, err := h.billing.CreateCustomer(business.Email, business.Name)
		if err != nil {
			ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to create billing customer"))
			return
		}
		if err := h.customers.SetStripeCustomer(r.Context(), business.ID, created); err != nil {
			ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to record billing customer"))
			return
		}
		customerID = created
	}

	url, err := h.billing.CreateCheckoutSession(
		customerID,
		priceID,
		h.baseURL+"/billing/success",
		h.baseURL+"/billing/cancelled",
	)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to create checkout session"))
		return
	}

	writeJSON(w, http.StatusOK, redirectResponse{URL: url})
}

// HandlePortal creates a Stripe Customer Portal session for managing an
// existing subscription.
func (h *BillingHandler) HandlePortal(w http.ResponseWriter, r *http.Request) {
	const op = "billing.portal"

	business := auth.GetBusiness(r.Context())
	if business == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized(op, "authentication required"))
		return
	}
	if business.StripeCustomerID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "no billing account yet, start a checkout first"))
		return
	}

	url, err := h.billing.CreatePortalSession(business.StripeCustomerID, h.baseURL+"/account")
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to create portal session"))
		return
	}

	writeJSON(w, http.StatusOK, redirectResponse{URL: url})
}

// HandleCancel schedules the subscription to end at the current period
// boundary. Quota stays in force until the cancellation webhook arrives.
func (h *BillingHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	const op = "billing.cancel"

	business := auth.GetBusiness(r.Context())
	if business == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized(op, "authentication required"))
		return
	}
	if business.SubscriptionID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "no active subscription to cancel"))
		return
	}

	if err := h.billing.CancelSubscription(business.SubscriptionID); err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to cancel subscription"))
		return
	}

	h.logger.Info("subscription cancel scheduled",
		"business_id", business.ID, "subscription_id", business.SubscriptionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancel_scheduled"})
}

// HandleReactivate removes a pending cancellation before the period ends.
func (h *BillingHandler) HandleReactivate(w http.ResponseWriter, r *http.Request) {
	const op = "billing.reactivate"

	business := auth.GetBusiness(r.Context())
	if business == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized(op, "authentication required"))
		return
	}
	if business.SubscriptionID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "no subscription to reactivate"))
		return
	}

	if err := h.billing.ReactivateSubscription(business.SubscriptionID); err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "failed to reactivate subscription"))
		return
	}

	h.logger.Info("subscription reactivated",
		"business_id", business.ID, "subscription_id", business.SubscriptionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reactivated"})
}
