// Package handler contains HTTP handlers for the Textback API.
//
// This file implements the Stripe webhook handler for processing billing events.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification. Stripe
// delivers at least once; the webhook service's idempotency ledger makes
// redeliveries no-ops.
package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/calebdavis/textback/internal/billing"
	"github.com/calebdavis/textback/internal/service"
	"github.com/stripe/stripe-go/v79"
)

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing  billing.Service
	webhooks service.WebhookService
	logger   *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, webhooks service.WebhookService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:  billingService,
		webhooks: webhooks,
		logger:   logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are public, no auth middleware.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
//
// A non-2xx response makes Stripe redeliver, so only infrastructure
// failures return 500; everything else (unknown customers, unhandled
// event types, duplicates) acknowledges with 200.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Read body (limit to 64KB)
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	billingEvent, ok := h.translateEvent(event)
	if !ok {
		// Parse failures and unhandled types are acknowledged; retrying
		// the same payload cannot succeed.
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.webhooks.ProcessEvent(r.Context(), billingEvent); err != nil {
		h.logger.Error("webhook processing failed",
			"event_id", event.ID, "type", event.Type, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// translateEvent maps a Stripe event into the provider-neutral shape the
// webhook service consumes. Returns ok == false for event types this
// application does not act on or payloads that cannot be parsed.
func (h *WebhookHandler) translateEvent(event stripe.Event) (service.BillingEvent, bool) {
	switch string(event.Type) {
	case service.EventSubscriptionCreated,
		service.EventSubscriptionUpdated,
		service.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			h.logger.Error("failed to parse subscription event", "error", err, "type", event.Type)
			return service.BillingEvent{}, false
		}
		if sub.Customer == nil {
			h.logger.Warn("subscription event missing customer", "subscription_id", sub.ID)
			return service.BillingEvent{}, false
		}
		return service.BillingEvent{
			EventID:            event.ID,
			EventType:          string(event.Type),
			CustomerID:         sub.Customer.ID,
			SubscriptionID:     sub.ID,
			SubscriptionStatus: billing.StatusFromStripe(sub.Status),
		}, true

	case service.EventPaymentSucceeded, service.EventPaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			h.logger.Error("failed to parse invoice event", "error", err, "type", event.Type)
			return service.BillingEvent{}, false
		}
		if invoice.Customer == nil {
			h.logger.Warn("invoice event missing customer", "invoice_id", invoice.ID)
			return service.BillingEvent{}, false
		}
		return service.BillingEvent{
			EventID:       event.ID,
			EventType:     string(event.Type),
			CustomerID:    invoice.Customer.ID,
			BillingReason: string(invoice.BillingReason),
		}, true

	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		return service.BillingEvent{}, false
	}
}
