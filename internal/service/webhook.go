// Package service contains the business logic layer.
//
// This file implements idempotent processing of billing provider webhook
// events. Stripe delivers events at least once; the idempotency ledger
// makes sure the side effects (subscription status and quota limit
// transitions, usage resets) apply exactly once per event.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/calebdavis/textback/internal/domain"
	"github.com/calebdavis/textback/internal/metrics"
	"github.com/google/uuid"
)

// Billing event types in the provider-neutral shape the handler produces.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"

	// billingReasonCycle marks an invoice that opens a new billing
	// period. Only these payments reset the usage counter.
	billingReasonCycle = "subscription_cycle"
)

// BillingEvent is the provider-neutral view of one webhook delivery.
type BillingEvent struct {
	EventID        string // external event ID, the idempotency key
	EventType      string
	CustomerID     string // provider-side customer ID
	SubscriptionID string
	// SubscriptionStatus is the mapped status for subscription events.
	SubscriptionStatus domain.SubscriptionStatus
	// BillingReason is set on invoice events.
	BillingReason string
}

// WebhookStore persists the idempotency ledger and applies billing
// transitions to business rows.
type WebhookStore interface {
	// InsertWebhookEventIfNew atomically records an event, returning
	// isNew == false when the event ID was seen before.
	InsertWebhookEventIfNew(ctx context.Context, eventID, eventType string, businessID *uuid.UUID) (bool, *domain.WebhookEvent, error)

	// SetWebhookEventBusiness backfills the tenant on a ledger record
	// created before the tenant was known.
	SetWebhookEventBusiness(ctx context.Context, eventID string, businessID uuid.UUID) error

	GetBusinessByStripeCustomerID(ctx context.Context, customerID string) (*domain.Business, error)
	UpdateSubscription(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus, usageLimit int, subscriptionID string) error
	ResetUsage(ctx context.Context, id uuid.UUID) error
}

// WebhookService processes billing events exactly once.
type WebhookService interface {
	// ProcessEvent records the event in the idempotency ledger and, when
	// the event is new, applies its side effects. A duplicate delivery
	// is a successful no-op.
	ProcessEvent(ctx context.Context, event BillingEvent) error
}

type webhookService struct {
	store  WebhookStore
	limits domain.PlanLimits
	logger *slog.Logger
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(store WebhookStore, limits domain.PlanLimits, logger *slog.Logger) WebhookService {
	return &webhookService{
		store:  store,
		limits: limits,
		logger: logger,
	}
}

func (s *webhookService) ProcessEvent(ctx context.Context, event BillingEvent) error {
	const op = "webhook.process"

	if event.EventID == "" {
		return domain.Invalid(op, "event ID is required")
	}

	// The ledger write comes first: a successful insert with isNew true
	// is the sole permission to mutate quota state for this event.
	isNew, record, err := s.store.InsertWebhookEventIfNew(ctx, event.EventID, event.EventType, nil)
	if err != nil {
		metrics.WebhookEvent(event.EventType, "error")
		return domain.Internal(err, op, "failed to record webhook event")
	}
	if !isNew {
		metrics.WebhookEvent(event.EventType, "duplicate")
		s.logger.Info("duplicate webhook event skipped",
			"event_id", event.EventID,
			"event_type", event.EventType,
		)
		return nil
	}

	business, err := s.store.GetBusinessByStripeCustomerID(ctx, event.CustomerID)
	if err != nil {
		if errors.Is(err, domain.ErrBusinessNotFound) {
			// The event stays in the ledger, so a redelivery will not
			// re-attempt side effects either.
			metrics.WebhookEvent(event.EventType, "skipped")
			s.logger.Warn("webhook event for unknown customer",
				"event_id", event.EventID,
				"customer_id", event.CustomerID,
			)
			return nil
		}
		metrics.WebhookEvent(event.EventType, "error")
		return domain.Internal(err, op, "failed to resolve business for webhook event")
	}

	if record.BusinessID == nil {
		if err := s.store.SetWebhookEventBusiness(ctx, event.EventID, business.ID); err != nil {
			// Bookkeeping only; the transition still applies.
			s.logger.Error("failed to backfill webhook event business",
				"event_id", event.EventID, "error", err)
		}
	}

	if err := s.applySideEffects(ctx, event, business); err != nil {
		metrics.WebhookEvent(event.EventType, "error")
		return err
	}

	metrics.WebhookEvent(event.EventType, "processed")
	return nil
}

func (s *webhookService) applySideEffects(ctx context.Context, event BillingEvent, business *domain.Business) error {
	const op = "webhook.apply"

	switch event.EventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		status := event.SubscriptionStatus
		if !domain.ValidSubscriptionStatus(status) {
			s.logger.Warn("webhook event with unknown subscription status ignored",
				"event_id", event.EventID, "status", status)
			return nil
		}
		limit := s.limits.LimitFor(status)
		if err := s.store.UpdateSubscription(ctx, business.ID, status, limit, event.SubscriptionID); err != nil {
			return domain.Internal(err, op, "failed to update subscription")
		}
		s.logger.Info("subscription updated from webhook",
			"business_id", business.ID,
			"status", status,
			"usage_limit", limit,
		)

	case EventSubscriptionDeleted:
		limit := s.limits.LimitFor(domain.SubscriptionStatusCancelled)
		if err := s.store.UpdateSubscription(ctx, business.ID, domain.SubscriptionStatusCancelled, limit, ""); err != nil {
			return domain.Internal(err, op, "failed to cancel subscription")
		}
		s.logger.Info("subscription cancelled from webhook", "business_id", business.ID)

	case EventPaymentSucceeded:
		limit := s.limits.LimitFor(domain.SubscriptionStatusActive)
		if err := s.store.UpdateSubscription(ctx, business.ID, domain.SubscriptionStatusActive, limit, business.SubscriptionID); err != nil {
			return domain.Internal(err, op, "failed to reactivate subscription")
		}
		// Usage resets only on a new billing period, and only because
		// the ledger said this event is new: a duplicate delivery of
		// the same cycle invoice must not reset twice.
		if event.BillingReason == billingReasonCycle {
			if err := s.store.ResetUsage(ctx, business.ID); err != nil {
				return domain.Internal(err, op, "failed to reset usage")
			}
			s.logger.Info("usage reset for new billing period", "business_id", business.ID)
		}

	case EventPaymentFailed:
		limit := s.limits.LimitFor(domain.SubscriptionStatusPastDue)
		if err := s.store.UpdateSubscription(ctx, business.ID, domain.SubscriptionStatusPastDue, limit, business.SubscriptionID); err != nil {
			return domain.Internal(err, op, "failed to set past due")
		}
		s.logger.Warn("payment failed, sends gated",
			"business_id", business.ID,
			"customer_id", event.CustomerID,
		)

	default:
		s.logger.Debug("unhandled webhook event type", "event_type", event.EventType)
	}

	return nil
}
