// Package domain contains core business types and interfaces.
//
// This file defines quota types used by the reservation protocol. The
// reservation handles themselves live in the service layer because they own
// an open database transaction.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// QuotaSnapshot is the locked view of a business's quota ledger taken at
// reservation time. It is valid only while the reservation's transaction is
// open.
type QuotaSnapshot struct {
	BusinessID         uuid.UUID
	SubscriptionStatus SubscriptionStatus
	UsageCount         int
	UsageLimit         int
}

// Remaining returns the number of slots available in this snapshot.
func (s *QuotaSnapshot) Remaining() int {
	r := s.UsageLimit - s.UsageCount
	if r < 0 {
		return 0
	}
	return r
}

// UsageStats is the non-locking usage view returned for display purposes.
// It may race with in-flight reservations and must never gate a send.
type UsageStats struct {
	Count     int `json:"count"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// WebhookEvent is the idempotency ledger record for an externally delivered
// billing event. A row exists for every event ID ever accepted; the unique
// constraint on EventID is what makes duplicate webhook deliveries no-ops.
type WebhookEvent struct {
	ID          uuid.UUID
	EventID     string // external (Stripe) event ID, unique
	EventType   string
	BusinessID  *uuid.UUID // nil when the event could not be tied to a tenant
	ProcessedAt time.Time
}
