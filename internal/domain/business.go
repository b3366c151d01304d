// Package domain contains core business types and interfaces.
//
// This file defines the Business tenant type. Each business is the unit of
// quota isolation: its usage counter, limit, and subscription status gate
// every SMS send on the account.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the possible states of a business's subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// ValidSubscriptionStatus reports whether s is a known status value.
func ValidSubscriptionStatus(s SubscriptionStatus) bool {
	switch s {
	case SubscriptionStatusTrial, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusCancelled:
		return true
	}
	return false
}

// Business represents a tenant account on the Textback platform.
//
// UsageCount and UsageLimit form the quota ledger for SMS sends. UsageCount
// only moves forward within a billing period and is reset by qualifying
// billing events (see service.WebhookService). UsageLimit is mutated only by
// subscription-status transitions.
type Business struct {
	ID                 uuid.UUID
	Name               string
	Email              string
	Phone              string
	APIKeyHash         string // SHA-256 hash of the tenant API key; never expose
	StripeCustomerID   string
	SubscriptionID     string
	SubscriptionStatus SubscriptionStatus
	UsageCount         int
	UsageLimit         int
	TrialStartedAt     *time.Time
	TrialEndsAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Remaining returns the number of send slots still available.
func (b *Business) Remaining() int {
	r := b.UsageLimit - b.UsageCount
	if r < 0 {
		return 0
	}
	return r
}

// TrialPending reports whether the business is on trial status but has not
// yet activated its trial window. The first send activates the trial.
func (b *Business) TrialPending() bool {
	return b.SubscriptionStatus == SubscriptionStatusTrial && b.TrialStartedAt == nil
}

// PlanLimits maps a subscription status to the SMS quota limit it implies.
// Values are overridable via configuration; these are the defaults.
type PlanLimits struct {
	Trial     int
	Active    int
	PastDue   int
	Cancelled int
}

// DefaultPlanLimits are the stock limits applied when no overrides are configured.
var DefaultPlanLimits = PlanLimits{
	Trial:     25,
	Active:    500,
	PastDue:   0,
	Cancelled: 0,
}

// LimitFor returns the usage limit implied by the given subscription status.
func (p PlanLimits) LimitFor(status SubscriptionStatus) int {
	switch status {
	case SubscriptionStatusTrial:
		return p.Trial
	case SubscriptionStatusActive:
		return p.Active
	case SubscriptionStatusPastDue:
		return p.PastDue
	default:
		return p.Cancelled
	}
}
