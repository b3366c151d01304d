package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/calebdavis/textback/internal/domain"
	"github.com/google/uuid"
)

const businessColumns = `
	id, name, email, phone, api_key_hash,
	COALESCE(stripe_customer_id, ''), COALESCE(subscription_id, ''),
	subscription_status, usage_count, usage_limit,
	trial_started_at, trial_ends_at, created_at, updated_at
`

func scanBusiness(row *sql.Row) (*domain.Business, error) {
	b := &domain.Business{}
	err := row.Scan(
		&b.ID, &b.Name, &b.Email, &b.Phone, &b.APIKeyHash,
		&b.StripeCustomerID, &b.SubscriptionID,
		&b.SubscriptionStatus, &b.UsageCount, &b.UsageLimit,
		&b.TrialStartedAt, &b.TrialEndsAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan business: %w", err)
	}
	return b, nil
}

// GetBusiness loads a business by ID without locking.
func (s *Store) GetBusiness(ctx context.Context, id uuid.UUID) (*domain.Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE id = $1`
	return scanBusiness(s.db.QueryRowContext(ctx, query, id))
}

// GetBusinessByAPIKeyHash loads a business by the SHA-256 hash of its API
// key. Used by the auth middleware on every request.
func (s *Store) GetBusinessByAPIKeyHash(ctx context.Context, hash string) (*domain.Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE api_key_hash = $1`
	return scanBusiness(s.db.QueryRowContext(ctx, query, hash))
}

// GetBusinessByStripeCustomerID loads a business by its Stripe customer ID.
// Used by the webhook flow to tie billing events to a tenant.
func (s *Store) GetBusinessByStripeCustomerID(ctx context.Context, customerID string) (*domain.Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE stripe_customer_id = $1`
	return scanBusiness(s.db.QueryRowContext(ctx, query, customerID))
}

// StartTrial records the trial window for a business whose trial has not
// started yet. The WHERE guard makes the write idempotent: a concurrent or
// repeated activation leaves the original window in place.
//
// This runs OUTSIDE any reservation transaction. Activating the trial while
// holding the reservation row lock would mean locking the same row twice in
// one request, which is how self-deadlocks happen.
func (s *Store) StartTrial(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	const query = `
		UPDATE businesses
		SET trial_started_at = $2, trial_ends_at = $3, updated_at = now()
		WHERE id = $1 AND trial_started_at IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, id, start, end); err != nil {
		return fmt.Errorf("start trial: %w", err)
	}
	return nil
}

// SetStripeCustomer records the Stripe customer ID for a business. The
// WHERE guard keeps the first assignment: a customer ID is never replaced
// once set.
func (s *Store) SetStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	const query = `
		UPDATE businesses
		SET stripe_customer_id = $2, updated_at = now()
		WHERE id = $1 AND stripe_customer_id IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, id, customerID); err != nil {
		return fmt.Errorf("set stripe customer: %w", err)
	}
	return nil
}

// UpdateSubscription applies a billing-status transition: the new status,
// the usage limit it implies, and optionally the Stripe subscription ID.
// Only the webhook flow (gated by the idempotency ledger) calls this.
func (s *Store) UpdateSubscription(ctx context.Context, id uuid.UUID, status domain.SubscriptionStatus, usageLimit int, subscriptionID string) error {
	const query = `
		UPDATE businesses
		SET subscription_status = $2, usage_limit = $3, subscription_id = $4, updated_at = now()
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, id, status, usageLimit, subscriptionID)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update subscription rows affected: %w", err)
	}
	if rows == 0 {
		return ErrBusinessNotFound
	}
	return nil
}

// ResetUsage zeroes the usage counter at the start of a new billing period.
// Only the webhook flow (gated by the idempotency ledger) calls this.
func (s *Store) ResetUsage(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE businesses
		SET usage_count = 0, updated_at = now()
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset usage rows affected: %w", err)
	}
	if rows == 0 {
		return ErrBusinessNotFound
	}
	return nil
}
