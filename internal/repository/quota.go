package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/calebdavis/textback/internal/domain"
	"github.com/google/uuid"
)

// ErrBusinessNotFound is returned when a quota operation targets a business
// row that does not exist.
var ErrBusinessNotFound = domain.ErrBusinessNotFound

// LockBusinessQuota loads the quota ledger for one business with an
// exclusive row lock. The lock blocks every other reservation for the same
// business until this Tx commits or rolls back.
func (t *Tx) LockBusinessQuota(ctx context.Context, businessID uuid.UUID) (*domain.QuotaSnapshot, error) {
	const query = `
		SELECT id, subscription_status, usage_count, usage_limit
		FROM businesses
		WHERE id = $1
		FOR UPDATE
	`
	snap := &domain.QuotaSnapshot{}
	err := t.tx.QueryRowContext(ctx, query, businessID).Scan(
		&snap.BusinessID,
		&snap.SubscriptionStatus,
		&snap.UsageCount,
		&snap.UsageLimit,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock business quota: %w", err)
	}
	return snap, nil
}

// AddUsage increments the usage counter inside the reservation transaction.
// The caller already holds the row lock, so the relative increment cannot
// race with other reservations.
func (t *Tx) AddUsage(ctx context.Context, businessID uuid.UUID, delta int) error {
	const query = `
		UPDATE businesses
		SET usage_count = usage_count + $2, updated_at = now()
		WHERE id = $1
	`
	res, err := t.tx.ExecContext(ctx, query, businessID, delta)
	if err != nil {
		return fmt.Errorf("add usage: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add usage rows affected: %w", err)
	}
	if rows == 0 {
		return ErrBusinessNotFound
	}
	return nil
}

// GetUsage returns the current usage snapshot without any locking. Display
// only: the value may be stale by the time the caller reads it.
func (s *Store) GetUsage(ctx context.Context, businessID uuid.UUID) (*domain.UsageStats, error) {
	const query = `
		SELECT usage_count, usage_limit
		FROM businesses
		WHERE id = $1
	`
	stats := &domain.UsageStats{}
	err := s.db.QueryRowContext(ctx, query, businessID).Scan(&stats.Count, &stats.Limit)
	if err == sql.ErrNoRows {
		return nil, ErrBusinessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	stats.Remaining = stats.Limit - stats.Count
	if stats.Remaining < 0 {
		stats.Remaining = 0
	}
	return stats, nil
}
