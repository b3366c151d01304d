// Package service contains the business logic layer.
//
// This file implements the SMS quota reservation protocol. A reservation
// opens a database transaction, takes an exclusive row lock on the tenant's
// quota ledger, validates capacity and billing status, and hands the caller
// a handle bound to the still-open transaction. The caller performs the
// external send while the lock is held and then resolves the handle, which
// commits (with the usage increment) or rolls back.
//
// The lock is held for the duration of the external call on purpose: the
// capacity check and the eventual increment must be atomic with respect to
// other reservations for the same business, otherwise two concurrent
// requests can both observe a free slot and overshoot the limit. This
// serializes sends per business, which is acceptable because per-tenant SMS
// send rate is inherently low. Coordination is through database row locks,
// not in-process mutexes, because the service runs horizontally scaled.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/calebdavis/textback/internal/domain"
	"github.com/calebdavis/textback/internal/metrics"
	"github.com/google/uuid"
)

// =============================================================================
// Store Interfaces
// =============================================================================

// QuotaTx is one open reservation transaction. Implementations hold the
// business row lock from LockBusinessQuota until Commit or Rollback.
type QuotaTx interface {
	// LockBusinessQuota loads the quota ledger with an exclusive row lock.
	// Returns domain.ErrBusinessNotFound when the row does not exist.
	LockBusinessQuota(ctx context.Context, businessID uuid.UUID) (*domain.QuotaSnapshot, error)

	// AddUsage increments usage_count by delta inside the transaction.
	AddUsage(ctx context.Context, businessID uuid.UUID, delta int) error

	// CreateBatchItems inserts batch tracking rows inside the transaction.
	CreateBatchItems(ctx context.Context, items []domain.SMSBatchItem) error

	// UpdateBatchItem records a per-recipient outcome inside the transaction.
	UpdateBatchItem(ctx context.Context, itemID uuid.UUID, status domain.BatchItemStatus, providerMessageID, errorMessage string, sentAt *time.Time) error

	Commit() error
	Rollback() error
}

// QuotaStore opens reservation transactions and serves non-locking reads.
type QuotaStore interface {
	BeginQuotaTx(ctx context.Context) (QuotaTx, error)

	// GetUsage is a non-locking snapshot read; display only.
	GetUsage(ctx context.Context, businessID uuid.UUID) (*domain.UsageStats, error)
}

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService defines the quota reservation operations.
type QuotaService interface {
	// Reserve claims count send slots for a business. On success the
	// returned Reservation holds the row lock; the caller must call
	// Resolve exactly once on every exit path (defer Close guards the
	// panic path). Denials are returned as *domain.QuotaDeniedError or a
	// domain.ENOTFOUND error; infrastructure failures are wrapped
	// domain.EINTERNAL errors.
	Reserve(ctx context.Context, businessID uuid.UUID, count int) (*Reservation, error)

	// ReserveBulk claims requested slots up-front for a batch send. The
	// returned handle defers the exact increment until the caller reports
	// how many sends actually succeeded.
	ReserveBulk(ctx context.Context, businessID uuid.UUID, requested int) (*BulkReservation, error)

	// GetUsage returns the current usage snapshot without locking. It may
	// race with in-flight reservations and must never gate a send.
	GetUsage(ctx context.Context, businessID uuid.UUID) (*domain.UsageStats, error)
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	store  QuotaStore
	logger *slog.Logger
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(store QuotaStore, logger *slog.Logger) QuotaService {
	return &quotaService{
		store:  store,
		logger: logger,
	}
}

// acquire runs the shared lock-and-validate phase. On success the returned
// QuotaTx is still open and holds the row lock; on any error the
// transaction has been resolved and nothing is held.
func (s *quotaService) acquire(ctx context.Context, op string, businessID uuid.UUID, count int) (QuotaTx, *domain.QuotaSnapshot, error) {
	if count < 0 {
		return nil, nil, domain.Invalid(op, "slot count must not be negative")
	}

	tx, err := s.store.BeginQuotaTx(ctx)
	if err != nil {
		return nil, nil, domain.Internal(err, op, "failed to open reservation transaction")
	}

	lockStart := time.Now()
	snap, err := tx.LockBusinessQuota(ctx, businessID)
	metrics.QuotaLockWaitDuration.Observe(time.Since(lockStart).Seconds())
	if err != nil {
		rollbackQuiet(tx, s.logger, op)
		if errors.Is(err, domain.ErrBusinessNotFound) {
			metrics.QuotaReservationDenied(op, "not_found")
			return nil, nil, domain.NotFound(op, "business", businessID.String())
		}
		return nil, nil, domain.Internal(err, op, "failed to lock quota ledger")
	}

	remaining := snap.Remaining()
	if remaining < count {
		rollbackQuiet(tx, s.logger, op)
		metrics.QuotaReservationDenied(op, "limit_reached")
		s.logger.Info("quota reservation denied: limit reached",
			"business_id", businessID,
			"requested", count,
			"remaining", remaining,
		)
		return nil, nil, domain.LimitReached(op, remaining, count)
	}

	if snap.SubscriptionStatus == domain.SubscriptionStatusPastDue {
		rollbackQuiet(tx, s.logger, op)
		metrics.QuotaReservationDenied(op, "past_due")
		s.logger.Info("quota reservation denied: payment past due",
			"business_id", businessID,
			"requested", count,
		)
		return nil, nil, domain.PaymentPastDue(op, remaining, count)
	}

	metrics.QuotaReservationGranted(op)
	return tx, snap, nil
}

func (s *quotaService) Reserve(ctx context.Context, businessID uuid.UUID, count int) (*Reservation, error) {
	const op = "quota.reserve"

	tx, snap, err := s.acquire(ctx, op, businessID, count)
	if err != nil {
		return nil, err
	}

	return &Reservation{
		tx:       tx,
		logger:   s.logger,
		snapshot: snap,
		count:    count,
	}, nil
}

func (s *quotaService) ReserveBulk(ctx context.Context, businessID uuid.UUID, requested int) (*BulkReservation, error) {
	const op = "quota.reserve_bulk"

	tx, snap, err := s.acquire(ctx, op, businessID, requested)
	if err != nil {
		return nil, err
	}

	return &BulkReservation{
		tx:        tx,
		logger:    s.logger,
		snapshot:  snap,
		requested: requested,
	}, nil
}

func (s *quotaService) GetUsage(ctx context.Context, businessID uuid.UUID) (*domain.UsageStats, error) {
	const op = "quota.get_usage"

	stats, err := s.store.GetUsage(ctx, businessID)
	if err != nil {
		if errors.Is(err, domain.ErrBusinessNotFound) {
			return nil, domain.NotFound(op, "business", businessID.String())
		}
		return nil, domain.Internal(err, op, "failed to read usage")
	}
	return stats, nil
}

// =============================================================================
// Reservation Handle
// =============================================================================

// ErrAlreadyResolved is returned on a second Resolve of the same handle.
// A double resolve means some code path released the reservation twice,
// which is the same bug class as forgetting to release on one path; it
// errors loudly instead of being absorbed so tests catch it.
var ErrAlreadyResolved = errors.New("reservation already resolved")

// Reservation is a single-send reservation holding the quota row lock.
// Exactly one call to Resolve is required; defer Close to cover panics.
type Reservation struct {
	tx       QuotaTx
	logger   *slog.Logger
	snapshot *domain.QuotaSnapshot
	count    int

	mu       sync.Mutex
	resolved bool
}

// Snapshot returns the quota ledger as it was at lock time.
func (r *Reservation) Snapshot() *domain.QuotaSnapshot {
	return r.snapshot
}

// Remaining returns the slot count available at lock time.
func (r *Reservation) Remaining() int {
	return r.snapshot.Remaining()
}

// Resolve finishes the reservation. With success and incrementBy > 0 the
// usage counter is incremented inside the still-open transaction before the
// commit; otherwise the transaction commits without an increment, leaving
// the counter untouched. A commit failure rolls back and is propagated: the
// caller must not assume the slot was consumed.
func (r *Reservation) Resolve(ctx context.Context, success bool, incrementBy int) error {
	const op = "quota.resolve"

	if err := r.markResolved(); err != nil {
		return domain.Internal(err, op, "reservation resolved twice")
	}

	if success && incrementBy > 0 {
		if err := r.tx.AddUsage(ctx, r.snapshot.BusinessID, incrementBy); err != nil {
			rollbackQuiet(r.tx, r.logger, op)
			return domain.Internal(err, op, "failed to increment usage")
		}
	}

	if err := r.tx.Commit(); err != nil {
		rollbackQuiet(r.tx, r.logger, op)
		return domain.Internal(err, op, "failed to commit reservation")
	}
	return nil
}

// Close rolls back the reservation if it was never resolved. It is safe to
// defer unconditionally: after a Resolve it is a no-op. An unresolved
// reservation leaks an open transaction and a held row lock, which blocks
// every send for that business until the connection times out.
func (r *Reservation) Close() error {
	if err := r.markResolved(); err != nil {
		return nil
	}
	r.logger.Warn("reservation closed without resolve, rolling back",
		"business_id", r.snapshot.BusinessID,
	)
	return r.tx.Rollback()
}

func (r *Reservation) markResolved() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return ErrAlreadyResolved
	}
	r.resolved = true
	return nil
}

// =============================================================================
// Bulk Reservation Handle
// =============================================================================

// BulkReservation is an N-slot reservation for a batch send. The handle
// exposes the open transaction so the batch flow can create its per-row
// tracking records under the same commit/rollback decision as the usage
// increment.
type BulkReservation struct {
	tx        QuotaTx
	logger    *slog.Logger
	snapshot  *domain.QuotaSnapshot
	requested int

	mu       sync.Mutex
	resolved bool
}

// Snapshot returns the quota ledger as it was at lock time.
func (b *BulkReservation) Snapshot() *domain.QuotaSnapshot {
	return b.snapshot
}

// Remaining returns the slot count available at lock time.
func (b *BulkReservation) Remaining() int {
	return b.snapshot.Remaining()
}

// Requested returns the slot count this reservation was sized for.
func (b *BulkReservation) Requested() int {
	return b.requested
}

// Tx returns the open reservation transaction for batch bookkeeping. Valid
// only until the handle is resolved.
func (b *BulkReservation) Tx() QuotaTx {
	return b.tx
}

// IncrementAndRelease increments the usage counter by the number of sends
// that actually succeeded and commits. actualSent may be lower than the
// reserved count when some sends failed. A value above the reservation is a
// caller bug; it is applied as passed (clamping would hide the bug) but
// logged as a warning.
func (b *BulkReservation) IncrementAndRelease(ctx context.Context, actualSent int) error {
	const op = "quota.increment_and_release"

	if err := b.markResolved(); err != nil {
		return domain.Internal(err, op, "bulk reservation resolved twice")
	}

	if actualSent > b.requested {
		b.logger.Warn("actual sent count exceeds reservation",
			"business_id", b.snapshot.BusinessID,
			"requested", b.requested,
			"actual_sent", actualSent,
		)
	}

	if actualSent > 0 {
		if err := b.tx.AddUsage(ctx, b.snapshot.BusinessID, actualSent); err != nil {
			rollbackQuiet(b.tx, b.logger, op)
			return domain.Internal(err, op, "failed to increment usage")
		}
	}

	if err := b.tx.Commit(); err != nil {
		rollbackQuiet(b.tx, b.logger, op)
		return domain.Internal(err, op, "failed to commit bulk reservation")
	}
	return nil
}

// Rollback discards the reservation entirely: no usage is recorded and any
// batch rows created inside the transaction vanish with it.
func (b *BulkReservation) Rollback() error {
	const op = "quota.bulk_rollback"

	if err := b.markResolved(); err != nil {
		return domain.Internal(err, op, "bulk reservation resolved twice")
	}
	if err := b.tx.Rollback(); err != nil {
		return domain.Internal(err, op, "failed to roll back bulk reservation")
	}
	return nil
}

// Close rolls back the reservation if it was never resolved; no-op after
// IncrementAndRelease or Rollback. Safe to defer unconditionally.
func (b *BulkReservation) Close() error {
	if err := b.markResolved(); err != nil {
		return nil
	}
	b.logger.Warn("bulk reservation closed without resolve, rolling back",
		"business_id", b.snapshot.BusinessID,
	)
	return b.tx.Rollback()
}

func (b *BulkReservation) markResolved() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resolved {
		return ErrAlreadyResolved
	}
	b.resolved = true
	return nil
}

// rollbackQuiet rolls back a transaction on an error path. The original
// error is what the caller needs to see; a rollback failure on top of it is
// only logged.
func rollbackQuiet(tx QuotaTx, logger *slog.Logger, op string) {
	if err := tx.Rollback(); err != nil {
		logger.Error("rollback failed", "op", op, "error", err)
	}
}
