package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/calebdavis/textback/internal/domain"
	"github.com/google/uuid"
)

// CreateBatch writes the batch header row. This happens outside the bulk
// reservation transaction so the record survives a rollback and can be
// marked failed afterwards.
func (s *Store) CreateBatch(ctx context.Context, batch *domain.SMSBatch) error {
	const query = `
		INSERT INTO sms_batches (id, business_id, status, requested_count)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, query, batch.ID, batch.BusinessID, batch.Status, batch.RequestedCount).
		Scan(&batch.CreatedAt)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

// FinishBatch records the final state of a batch after the reservation has
// been resolved.
func (s *Store) FinishBatch(ctx context.Context, batchID uuid.UUID, status domain.BatchStatus, sent, failed int) error {
	const query = `
		UPDATE sms_batches
		SET status = $2, sent_count = $3, failed_count = $4, completed_at = now()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, batchID, status, sent, failed); err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	return nil
}

// GetBatch loads one batch header.
func (s *Store) GetBatch(ctx context.Context, batchID uuid.UUID) (*domain.SMSBatch, error) {
	const query = `
		SELECT id, business_id, status, requested_count, sent_count, failed_count, created_at, completed_at
		FROM sms_batches
		WHERE id = $1
	`
	b := &domain.SMSBatch{}
	err := s.db.QueryRowContext(ctx, query, batchID).Scan(
		&b.ID, &b.BusinessID, &b.Status, &b.RequestedCount,
		&b.SentCount, &b.FailedCount, &b.CreatedAt, &b.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

// CreateBatchItems inserts per-recipient tracking rows inside the bulk
// reservation transaction. A rolled-back batch leaves no items behind.
func (t *Tx) CreateBatchItems(ctx context.Context, items []domain.SMSBatchItem) error {
	const query = `
		INSERT INTO sms_batch_items (id, batch_id, phone, name, status)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i := range items {
		item := &items[i]
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		if _, err := t.tx.ExecContext(ctx, query, item.ID, item.BatchID, item.Phone, item.Name, item.Status); err != nil {
			return fmt.Errorf("create batch item %d: %w", i, err)
		}
	}
	return nil
}

// UpdateBatchItem records the send outcome for one recipient, still inside
// the reservation transaction.
func (t *Tx) UpdateBatchItem(ctx context.Context, itemID uuid.UUID, status domain.BatchItemStatus, providerMessageID, errorMessage string, sentAt *time.Time) error {
	const query = `
		UPDATE sms_batch_items
		SET status = $2, provider_message_id = $3, error_message = $4, sent_at = $5
		WHERE id = $1
	`
	if _, err := t.tx.ExecContext(ctx, query, itemID, status, providerMessageID, errorMessage, sentAt); err != nil {
		return fmt.Errorf("update batch item: %w", err)
	}
	return nil
}
