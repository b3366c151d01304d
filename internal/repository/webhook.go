package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/calebdavis/textback/internal/domain"
	"github.com/google/uuid"
)

// InsertWebhookEventIfNew records a webhook event exactly once.
//
// The insert and the duplicate check are a single atomic statement:
// INSERT ... ON CONFLICT (event_id) DO NOTHING. A separate exists-check
// followed by an insert would let two concurrent deliveries of the same
// event both pass the check and double-apply billing side effects.
//
// Returns isNew == true when this call created the record. When the event
// was already recorded, the existing record is returned with isNew == false
// and the caller must skip all side effects.
func (s *Store) InsertWebhookEventIfNew(ctx context.Context, eventID, eventType string, businessID *uuid.UUID) (bool, *domain.WebhookEvent, error) {
	const insert = `
		INSERT INTO webhook_events (id, event_id, event_type, business_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id, event_id, event_type, business_id, processed_at
	`
	ev := &domain.WebhookEvent{}
	err := s.db.QueryRowContext(ctx, insert, uuid.New(), eventID, eventType, businessID).Scan(
		&ev.ID, &ev.EventID, &ev.EventType, &ev.BusinessID, &ev.ProcessedAt,
	)
	if err == nil {
		return true, ev, nil
	}
	if err != sql.ErrNoRows {
		return false, nil, fmt.Errorf("insert webhook event: %w", err)
	}

	// Conflict path: the event was recorded by an earlier delivery.
	const get = `
		SELECT id, event_id, event_type, business_id, processed_at
		FROM webhook_events
		WHERE event_id = $1
	`
	err = s.db.QueryRowContext(ctx, get, eventID).Scan(
		&ev.ID, &ev.EventID, &ev.EventType, &ev.BusinessID, &ev.ProcessedAt,
	)
	if err != nil {
		return false, nil, fmt.Errorf("get webhook event after conflict: %w", err)
	}
	return false, ev, nil
}

// SetWebhookEventBusiness backfills the related business on a ledger record
// that was created before the tenant could be resolved. This is the only
// mutation ever applied to a ledger record.
func (s *Store) SetWebhookEventBusiness(ctx context.Context, eventID string, businessID uuid.UUID) error {
	const query = `
		UPDATE webhook_events
		SET business_id = $2
		WHERE event_id = $1 AND business_id IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, eventID, businessID); err != nil {
		return fmt.Errorf("set webhook event business: %w", err)
	}
	return nil
}
