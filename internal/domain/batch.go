package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus represents the lifecycle of a bulk send.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusSending   BatchStatus = "sending"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// BatchItemStatus represents the outcome of one recipient within a batch.
type BatchItemStatus string

const (
	BatchItemStatusPending BatchItemStatus = "pending"
	BatchItemStatusSent    BatchItemStatus = "sent"
	BatchItemStatusFailed  BatchItemStatus = "failed"
)

// Recipient is one validated, de-duplicated row from a batch upload.
type Recipient struct {
	Phone string
	Name  string
}

// SMSBatch is the header record for a bulk send. It is written before the
// quota reservation so it survives a rollback and can be marked failed.
type SMSBatch struct {
	ID             uuid.UUID
	BusinessID     uuid.UUID
	Status         BatchStatus
	RequestedCount int
	SentCount      int
	FailedCount    int
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// SMSBatchItem tracks one recipient within a batch. Items are created inside
// the bulk reservation's transaction, so an aborted batch leaves no items.
type SMSBatchItem struct {
	ID                uuid.UUID
	BatchID           uuid.UUID
	Phone             string
	Name              string
	Status            BatchItemStatus
	ProviderMessageID string
	ErrorMessage      string
	SentAt            *time.Time
}

// BatchResult summarizes a completed bulk send for the caller.
type BatchResult struct {
	BatchID   uuid.UUID `json:"batch_id"`
	Requested int       `json:"requested"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
}
