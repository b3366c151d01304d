// Package service contains the business logic layer.
//
// This file implements the bulk send flow: an up-front N-slot reservation,
// per-recipient tracking rows created inside the reservation transaction,
// sequential sends with a fixed inter-send delay, and a final increment by
// the number of sends that actually succeeded.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/calebdavis/textback/internal/domain"
	"github.com/calebdavis/textback/internal/metrics"
	"github.com/calebdavis/textback/internal/sms"
	"github.com/google/uuid"
)

const (
	// MaxBatchSize bounds one bulk send. The reservation row lock is held
	// for the whole batch, so the bound also caps lock hold time.
	MaxBatchSize = 500

	// DefaultSendDelay is the pause between consecutive sends. Sends run
	// sequentially: ordering and per-item progress matter more than
	// throughput here.
	DefaultSendDelay = 200 * time.Millisecond
)

// BatchStore persists batch headers. The header is written outside the
// reservation transaction so it survives a rollback.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch *domain.SMSBatch) error
	FinishBatch(ctx context.Context, batchID uuid.UUID, status domain.BatchStatus, sent, failed int) error
	GetBatch(ctx context.Context, batchID uuid.UUID) (*domain.SMSBatch, error)
}

// BatchService defines the bulk send operations.
type BatchService interface {
	// SendBatch sends the message to every recipient, reserving
	// len(recipients) quota slots up-front. Recipients are expected to be
	// validated and de-duplicated by the caller. Denials come back as
	// *domain.QuotaDeniedError carrying available-vs-requested counts.
	SendBatch(ctx context.Context, businessID uuid.UUID, recipients []domain.Recipient, message string) (*domain.BatchResult, error)

	// GetBatch loads a batch header owned by businessID. A batch owned by
	// another business is reported as not found.
	GetBatch(ctx context.Context, businessID, batchID uuid.UUID) (*domain.SMSBatch, error)
}

type batchService struct {
	businesses    BusinessStore
	batches       BatchStore
	quota         QuotaService
	provider      sms.Provider
	logger        *slog.Logger
	sendDelay     time.Duration
	trialDuration time.Duration
}

// BatchServiceConfig configures the batch service.
type BatchServiceConfig struct {
	// SendDelay overrides DefaultSendDelay when positive.
	SendDelay time.Duration
	// TrialDuration overrides DefaultTrialDuration when positive.
	TrialDuration time.Duration
}

// NewBatchService creates a new BatchService.
func NewBatchService(businesses BusinessStore, batches BatchStore, quota QuotaService, provider sms.Provider, logger *slog.Logger, cfg BatchServiceConfig) BatchService {
	delay := cfg.SendDelay
	if delay <= 0 {
		delay = DefaultSendDelay
	}
	trial := cfg.TrialDuration
	if trial <= 0 {
		trial = DefaultTrialDuration
	}
	return &batchService{
		businesses:    businesses,
		batches:       batches,
		quota:         quota,
		provider:      provider,
		logger:        logger,
		sendDelay:     delay,
		trialDuration: trial,
	}
}

func (s *batchService) SendBatch(ctx context.Context, businessID uuid.UUID, recipients []domain.Recipient, message string) (*domain.BatchResult, error) {
	const op = "send.batch"

	if len(recipients) > MaxBatchSize {
		return nil, domain.Errorf(domain.ETOOLARGE, op, "batch exceeds %d recipients", MaxBatchSize)
	}
	if message == "" {
		return nil, domain.Invalid(op, "message body is required")
	}
	if len(message) > MaxMessageLength {
		return nil, domain.Invalid(op, "message body exceeds maximum length")
	}

	business, err := s.businesses.GetBusiness(ctx, businessID)
	if err != nil {
		if errors.Is(err, domain.ErrBusinessNotFound) {
			return nil, domain.NotFound(op, "business", businessID.String())
		}
		return nil, domain.Internal(err, op, "failed to load business")
	}

	// Trial activation before the bulk lock, same ordering rule as the
	// single-send flow: never touch the quota row twice in one request.
	if business.TrialPending() {
		now := time.Now().UTC()
		if err := s.businesses.StartTrial(ctx, business.ID, now, now.Add(s.trialDuration)); err != nil {
			return nil, domain.Internal(err, op, "failed to activate trial")
		}
	}

	// Batch header goes in before the reservation so a rolled-back batch
	// still has a record to mark failed.
	batch := &domain.SMSBatch{
		ID:             uuid.New(),
		BusinessID:     businessID,
		Status:         domain.BatchStatusPending,
		RequestedCount: len(recipients),
	}
	if err := s.batches.CreateBatch(ctx, batch); err != nil {
		return nil, domain.Internal(err, op, "failed to create batch record")
	}

	bulk, err := s.quota.ReserveBulk(ctx, businessID, len(recipients))
	if err != nil {
		s.markFailed(ctx, batch.ID)
		return nil, err
	}
	defer bulk.Close()

	result, err := s.runBatch(ctx, op, batch, bulk, recipients, message)
	if err != nil {
		s.markFailed(ctx, batch.ID)
		return nil, err
	}
	return result, nil
}

// runBatch drives the sends under the open bulk reservation. On any error
// it rolls the reservation back before returning; the caller marks the
// batch record failed.
func (s *batchService) runBatch(ctx context.Context, op string, batch *domain.SMSBatch, bulk *BulkReservation, recipients []domain.Recipient, message string) (*domain.BatchResult, error) {
	start := time.Now()

	items := make([]domain.SMSBatchItem, len(recipients))
	for i, r := range recipients {
		items[i] = domain.SMSBatchItem{
			ID:      uuid.New(),
			BatchID: batch.ID,
			Phone:   r.Phone,
			Name:    r.Name,
			Status:  domain.BatchItemStatusPending,
		}
	}
	if err := bulk.Tx().CreateBatchItems(ctx, items); err != nil {
		s.rollbackBulk(bulk)
		return nil, domain.Internal(err, op, "failed to create batch items")
	}

	var sent, failed int
	for i := range items {
		if i > 0 {
			if err := sleepCtx(ctx, s.sendDelay); err != nil {
				s.rollbackBulk(bulk)
				return nil, domain.Internal(err, op, "batch cancelled mid-send")
			}
		}

		item := &items[i]
		sendResult, sendErr := s.provider.Send(ctx, sms.SendParams{To: item.Phone, Body: message})

		var updateErr error
		if sendErr != nil || !sendResult.Success {
			failed++
			metrics.SMSFailed("batch")
			msg := errorDetail(sendResult, sendErr)
			updateErr = bulk.Tx().UpdateBatchItem(ctx, item.ID, domain.BatchItemStatusFailed, "", msg, nil)
		} else {
			sent++
			metrics.SMSSent("batch")
			now := time.Now().UTC()
			updateErr = bulk.Tx().UpdateBatchItem(ctx, item.ID, domain.BatchItemStatusSent, sendResult.ProviderMessageID, "", &now)
		}
		if updateErr != nil {
			s.rollbackBulk(bulk)
			return nil, domain.Internal(updateErr, op, "failed to record batch item outcome")
		}
	}

	if err := bulk.IncrementAndRelease(ctx, sent); err != nil {
		return nil, err
	}

	if err := s.batches.FinishBatch(ctx, batch.ID, domain.BatchStatusCompleted, sent, failed); err != nil {
		// The reservation already committed; the quota ledger is
		// correct. Only the batch bookkeeping is stale.
		s.logger.Error("failed to finish batch record",
			"batch_id", batch.ID, "error", err)
	}

	metrics.BatchCompleted(time.Since(start))
	s.logger.Info("batch send completed",
		"batch_id", batch.ID,
		"business_id", batch.BusinessID,
		"requested", batch.RequestedCount,
		"sent", sent,
		"failed", failed,
	)

	return &domain.BatchResult{
		BatchID:   batch.ID,
		Requested: batch.RequestedCount,
		Sent:      sent,
		Failed:    failed,
	}, nil
}

func (s *batchService) GetBatch(ctx context.Context, businessID, batchID uuid.UUID) (*domain.SMSBatch, error) {
	const op = "send.batch.get"

	batch, err := s.batches.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, domain.ErrBatchNotFound) {
			return nil, domain.NotFound(op, "batch", batchID.String())
		}
		return nil, domain.Internal(err, op, "failed to load batch")
	}
	if batch.BusinessID != businessID {
		// Do not leak that the batch exists under another tenant.
		return nil, domain.NotFound(op, "batch", batchID.String())
	}
	return batch, nil
}

func (s *batchService) rollbackBulk(bulk *BulkReservation) {
	if err := bulk.Rollback(); err != nil {
		s.logger.Error("bulk reservation rollback failed", "error", err)
	}
}

func (s *batchService) markFailed(ctx context.Context, batchID uuid.UUID) {
	metrics.BatchFailed()
	if err := s.batches.FinishBatch(ctx, batchID, domain.BatchStatusFailed, 0, 0); err != nil {
		s.logger.Error("failed to mark batch failed", "batch_id", batchID, "error", err)
	}
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errorDetail(result *sms.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if result != nil && result.Error != "" {
		return result.Error
	}
	return "send rejected"
}
