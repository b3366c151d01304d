// Package service contains the business logic layer.
//
// This file implements the single test-send flow: trial activation,
// one-slot quota reservation, the external SMS send, and resolution.
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
	// DefaultTrialDuration is the trial window opened by the first send.
	DefaultTrialDuration = 14 * 24 * time.Hour

	// MaxMessageLength caps the message body. Twilio splits longer texts
	// into segments; 1600 characters is the provider-side hard cap.
	MaxMessageLength = 1600
)

// BusinessStore serves tenant reads and the trial-activation write.
type BusinessStore interface {
	GetBusiness(ctx context.Context, id uuid.UUID) (*domain.Business, error)

	// StartTrial is idempotent: it only writes when the trial window is
	// not set yet. It must run outside any reservation transaction.
	StartTrial(ctx context.Context, id uuid.UUID, start, end time.Time) error
}

// TestSendResult reports a successful single send.
type TestSendResult struct {
	ProviderMessageID string `json:"provider_message_id"`
	Remaining         int    `json:"remaining"`
}

// SendService defines the single test-send operation.
type SendService interface {
	// SendTest sends one SMS to the given number, consuming one quota
	// slot. Quota denials come back as *domain.QuotaDeniedError or
	// domain.ENOTFOUND; a provider failure is a domain.EINTERNAL error
	// and consumes no quota.
	SendTest(ctx context.Context, businessID uuid.UUID, phone, message string) (*TestSendResult, error)
}

type sendService struct {
	businesses    BusinessStore
	quota         QuotaService
	provider      sms.Provider
	logger        *slog.Logger
	trialDuration time.Duration
}

// SendServiceConfig configures the send service.
type SendServiceConfig struct {
	// TrialDuration overrides DefaultTrialDuration when positive.
	TrialDuration time.Duration
}

// NewSendService creates a new SendService.
func NewSendService(businesses BusinessStore, quota QuotaService, provider sms.Provider, logger *slog.Logger, cfg SendServiceConfig) SendService {
	trial := cfg.TrialDuration
	if trial <= 0 {
		trial = DefaultTrialDuration
	}
	return &sendService{
		businesses:    businesses,
		quota:         quota,
		provider:      provider,
		logger:        logger,
		trialDuration: trial,
	}
}

func (s *sendService) SendTest(ctx context.Context, businessID uuid.UUID, phone, message string) (*TestSendResult, error) {
	const op = "send.test"

	if phone == "" {
		return nil, domain.Invalid(op, "destination phone number is required")
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

	// Trial activation happens before the reservation acquires the row
	// lock. Doing it inside the critical section would mean a second
	// write to the locked row and opens the door to lock-ordering
	// deadlocks with other paths that update the same row.
	if err := s.activateTrialIfPending(ctx, business); err != nil {
		return nil, domain.Internal(err, op, "failed to activate trial")
	}

	res, err := s.quota.Reserve(ctx, businessID, 1)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	result, err := s.provider.Send(ctx, sms.SendParams{To: phone, Body: message})
	if err != nil || !result.Success {
		metrics.SMSFailed("test")
		if resolveErr := res.Resolve(ctx, false, 0); resolveErr != nil {
			s.logger.Error("failed to resolve reservation after send failure",
				"business_id", businessID, "error", resolveErr)
		}
		if err != nil {
			return nil, domain.Internal(err, op, "SMS send failed")
		}
		s.logger.Warn("SMS provider rejected message",
			"business_id", businessID, "provider_error", result.Error)
		return nil, domain.Errorf(domain.EINTERNAL, op, "SMS provider rejected the message")
	}

	if err := res.Resolve(ctx, true, 1); err != nil {
		// The commit failed: the slot was not consumed but the message
		// is already out. Propagate so the caller surfaces a failure
		// rather than silently under-counting.
		return nil, err
	}

	metrics.SMSSent("test")
	s.logger.Info("test SMS sent",
		"business_id", businessID,
		"provider_message_id", result.ProviderMessageID,
	)

	return &TestSendResult{
		ProviderMessageID: result.ProviderMessageID,
		Remaining:         res.Remaining() - 1,
	}, nil
}

// activateTrialIfPending opens the trial window on the business's first
// send. The store write carries its own has-not-started guard, so races
// between concurrent first sends are harmless.
func (s *sendService) activateTrialIfPending(ctx context.Context, business *domain.Business) error {
	if !business.TrialPending() {
		return nil
	}
	now := time.Now().UTC()
	end := now.Add(s.trialDuration)
	s.logger.Info("activating trial",
		"business_id", business.ID,
		"trial_ends_at", end,
	)
	return s.businesses.StartTrial(ctx, business.ID, now, end)
}
