// Package sms provides SMS sending functionality for the Textback application.
//
// This package defines a Provider interface with implementations for:
// - Twilio (production)
// - Mock (development and tests)
//
// All methods are context-aware for timeout and cancellation support. The
// quota layer treats any non-success result or returned error identically:
// the send did not count.
package sms

import (
	"context"
	"fmt"
)

// Provider defines the interface for sending a single SMS message.
type Provider interface {
	// Send delivers one message to the given E.164 phone number.
	// A nil error with Result.Success == false means the provider
	// rejected the message; a non-nil error means delivery state is
	// unknown. Callers treat both as "not sent".
	Send(ctx context.Context, params SendParams) (*Result, error)
}

// SendParams contains parameters for a single send.
type SendParams struct {
	To   string // destination phone number, E.164
	Body string // message text
}

// Result is the provider's answer for one send attempt.
type Result struct {
	Success           bool
	ProviderMessageID string // provider-side message SID, set on success
	Error             string // provider error detail, set on rejection
}

// WrapError wraps a provider error with operation context.
func WrapError(op string, err error) error {
	return fmt.Errorf("sms %s: %w", op, err)
}
