package mock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/calebdavis/textback/internal/sms"
)

// Provider is a mock SMS provider for testing and development.
type Provider struct {
	logger *slog.Logger

	// Configurable behavior for testing
	SendResult *sms.Result
	SendError  error
	// SendFunc, when set, overrides SendResult/SendError entirely.
	SendFunc func(ctx context.Context, params sms.SendParams) (*sms.Result, error)

	// Call tracking for testing
	mu        sync.Mutex
	SendCalls int
	Sent      []sms.SendParams
}

// New creates a new mock SMS provider.
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

// Send records the call and returns the configured response. With no
// configuration it succeeds with a synthetic message SID, which is what
// local development wants.
func (p *Provider) Send(ctx context.Context, params sms.SendParams) (*sms.Result, error) {
	p.mu.Lock()
	p.SendCalls++
	n := p.SendCalls
	p.Sent = append(p.Sent, params)
	p.mu.Unlock()

	if p.SendFunc != nil {
		return p.SendFunc(ctx, params)
	}
	if p.SendError != nil {
		return nil, p.SendError
	}
	if p.SendResult != nil {
		return p.SendResult, nil
	}

	if p.logger != nil {
		p.logger.Info("mock SMS send", "to", params.To, "length", len(params.Body))
	}
	return &sms.Result{
		Success:           true,
		ProviderMessageID: fmt.Sprintf("SM-mock-%04d", n),
	}, nil
}
