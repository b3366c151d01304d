// Package twilio implements the sms.Provider interface against the Twilio
// Messages REST API.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/calebdavis/textback/internal/sms"
)

const (
	// APIBaseURL is the base URL for the Twilio REST API.
	APIBaseURL = "https://api.twilio.com/2010-04-01"

	// DefaultRequestTimeout bounds one send attempt. The quota row lock is
	// held for the duration of a send, so this timeout also bounds lock
	// hold time.
	DefaultRequestTimeout = 15 * time.Second
)

// Config contains configuration for the Twilio provider.
type Config struct {
	AccountSID     string
	AuthToken      string
	FromNumber     string // sending phone number, E.164
	RequestTimeout time.Duration
	BaseURL        string // overrides APIBaseURL, used in tests
}

// Provider implements sms.Provider using Twilio's Messages API.
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a new Twilio SMS provider.
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.AccountSID == "" {
		return nil, fmt.Errorf("twilio account SID is required")
	}
	if config.AuthToken == "" {
		return nil, fmt.Errorf("twilio auth token is required")
	}
	if config.FromNumber == "" {
		return nil, fmt.Errorf("twilio from number is required")
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.BaseURL == "" {
		config.BaseURL = APIBaseURL
	}

	return &Provider{
		config: config,
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
		logger: logger,
	}, nil
}

// messageResponse is the subset of Twilio's message resource we read back.
type messageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Message      string `json:"message"` // set on API-level errors
}

// Send posts one message to the Twilio Messages endpoint.
func (p *Provider) Send(ctx context.Context, params sms.SendParams) (*sms.Result, error) {
	if params.To == "" {
		return nil, sms.WrapError("send", fmt.Errorf("destination number is required"))
	}
	if params.Body == "" {
		return nil, sms.WrapError("send", fmt.Errorf("message body is required"))
	}

	form := url.Values{}
	form.Set("To", params.To)
	form.Set("From", p.config.FromNumber)
	form.Set("Body", params.Body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", p.config.BaseURL, p.config.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, sms.WrapError("build request", err)
	}
	req.SetBasicAuth(p.config.AccountSID, p.config.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, sms.WrapError("execute request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, sms.WrapError("read response", err)
	}

	var msg messageResponse
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, sms.WrapError("parse response", fmt.Errorf("status %d: %w", resp.StatusCode, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Warn("twilio rejected message",
			"status", resp.StatusCode,
			"error", msg.Message,
		)
		return &sms.Result{
			Success: false,
			Error:   fmt.Sprintf("twilio status %d: %s", resp.StatusCode, msg.Message),
		}, nil
	}

	// Twilio can accept the request but mark the message failed immediately.
	if msg.Status == "failed" || msg.Status == "undelivered" {
		return &sms.Result{
			Success:           false,
			ProviderMessageID: msg.SID,
			Error:             msg.ErrorMessage,
		}, nil
	}

	return &sms.Result{
		Success:           true,
		ProviderMessageID: msg.SID,
	}, nil
}
