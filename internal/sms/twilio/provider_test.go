package twilio

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calebdavis/textback/internal/sms"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*Provider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := New(Config{
		AccountSID: "AC123",
		AuthToken:  "token",
		FromNumber: "+15550001111",
		BaseURL:    server.URL,
	}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p, server
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{name: "missing account SID", config: Config{AuthToken: "t", FromNumber: "+1555"}},
		{name: "missing auth token", config: Config{AccountSID: "AC", FromNumber: "+1555"}},
		{name: "missing from number", config: Config{AccountSID: "AC", AuthToken: "t"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.config, testLogger()); err == nil {
				t.Error("New() accepted incomplete config")
			}
		})
	}
}

func TestSend_Success(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC123/Messages.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "token" {
			t.Error("missing or wrong basic auth")
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		if got := r.PostFormValue("To"); got != "+15551234567" {
			t.Errorf("To = %s", got)
		}
		if got := r.PostFormValue("From"); got != "+15550001111" {
			t.Errorf("From = %s", got)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid": "SM123", "status": "queued"}`))
	})

	result, err := p.Send(context.Background(), sms.SendParams{To: "+15551234567", Body: "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !result.Success || result.ProviderMessageID != "SM123" {
		t.Errorf("result = %+v, want success SM123", result)
	}
}

func TestSend_APIRejection(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code": 21211, "message": "Invalid 'To' phone number"}`))
	})

	result, err := p.Send(context.Background(), sms.SendParams{To: "+1555", Body: "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v (rejection is not a transport error)", err)
	}
	if result.Success {
		t.Error("result.Success = true for rejected message")
	}
	if result.Error == "" {
		t.Error("result.Error empty for rejected message")
	}
}

func TestSend_ImmediateFailureStatus(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid": "SM456", "status": "failed", "error_message": "unreachable carrier"}`))
	})

	result, err := p.Send(context.Background(), sms.SendParams{To: "+15551234567", Body: "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Success {
		t.Error("result.Success = true for failed status")
	}
	if result.Error != "unreachable carrier" {
		t.Errorf("result.Error = %q", result.Error)
	}
}

func TestSend_ParamValidation(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the API")
	})

	if _, err := p.Send(context.Background(), sms.SendParams{Body: "hello"}); err == nil {
		t.Error("Send() accepted empty destination")
	}
	if _, err := p.Send(context.Background(), sms.SendParams{To: "+15551234567"}); err == nil {
		t.Error("Send() accepted empty body")
	}
}

func TestSend_ContextCancelled(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sid": "SM1", "status": "queued"}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Send(ctx, sms.SendParams{To: "+15551234567", Body: "hello"}); err == nil {
		t.Error("Send() succeeded with cancelled context")
	}
}
