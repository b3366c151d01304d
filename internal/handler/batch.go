// Package handler contains HTTP handlers for the Textback API.
//
// Routes:
//   - POST /api/sms/batch      -> BatchHandler.HandleBatchSend
//   - GET  /api/sms/batch/{id} -> BatchHandler.HandleBatchStatus
//
// The send request is multipart form data: a "file" part with a CSV of
// recipients (phone[,name] per row, optional header) and a "message" field.
package handler

import (
	"encoding/csv"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/calebdavis/textback/internal/auth"
	"github.com/calebdavis/textback/internal/domain"
	"github.com/calebdavis/textback/internal/service"
	"github.com/google/uuid"
)

// maxUploadBytes bounds the CSV upload body.
const maxUploadBytes = 1 << 20 // 1MB

// BatchHandler handles bulk CSV sends.
type BatchHandler struct {
	batches service.BatchService
	logger  *slog.Logger
}

// NewBatchHandler creates a new BatchHandler.
func NewBatchHandler(batches service.BatchService, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{
		batches: batches,
		logger:  logger,
	}
}

// RegisterRoutes registers batch routes on the provided mux.
func (h *BatchHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("POST /api/sms/batch", protect(http.HandlerFunc(h.HandleBatchSend)))
	mux.Handle("GET /api/sms/batch/{id}", protect(http.HandlerFunc(h.HandleBatchStatus)))
}

type batchStatusResponse struct {
	BatchID        uuid.UUID  `json:"batch_id"`
	Status         string     `json:"status"`
	RequestedCount int        `json:"requested_count"`
	SentCount      int        `json:"sent_count"`
	FailedCount    int        `json:"failed_count"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// HandleBatchStatus returns the header record for one of the tenant's
// batches, including a failed batch left behind by a rolled-back send.
func (h *BatchHandler) HandleBatchStatus(w http.ResponseWriter, r *http.Request) {
	const op = "send.batch.get"

	business := auth.GetBusiness(r.Context())
	if business == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized(op, "authentication required"))
		return
	}

	batchID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid batch id"))
		return
	}

	batch, err := h.batches.GetBatch(r.Context(), business.ID, batchID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, batchStatusResponse{
		BatchID:        batch.ID,
		Status:         string(batch.Status),
		RequestedCount: batch.RequestedCount,
		SentCount:      batch.SentCount,
		FailedCount:    batch.FailedCount,
		CreatedAt:      batch.CreatedAt,
		CompletedAt:    batch.CompletedAt,
	})
}

// HandleBatchSend parses the uploaded CSV, de-duplicates recipients, and
// hands the batch to the batch service.
func (h *BatchHandler) HandleBatchSend(w http.ResponseWriter, r *http.Request) {
	const op = "send.batch"

	business := auth.GetBusiness(r.Context())
	if business == nil {
		ErrorResponse(w, r, h.logger, domain.Unauthorized(op, "authentication required"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid multipart upload"))
		return
	}

	message := strings.TrimSpace(r.FormValue("message"))
	if message == "" {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError(op, "message", "message is required"))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError(op, "file", "a CSV file is required"))
		return
	}
	defer file.Close()

	recipients, err := parseRecipients(file)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if len(recipients) == 0 {
		ValidationErrorResponse(w, r, h.logger, domain.NewValidationError(op, "file", "no valid recipients found"))
		return
	}
	if len(recipients) > service.MaxBatchSize {
		ErrorResponse(w, r, h.logger,
			domain.Errorf(domain.ETOOLARGE, op, "batch exceeds %d recipients", service.MaxBatchSize))
		return
	}

	result, err := h.batches.SendBatch(r.Context(), business.ID, recipients, message)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseRecipients reads phone[,name] rows, skipping an optional header row
// and de-duplicating by normalized phone number.
func parseRecipients(f io.Reader) ([]domain.Recipient, error) {
	const op = "send.batch.parse"

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // rows may or may not carry a name column
	reader.TrimLeadingSpace = true

	var recipients []domain.Recipient
	seen := make(map[string]bool)
	first := true

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, domain.Invalid(op, "malformed CSV")
		}
		if len(record) == 0 {
			continue
		}

		phone := normalizePhone(record[0])

		// Tolerate a header row like "phone,name".
		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(record[0]), "phone") {
				continue
			}
		}

		if phone == "" || seen[phone] {
			continue
		}
		seen[phone] = true

		name := ""
		if len(record) > 1 {
			name = strings.TrimSpace(record[1])
		}
		recipients = append(recipients, domain.Recipient{Phone: phone, Name: name})
	}

	return recipients, nil
}

// normalizePhone strips formatting characters, keeping digits and a leading
// plus. Returns "" when what remains cannot be a phone number.
func normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting, drop
		default:
			return ""
		}
	}
	s := b.String()
	digits := strings.TrimPrefix(s, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return ""
	}
	return s
}
