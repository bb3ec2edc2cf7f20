package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/signalbot/internal/domain"
	"github.com/alanyoungcy/signalbot/internal/service"
)

// SignalProcessor handles one inbound alert end to end.
type SignalProcessor interface {
	Process(ctx context.Context, in service.Inbound) (domain.ProcessResult, error)
}

// WebhookHandler receives trading alerts.
type WebhookHandler struct {
	processor SignalProcessor
	maxBody   int64
	logger    *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. Bodies larger than maxBody
// bytes are rejected.
func NewWebhookHandler(processor SignalProcessor, maxBody int64, logger *slog.Logger) *WebhookHandler {
	if maxBody <= 0 {
		maxBody = maxJSONBody
	}
	return &WebhookHandler{
		processor: processor,
		maxBody:   maxBody,
		logger:    logger,
	}
}

// Receive processes an alert. The body may be JSON or free text. The
// sender's idempotency key is read from X-Event-ID or Idempotency-Key.
// Duplicates, skips and blocked prices are 200 responses; only a failed
// claim or ledger transaction is a 500.
// POST /webhook
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		writeError(w, http.StatusBadRequest, "empty payload")
		return
	}

	eventID := r.Header.Get("X-Event-ID")
	if eventID == "" {
		eventID = r.Header.Get("Idempotency-Key")
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		source = r.Header.Get("X-Signal-Source")
	}

	res, err := h.processor.Process(r.Context(), service.Inbound{
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
		EventID:     eventID,
		Source:      source,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: process signal failed",
			slog.String("event_key", res.EventKey),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, toProcessResultJSON(res))
		return
	}
	writeJSON(w, http.StatusOK, toProcessResultJSON(res))
}
