package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// SignalLister reads the signal and audit logs.
type SignalLister interface {
	Signals(ctx context.Context, opts domain.ListOpts) ([]domain.SignalRecord, error)
	Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// SignalHandler serves the signal and audit log endpoints.
type SignalHandler struct {
	signals SignalLister
	logger  *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(signals SignalLister, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{signals: signals, logger: logger}
}

// List returns received signals with their outcomes, newest first.
// GET /api/signals?symbol=BTCUSD&limit=50
func (h *SignalHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.signals.Signals(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list signals failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}

	out := make([]signalRecordJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, toSignalRecordJSON(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": out, "count": len(out)})
}

type auditEntryJSON struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// Audit returns the audit log, newest first.
// GET /api/audit
func (h *SignalHandler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.signals.Audit(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	out := make([]auditEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryJSON{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out, "count": len(out)})
}
