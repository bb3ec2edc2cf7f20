package handler

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 500
)

// EventReader reads the bounded replay stream of a bus channel.
type EventReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventHandler lets clients catch up on bus events they missed while not
// connected to /ws.
type EventHandler struct {
	reader   EventReader
	channels []string
	logger   *slog.Logger
}

// NewEventHandler creates an EventHandler serving the given channels.
func NewEventHandler(reader EventReader, channels []string, logger *slog.Logger) *EventHandler {
	return &EventHandler{reader: reader, channels: channels, logger: logger}
}

type eventJSON struct {
	ID      string              `json:"id"`
	Payload jsoniter.RawMessage `json:"payload"`
}

// List returns events recorded after the given cursor. Pass the returned
// "next" id as "after" to continue.
// GET /api/events/{channel}?after=0&limit=100
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	if !slices.Contains(h.channels, channel) {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}

	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxEventLimit)
		}
	}

	msgs, err := h.reader.StreamRead(r.Context(), domain.EventStream(channel), after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read events failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	out := make([]eventJSON, 0, len(msgs))
	next := after
	for _, m := range msgs {
		payload := jsoniter.RawMessage(m.Payload)
		if !jsonAPI.Valid(m.Payload) {
			quoted, _ := jsonAPI.Marshal(string(m.Payload))
			payload = quoted
		}
		out = append(out, eventJSON{ID: m.ID, Payload: payload})
		next = m.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel": channel,
		"events":  out,
		"count":   len(out),
		"next":    next,
	})
}
