package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// PositionReporter defines the position queries and operator closes the
// handler needs.
type PositionReporter interface {
	OpenPositions(ctx context.Context) ([]domain.PositionView, error)
	History(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
	ClosePosition(ctx context.Context, id string) (*domain.ExitResult, error)
	CloseAll(ctx context.Context) ([]domain.ExitResult, error)
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	positions PositionReporter
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionReporter, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// ListOpen returns OPEN positions with live P&L.
// GET /api/positions
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	views, err := h.positions.OpenPositions(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list open positions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	out := make([]positionViewJSON, 0, len(views))
	var unrealized float64
	for _, v := range views {
		out = append(out, toPositionViewJSON(v))
		unrealized += v.UnrealizedPnL
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions":      out,
		"count":          len(out),
		"unrealized_pnl": unrealized,
	})
}

// History returns closed positions, newest first.
// GET /api/positions/history?symbol=BTCUSD&limit=50
func (h *PositionHandler) History(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	positions, err := h.positions.History(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: position history failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list position history")
		return
	}

	var realized float64
	for _, p := range positions {
		if p.ProfitLoss != nil {
			realized += *p.ProfitLoss
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions":    toPositionsJSON(positions),
		"count":        len(positions),
		"realized_pnl": realized,
	})
}

// Close closes one OPEN position at market.
// POST /api/positions/{id}/close
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "position id required")
		return
	}

	res, err := h.positions.ClosePosition(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "open position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: close position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to close position")
		return
	}
	writeJSON(w, http.StatusOK, toExitJSON(*res))
}

// CloseAll closes every OPEN position at market. Positions that could not
// be closed are reported in "error" with a 500 status.
// POST /api/positions/close-all
func (h *PositionHandler) CloseAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.positions.CloseAll(r.Context())

	closed := make([]exitJSON, 0, len(results))
	for _, res := range results {
		closed = append(closed, toExitJSON(res))
	}
	body := map[string]any{"closed": closed, "count": len(closed)}

	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: close all failed", slog.String("error", err.Error()))
		body["error"] = err.Error()
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}
