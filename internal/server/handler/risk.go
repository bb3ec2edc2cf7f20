package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/alanyoungcy/signalbot/internal/domain"
	"github.com/alanyoungcy/signalbot/internal/service"
)

// RiskSettingsService reads and changes the live risk settings.
type RiskSettingsService interface {
	Snapshot() map[string]any
	Update(ctx context.Context, values map[string]string) (domain.RiskSettings, error)
	SetPanicMode(ctx context.Context, on bool) (domain.RiskSettings, error)
}

// RiskReporter reports risk usage.
type RiskReporter interface {
	Stats(ctx context.Context) (domain.RiskStats, error)
	WouldViolate(ctx context.Context, symbol string, size float64) ([]string, error)
}

// RiskHandler serves the risk settings and risk usage endpoints.
type RiskHandler struct {
	settings RiskSettingsService
	reports  RiskReporter
	logger   *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(settings RiskSettingsService, reports RiskReporter, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{settings: settings, reports: reports, logger: logger}
}

// GetSettings returns the settings in effect. Percent options are whole
// percents.
// GET /api/risk/settings
func (h *RiskHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Snapshot())
}

// UpdateSettings applies a partial update, e.g. {"stop_loss_percent": 1.5}.
// Nothing is applied if any key is unknown or any value is invalid.
// PUT /api/risk/settings
func (h *RiskHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "no settings provided")
		return
	}

	values, err := settingValues(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.settings.Update(r.Context(), values); err != nil {
		if errors.Is(err, service.ErrInvalidSetting) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: update risk settings failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}
	writeJSON(w, http.StatusOK, h.settings.Snapshot())
}

// settingValues renders JSON scalars as the strings the settings service
// parses.
func settingValues(body map[string]any) (map[string]string, error) {
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make(map[string]string, len(body))
	var bad []string
	for _, k := range keys {
		switch v := body[k].(type) {
		case string:
			values[k] = v
		case float64:
			values[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			values[k] = strconv.FormatBool(v)
		default:
			bad = append(bad, k)
		}
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("settings must be strings, numbers or booleans: %s", strings.Join(bad, ", "))
	}
	return values, nil
}

type panicRequest struct {
	Enabled *bool `json:"enabled"`
}

// Panic turns panic mode on or off.
// POST /api/risk/panic {"enabled": true}
func (h *RiskHandler) Panic(w http.ResponseWriter, r *http.Request) {
	var req panicRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	cur, err := h.settings.SetPanicMode(r.Context(), *req.Enabled)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: set panic mode failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to set panic mode")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"panic_mode": cur.PanicMode})
}

// Stats returns today's risk usage.
// GET /api/risk/stats
func (h *RiskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reports.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: risk stats failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute risk stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type checkRequest struct {
	Symbol string  `json:"symbol"`
	Size   float64 `json:"size"`
}

// Check reports which risk limits a new position would break.
// POST /api/risk/check {"symbol": "BTCUSD", "size": 1}
func (h *RiskHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if req.Size <= 0 {
		writeError(w, http.StatusBadRequest, "size must be > 0")
		return
	}

	violations, err := h.reports.WouldViolate(r.Context(), req.Symbol, req.Size)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: risk check failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to check risk limits")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":     req.Symbol,
		"size":       req.Size,
		"allowed":    len(violations) == 0,
		"violations": violations,
	})
}
