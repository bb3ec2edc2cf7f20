package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// Bus channels.
const (
	ChannelPositions = "positions"
	ChannelSignals   = "signals"
	ChannelOrders    = "orders"
)

// Notifier delivers operator notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SettingsProvider exposes the current risk settings.
type SettingsProvider interface {
	Current() domain.RiskSettings
}

// OrderPlacer places exchange orders. It never returns an error; failures are
// described by the result.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) domain.OrderResult
}

// sideEffects bundles the best-effort outputs every service shares. Each of
// them may be nil.
type sideEffects struct {
	bus      domain.EventBus
	audit    domain.AuditStore
	notifier Notifier
	logger   *slog.Logger
}

// publish marshals evt and sends it on channel. Failures are logged only.
func (s sideEffects) publish(ctx context.Context, channel string, evt map[string]any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.EventStream(channel), payload); err != nil {
		s.logger.WarnContext(ctx, "append event stream failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// record appends an audit log entry. Failures are logged only.
func (s sideEffects) record(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// notify sends an operator notification. Failures are logged only.
func (s sideEffects) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func positionEvent(event string, p domain.Position) map[string]any {
	evt := map[string]any{
		"event":      event,
		"id":         p.ID,
		"symbol":     p.Symbol,
		"side":       string(p.Side),
		"quantity":   p.Quantity,
		"open_price": p.OpenPrice,
		"status":     string(p.Status),
	}
	if p.ClosePrice != nil {
		evt["close_price"] = *p.ClosePrice
	}
	if p.ProfitLoss != nil {
		evt["profit_loss"] = *p.ProfitLoss
	}
	if p.ExitKind != domain.ExitNone {
		evt["exit_kind"] = string(p.ExitKind)
	}
	return evt
}
