package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// settingsPrefix namespaces risk overrides in the settings table.
const settingsPrefix = "risk_"

// ErrInvalidSetting is returned for unknown keys or unparsable values.
var ErrInvalidSetting = errors.New("invalid setting")

// settingDef binds one named option to a RiskSettings field. Percent options
// are exchanged in whole percents and stored internally as fractions.
type settingDef struct {
	name string
	get  func(s domain.RiskSettings) any
	set  func(s *domain.RiskSettings, v string) error
}

var settingDefs = []settingDef{
	percentSetting("stop_loss_percent", func(s *domain.RiskSettings) *float64 { return &s.StopLossPct }),
	percentSetting("take_profit_percent", func(s *domain.RiskSettings) *float64 { return &s.TakeProfitPct }),
	boolSetting("trailing_stop_enabled", func(s *domain.RiskSettings) *bool { return &s.TrailingEnabled }),
	{
		name: "trailing_stop_type",
		get:  func(s domain.RiskSettings) any { return string(s.TrailingType) },
		set: func(s *domain.RiskSettings, v string) error {
			t := domain.TrailingType(strings.ToLower(strings.TrimSpace(v)))
			if t != domain.TrailingPercent && t != domain.TrailingAmount {
				return fmt.Errorf("must be %q or %q", domain.TrailingPercent, domain.TrailingAmount)
			}
			s.TrailingType = t
			return nil
		},
	},
	percentSetting("trailing_stop_percent", func(s *domain.RiskSettings) *float64 { return &s.TrailingPct }),
	floatSetting("trailing_stop_amount", func(s *domain.RiskSettings) *float64 { return &s.TrailingAmount }),
	percentSetting("emergency_spike_percent", func(s *domain.RiskSettings) *float64 { return &s.EmergencySpikePct }),
	floatSetting("max_position_size", func(s *domain.RiskSettings) *float64 { return &s.MaxPositionSize }),
	intSetting("max_open_positions", func(s *domain.RiskSettings) *int { return &s.MaxOpenPositions }),
	intSetting("max_daily_trades", func(s *domain.RiskSettings) *int { return &s.MaxDailyTrades }),
	floatSetting("max_daily_loss", func(s *domain.RiskSettings) *float64 { return &s.MaxDailyLoss }),
	boolSetting("panic_mode", func(s *domain.RiskSettings) *bool { return &s.PanicMode }),
	boolSetting("trading_enabled", func(s *domain.RiskSettings) *bool { return &s.TradingEnabled }),
}

func percentSetting(name string, field func(*domain.RiskSettings) *float64) settingDef {
	return settingDef{
		name: name,
		get:  func(s domain.RiskSettings) any { return *field(&s) * 100 },
		set: func(s *domain.RiskSettings, v string) error {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || f < 0 || f >= 100 {
				return fmt.Errorf("must be a percent in [0, 100)")
			}
			*field(s) = f / 100
			return nil
		},
	}
}

func floatSetting(name string, field func(*domain.RiskSettings) *float64) settingDef {
	return settingDef{
		name: name,
		get:  func(s domain.RiskSettings) any { return *field(&s) },
		set: func(s *domain.RiskSettings, v string) error {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || f < 0 {
				return fmt.Errorf("must be a non-negative number")
			}
			*field(s) = f
			return nil
		},
	}
}

func intSetting(name string, field func(*domain.RiskSettings) *int) settingDef {
	return settingDef{
		name: name,
		get:  func(s domain.RiskSettings) any { return *field(&s) },
		set: func(s *domain.RiskSettings, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil || n < 0 {
				return fmt.Errorf("must be a non-negative integer")
			}
			*field(s) = n
			return nil
		},
	}
}

func boolSetting(name string, field func(*domain.RiskSettings) *bool) settingDef {
	return settingDef{
		name: name,
		get:  func(s domain.RiskSettings) any { return *field(&s) },
		set: func(s *domain.RiskSettings, v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("must be true or false")
			}
			*field(s) = b
			return nil
		},
	}
}

func lookupSetting(name string) (settingDef, bool) {
	for _, d := range settingDefs {
		if d.name == name {
			return d, true
		}
	}
	return settingDef{}, false
}

// SettingsService serves the live risk settings: configured defaults with
// overrides from the settings table applied on top. Reads are lock-free.
type SettingsService struct {
	store    domain.SettingsStore
	defaults domain.RiskSettings
	current  atomic.Pointer[domain.RiskSettings]
	effects  sideEffects
	logger   *slog.Logger
}

// NewSettingsService creates a SettingsService that starts at defaults.
// store may be nil, in which case overrides are kept in memory only.
func NewSettingsService(store domain.SettingsStore, defaults domain.RiskSettings, bus domain.EventBus, audit domain.AuditStore, notifier Notifier, logger *slog.Logger) *SettingsService {
	logger = logger.With(slog.String("component", "settings_service"))
	s := &SettingsService{
		store:    store,
		defaults: defaults,
		effects:  sideEffects{bus: bus, audit: audit, notifier: notifier, logger: logger},
		logger:   logger,
	}
	d := defaults
	s.current.Store(&d)
	return s
}

// Current returns the settings in effect.
func (s *SettingsService) Current() domain.RiskSettings {
	return *s.current.Load()
}

// Snapshot returns the settings in effect keyed by option name, with
// percents as whole numbers.
func (s *SettingsService) Snapshot() map[string]any {
	cur := s.Current()
	out := make(map[string]any, len(settingDefs))
	for _, d := range settingDefs {
		out[d.name] = d.get(cur)
	}
	return out
}

// Refresh reloads overrides from the store. Unparsable stored values are
// logged and skipped.
func (s *SettingsService) Refresh(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	rows, err := s.store.GetByPrefix(ctx, settingsPrefix)
	if err != nil {
		return fmt.Errorf("settings_service: refresh: %w", err)
	}

	next := s.defaults
	for key, value := range rows {
		d, ok := lookupSetting(strings.TrimPrefix(key, settingsPrefix))
		if !ok {
			continue
		}
		if err := d.set(&next, value); err != nil {
			s.logger.WarnContext(ctx, "ignoring bad stored setting",
				slog.String("key", key),
				slog.String("value", value),
				slog.String("error", err.Error()),
			)
		}
	}
	s.current.Store(&next)
	return nil
}

// Update validates and persists values keyed by option name. Nothing is
// written if any value is invalid.
func (s *SettingsService) Update(ctx context.Context, values map[string]string) (domain.RiskSettings, error) {
	next := s.Current()
	var problems []string

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		d, ok := lookupSetting(k)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: unknown setting", k))
			continue
		}
		if err := d.set(&next, values[k]); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", k, err))
		}
	}
	if len(problems) > 0 {
		return domain.RiskSettings{}, fmt.Errorf("settings_service: %w: %s", ErrInvalidSetting, strings.Join(problems, "; "))
	}

	if s.store != nil {
		for _, k := range keys {
			if err := s.store.Set(ctx, settingsPrefix+k, strings.TrimSpace(values[k])); err != nil {
				return domain.RiskSettings{}, fmt.Errorf("settings_service: update %s: %w", k, err)
			}
		}
	}
	s.current.Store(&next)

	detail := make(map[string]any, len(values))
	for k, v := range values {
		detail[k] = v
	}
	s.effects.record(ctx, "settings_updated", detail)
	s.logger.InfoContext(ctx, "risk settings updated", slog.Int("count", len(values)))
	return next, nil
}

// SetPanicMode turns panic mode on or off. While on, the position manager
// refuses every signal.
func (s *SettingsService) SetPanicMode(ctx context.Context, on bool) (domain.RiskSettings, error) {
	next, err := s.Update(ctx, map[string]string{"panic_mode": strconv.FormatBool(on)})
	if err != nil {
		return domain.RiskSettings{}, err
	}

	state, effect := "disabled", "New positions are accepted again."
	if on {
		state, effect = "enabled", "New positions are refused."
	}
	s.logger.WarnContext(ctx, "panic mode "+state)
	s.effects.publish(ctx, ChannelPositions, map[string]any{"event": "panic_mode", "enabled": on})
	s.effects.notify(ctx, "panic_mode", "Panic mode "+state, effect)
	return next, nil
}
