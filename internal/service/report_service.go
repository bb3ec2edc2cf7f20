package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// QuoteReader returns the freshest available quotes.
type QuoteReader interface {
	Latest(ctx context.Context, symbol string) (domain.Quote, bool, error)
	LatestMany(ctx context.Context, symbols []string) map[string]domain.Quote
}

// PositionCloser closes a single position for a given reason.
type PositionCloser interface {
	Close(ctx context.Context, pos domain.Position, price float64, eval domain.RiskEvaluation) (*domain.ExitResult, error)
}

// ReportService answers read queries about positions, signals and risk
// usage, and performs operator-initiated closes.
type ReportService struct {
	ledger   domain.PositionLedger
	signals  domain.SignalStore
	audit    domain.AuditStore
	prices   QuoteReader
	closer   PositionCloser
	settings SettingsProvider
	now      func() time.Time
	logger   *slog.Logger
}

// NewReportService creates a ReportService.
func NewReportService(
	ledger domain.PositionLedger,
	signals domain.SignalStore,
	audit domain.AuditStore,
	prices QuoteReader,
	closer PositionCloser,
	settings SettingsProvider,
	logger *slog.Logger,
) *ReportService {
	return &ReportService{
		ledger:   ledger,
		signals:  signals,
		audit:    audit,
		prices:   prices,
		closer:   closer,
		settings: settings,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "report_service")),
	}
}

// OpenPositions returns every OPEN position with live P&L. Positions whose
// symbol cannot be priced are returned with PriceStale set and zero P&L.
func (s *ReportService) OpenPositions(ctx context.Context) ([]domain.PositionView, error) {
	open, err := s.ledger.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("report_service: open positions: %w", err)
	}

	symbols := make([]string, 0, len(open))
	seen := make(map[string]bool, len(open))
	for _, p := range open {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}
	quotes := s.prices.LatestMany(ctx, symbols)

	views := make([]domain.PositionView, 0, len(open))
	for _, p := range open {
		v := domain.PositionView{Position: p}
		if q, ok := quotes[p.Symbol]; ok {
			v.CurrentPrice = q.Mid()
			v.UnrealizedPnL = p.PnLAt(v.CurrentPrice)
			v.PnLPct = p.PnLPctAt(v.CurrentPrice) * 100
			v.PriceAt = q.Time
		} else {
			v.PriceStale = true
		}
		views = append(views, v)
	}
	return views, nil
}

// History returns closed positions, newest first.
func (s *ReportService) History(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.ledger.ListClosed(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("report_service: history: %w", err)
	}
	return positions, nil
}

// Signals returns the signal audit log, newest first.
func (s *ReportService) Signals(ctx context.Context, opts domain.ListOpts) ([]domain.SignalRecord, error) {
	records, err := s.signals.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("report_service: signals: %w", err)
	}
	return records, nil
}

// Audit returns the audit log, newest first.
func (s *ReportService) Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("report_service: audit: %w", err)
	}
	return entries, nil
}

// startOfDay returns midnight UTC of the current day.
func (s *ReportService) startOfDay() time.Time {
	return s.now().UTC().Truncate(24 * time.Hour)
}

// WouldViolate lists the risk limits a new position of size in symbol would
// break. An empty list means the trade is within limits.
func (s *ReportService) WouldViolate(ctx context.Context, symbol string, size float64) ([]string, error) {
	settings := s.settings.Current()
	violations := []string{}

	if settings.MaxPositionSize > 0 && size > settings.MaxPositionSize {
		violations = append(violations,
			fmt.Sprintf("position size (%g) exceeds maximum (%g)", size, settings.MaxPositionSize))
	}

	openCount, err := s.ledger.CountOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("report_service: would violate %s: %w", symbol, err)
	}
	if settings.MaxOpenPositions > 0 && openCount >= settings.MaxOpenPositions {
		violations = append(violations,
			fmt.Sprintf("maximum open positions (%d) reached", settings.MaxOpenPositions))
	}

	today := s.startOfDay()
	daily, err := s.ledger.CountOpenedSince(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("report_service: would violate %s: %w", symbol, err)
	}
	if settings.MaxDailyTrades > 0 && daily >= settings.MaxDailyTrades {
		violations = append(violations,
			fmt.Sprintf("daily trade limit (%d) reached", settings.MaxDailyTrades))
	}

	loss, err := s.ledger.SumLossSince(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("report_service: would violate %s: %w", symbol, err)
	}
	if settings.MaxDailyLoss > 0 && loss >= settings.MaxDailyLoss {
		violations = append(violations,
			fmt.Sprintf("daily loss budget (%g) exhausted: lost %.2f today", settings.MaxDailyLoss, loss))
	}

	if settings.PanicMode {
		violations = append(violations, "panic mode is active: all trading suspended")
	}
	return violations, nil
}

// Stats summarizes today's risk usage.
func (s *ReportService) Stats(ctx context.Context) (domain.RiskStats, error) {
	settings := s.settings.Current()
	today := s.startOfDay()

	loss, err := s.ledger.SumLossSince(ctx, today)
	if err != nil {
		return domain.RiskStats{}, fmt.Errorf("report_service: stats: %w", err)
	}
	daily, err := s.ledger.CountOpenedSince(ctx, today)
	if err != nil {
		return domain.RiskStats{}, fmt.Errorf("report_service: stats: %w", err)
	}
	open, err := s.ledger.ListOpen(ctx)
	if err != nil {
		return domain.RiskStats{}, fmt.Errorf("report_service: stats: %w", err)
	}

	var exposure float64
	for _, p := range open {
		exposure += p.TotalCost
	}

	return domain.RiskStats{
		DailyLoss:           loss,
		DailyTrades:         daily,
		OpenPositions:       len(open),
		TotalExposure:       exposure,
		MaxDailyLoss:        settings.MaxDailyLoss,
		AvailableRiskBudget: max(0, settings.MaxDailyLoss-loss),
		PanicMode:           settings.PanicMode,
		TradingEnabled:      settings.TradingEnabled,
	}, nil
}

// ClosePosition closes one OPEN position at the current market price on
// behalf of the operator. It returns domain.ErrNotFound when the position
// does not exist or is no longer OPEN.
func (s *ReportService) ClosePosition(ctx context.Context, id string) (*domain.ExitResult, error) {
	pos, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("report_service: close %s: %w", id, err)
	}
	if !pos.IsOpen() {
		return nil, fmt.Errorf("report_service: close %s: %w", id, domain.ErrNotFound)
	}

	res, err := s.closeAtMarket(ctx, pos)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("report_service: close %s: %w", id, domain.ErrNotFound)
	}
	return res, nil
}

// CloseAll closes every OPEN position at market. Positions that fail to
// close are skipped and reported in the joined error.
func (s *ReportService) CloseAll(ctx context.Context) ([]domain.ExitResult, error) {
	open, err := s.ledger.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("report_service: close all: %w", err)
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Symbol < open[j].Symbol })

	var results []domain.ExitResult
	var errs []error
	for _, p := range open {
		res, err := s.closeAtMarket(ctx, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res != nil {
			results = append(results, *res)
		}
	}

	s.logger.WarnContext(ctx, "close all executed",
		slog.Int("closed", len(results)),
		slog.Int("failed", len(errs)),
	)
	return results, errors.Join(errs...)
}

func (s *ReportService) closeAtMarket(ctx context.Context, pos domain.Position) (*domain.ExitResult, error) {
	q, _, err := s.prices.Latest(ctx, pos.Symbol)
	if err != nil {
		return nil, fmt.Errorf("report_service: close %s: price: %w", pos.ID, err)
	}
	price := q.Mid()
	eval := domain.RiskEvaluation{
		Close:  true,
		Exit:   domain.ExitManual,
		Reason: "closed by operator",
		Price:  price,
		PnLPct: pos.PnLPctAt(price),
	}
	res, err := s.closer.Close(ctx, pos, price, eval)
	if err != nil {
		return nil, fmt.Errorf("report_service: close %s: %w", pos.ID, err)
	}
	return res, nil
}
