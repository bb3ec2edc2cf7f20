package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/signalbot/internal/domain"
	"github.com/alanyoungcy/signalbot/internal/metrics"
)

// Inbound is one alert as received by a transport.
type Inbound struct {
	Body        []byte
	ContentType string
	// EventID is the sender-supplied idempotency key, if any.
	EventID string
	Source  string
}

// PriceVerifier checks a signal price against the market.
type PriceVerifier interface {
	VerifyPrice(ctx context.Context, symbol string, expected, tolerance float64) domain.PriceCheck
}

// SignalHandler applies an actionable signal to the ledger.
type SignalHandler interface {
	Handle(ctx context.Context, symbol string, side domain.Side, price float64, opts ...HandleOption) (domain.Decision, error)
}

// SignalProcessor is the single entry point for inbound alerts: normalize,
// claim, verify, decide, record.
type SignalProcessor struct {
	intake   *Intake
	verifier PriceVerifier
	handler  SignalHandler
	signals  domain.SignalStore
	effects  sideEffects
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// NewSignalProcessor creates a SignalProcessor. signals, bus and notifier may
// be nil.
func NewSignalProcessor(
	intake *Intake,
	verifier PriceVerifier,
	handler SignalHandler,
	signals domain.SignalStore,
	bus domain.EventBus,
	notifier Notifier,
	logger *slog.Logger,
) *SignalProcessor {
	logger = logger.With(slog.String("component", "signal_processor"))
	return &SignalProcessor{
		intake:   intake,
		verifier: verifier,
		handler:  handler,
		signals:  signals,
		effects:  sideEffects{bus: bus, notifier: notifier, logger: logger},
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger,
	}
}

// Process handles one inbound alert. Duplicates, non-actionable signals and
// price-blocked signals are outcomes, not errors. An error is returned only
// when the idempotency claim or the ledger transaction fails; a failed ledger
// transaction releases the claim so the sender can retry.
func (p *SignalProcessor) Process(ctx context.Context, in Inbound) (domain.ProcessResult, error) {
	sig := p.intake.Normalize(in.Body, in.ContentType)
	sig.Source = in.Source
	if sig.Source == "" {
		sig.Source = "webhook"
	}
	sig.EventKey = p.intake.EventKey(in.Body, in.EventID)

	res := domain.ProcessResult{EventKey: sig.EventKey, Signal: sig}

	claimed, err := p.intake.Claim(ctx, sig.EventKey)
	if err != nil {
		metrics.SignalsProcessed.WithLabelValues(string(domain.OutcomeError)).Inc()
		return res, fmt.Errorf("signal_processor: %w", err)
	}
	if !claimed {
		res.Outcome = domain.OutcomeDuplicate
		res.Duplicate = true
		res.Summary = "duplicate event ignored"
		metrics.SignalsProcessed.WithLabelValues(string(res.Outcome)).Inc()
		p.logger.InfoContext(ctx, "duplicate signal", slog.String("event_key", sig.EventKey))
		return res, nil
	}

	recordID := p.newID()

	if !sig.Actionable() {
		res.Outcome = domain.OutcomeSkipped
		res.Summary = "signal skipped: missing " + strings.Join(sig.Missing(), ", ")
		p.finish(ctx, recordID, &res, "")
		return res, nil
	}

	check := p.verifier.VerifyPrice(ctx, sig.Symbol, sig.Price, 0)
	res.PriceCheck = &check
	if !check.Valid {
		res.Outcome = domain.OutcomeBlocked
		res.Summary = fmt.Sprintf("%s %s blocked: %s", sig.Action, sig.Symbol, check.Message)
		p.finish(ctx, recordID, &res, "")
		p.effects.notify(ctx, "blocked", fmt.Sprintf("Signal blocked: %s %s", sig.Action, sig.Symbol), check.Message)
		return res, nil
	}

	decision, err := p.handler.Handle(ctx, sig.Symbol, sig.Action, sig.Price,
		WithLevels(sig.StopLoss, sig.TakeProfit),
		WithSignalID(recordID),
	)
	if err != nil {
		if relErr := p.intake.Release(ctx, sig.EventKey); relErr != nil {
			p.logger.ErrorContext(ctx, "release claim failed; retries will be reported as duplicates",
				slog.String("event_key", sig.EventKey),
				slog.String("error", relErr.Error()),
			)
		}
		res.Outcome = domain.OutcomeError
		res.Summary = fmt.Sprintf("%s %s failed: %v", sig.Action, sig.Symbol, err)
		p.finish(ctx, recordID, &res, "")
		p.effects.notify(ctx, "error", fmt.Sprintf("Signal failed: %s %s", sig.Action, sig.Symbol), err.Error())
		return res, fmt.Errorf("signal_processor: %w", err)
	}

	res.Decision = &decision
	res.Order = decision.Order
	res.Outcome = domain.OutcomeFor(decision.Kind)
	res.Summary = summarize(decision)

	positionID := ""
	if decision.Opened != nil {
		positionID = decision.Opened.ID
	}
	p.finish(ctx, recordID, &res, positionID)

	switch decision.Kind {
	case domain.DecisionOpened, domain.DecisionImmediateFlip:
		p.effects.notify(ctx, string(decision.Kind),
			fmt.Sprintf("%s %s @ %.8g", sig.Action, sig.Symbol, sig.Price), res.Summary)
	}
	return res, nil
}

// finish records the audit row, counts the outcome and publishes it.
func (p *SignalProcessor) finish(ctx context.Context, recordID string, res *domain.ProcessResult, positionID string) {
	sig := res.Signal
	metrics.SignalsProcessed.WithLabelValues(string(res.Outcome)).Inc()

	p.logger.InfoContext(ctx, "signal processed",
		slog.String("event_key", sig.EventKey),
		slog.String("symbol", sig.Symbol),
		slog.String("action", string(sig.Action)),
		slog.Float64("price", sig.Price),
		slog.String("outcome", string(res.Outcome)),
	)

	if p.signals != nil {
		rec := domain.SignalRecord{
			ID:         recordID,
			EventKey:   sig.EventKey,
			Source:     sig.Source,
			Symbol:     sig.Symbol,
			Action:     string(sig.Action),
			Price:      sig.Price,
			RawText:    sig.RawText,
			Outcome:    res.Outcome,
			PositionID: positionID,
			Message:    res.Summary,
			CreatedAt:  p.now().UTC(),
		}
		if err := p.signals.Insert(ctx, rec); err != nil {
			p.logger.WarnContext(ctx, "record signal failed",
				slog.String("event_key", sig.EventKey),
				slog.String("error", err.Error()),
			)
		}
	}

	p.effects.publish(ctx, ChannelSignals, map[string]any{
		"event":     "signal_processed",
		"id":        recordID,
		"event_key": sig.EventKey,
		"symbol":    sig.Symbol,
		"action":    string(sig.Action),
		"price":     sig.Price,
		"outcome":   string(res.Outcome),
		"summary":   res.Summary,
	})
}

// summarize renders a one-line description of a decision and its order.
func summarize(d domain.Decision) string {
	var b strings.Builder
	b.WriteString(d.Message)
	for _, c := range d.Closed {
		if c.ProfitLoss != nil {
			fmt.Fprintf(&b, "; closed %s %s P&L %.2f", c.Side, c.ID, *c.ProfitLoss)
		}
	}
	if d.Order != nil {
		fmt.Fprintf(&b, "; order %s", d.Order.Status)
		if d.Order.Message != "" {
			fmt.Fprintf(&b, " (%s)", d.Order.Message)
		}
	}
	return b.String()
}
