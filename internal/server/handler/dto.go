package handler

import (
	"time"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

type positionJSON struct {
	ID                string     `json:"id"`
	Symbol            string     `json:"symbol"`
	Side              string     `json:"side"`
	Quantity          float64    `json:"quantity"`
	OpenPrice         float64    `json:"open_price"`
	OpenedAt          time.Time  `json:"opened_at"`
	Status            string     `json:"status"`
	ClosePrice        *float64   `json:"close_price,omitempty"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	ProfitLoss        *float64   `json:"profit_loss,omitempty"`
	StopLoss          *float64   `json:"stop_loss,omitempty"`
	TakeProfit        *float64   `json:"take_profit,omitempty"`
	TotalCost         float64    `json:"total_cost"`
	StopLossTriggered bool       `json:"stop_loss_triggered"`
	ClosedByUser      bool       `json:"closed_by_user"`
	ExitKind          string     `json:"exit_kind,omitempty"`
	OrderType         string     `json:"order_type,omitempty"`
	SignalID          string     `json:"signal_id,omitempty"`
}

func toPositionJSON(p domain.Position) positionJSON {
	return positionJSON{
		ID:                p.ID,
		Symbol:            p.Symbol,
		Side:              string(p.Side),
		Quantity:          p.Quantity,
		OpenPrice:         p.OpenPrice,
		OpenedAt:          p.OpenedAt,
		Status:            string(p.Status),
		ClosePrice:        p.ClosePrice,
		ClosedAt:          p.ClosedAt,
		ProfitLoss:        p.ProfitLoss,
		StopLoss:          p.StopLoss,
		TakeProfit:        p.TakeProfit,
		TotalCost:         p.TotalCost,
		StopLossTriggered: p.StopLossTriggered,
		ClosedByUser:      p.ClosedByUser,
		ExitKind:          string(p.ExitKind),
		OrderType:         p.OrderType,
		SignalID:          p.SignalID,
	}
}

func toPositionsJSON(ps []domain.Position) []positionJSON {
	out := make([]positionJSON, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPositionJSON(p))
	}
	return out
}

type positionViewJSON struct {
	positionJSON
	CurrentPrice  float64    `json:"current_price"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	PnLPercent    float64    `json:"pnl_percent"`
	PriceAt       *time.Time `json:"price_at,omitempty"`
	PriceStale    bool       `json:"price_stale"`
}

func toPositionViewJSON(v domain.PositionView) positionViewJSON {
	out := positionViewJSON{
		positionJSON:  toPositionJSON(v.Position),
		CurrentPrice:  v.CurrentPrice,
		UnrealizedPnL: v.UnrealizedPnL,
		PnLPercent:    v.PnLPct,
		PriceStale:    v.PriceStale,
	}
	if !v.PriceAt.IsZero() {
		t := v.PriceAt
		out.PriceAt = &t
	}
	return out
}

type orderJSON struct {
	Status        string    `json:"status"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Price         float64   `json:"price"`
	Size          float64   `json:"size"`
	ProductID     int       `json:"product_id,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	State         string    `json:"state,omitempty"`
	ExpectedPrice float64   `json:"expected_price,omitempty"`
	MarketPrice   float64   `json:"market_price,omitempty"`
	Message       string    `json:"message,omitempty"`
	Error         string    `json:"error,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

func toOrderJSON(o *domain.OrderResult) *orderJSON {
	if o == nil {
		return nil
	}
	return &orderJSON{
		Status:        string(o.Status),
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		Price:         o.Price,
		Size:          o.Size,
		ProductID:     o.ProductID,
		OrderID:       o.OrderID,
		State:         o.State,
		ExpectedPrice: o.ExpectedPrice,
		MarketPrice:   o.MarketPrice,
		Message:       o.Message,
		Error:         o.Error,
		SubmittedAt:   o.SubmittedAt,
	}
}

type priceCheckJSON struct {
	Valid         bool    `json:"valid"`
	ExpectedPrice float64 `json:"expected_price"`
	MarketMid     float64 `json:"market_mid"`
	BestBid       float64 `json:"best_bid"`
	BestAsk       float64 `json:"best_ask"`
	Deviation     float64 `json:"deviation"`
	Tolerance     float64 `json:"tolerance"`
	Message       string  `json:"message,omitempty"`
}

type signalJSON struct {
	Source     string   `json:"source"`
	Symbol     string   `json:"symbol,omitempty"`
	Action     string   `json:"action,omitempty"`
	Price      float64  `json:"price,omitempty"`
	Size       *float64 `json:"size,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
}

type decisionJSON struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Opened  *positionJSON  `json:"opened,omitempty"`
	Closed  []positionJSON `json:"closed,omitempty"`
	Current *positionJSON  `json:"current,omitempty"`
}

type processResultJSON struct {
	Summary    string          `json:"summary"`
	Outcome    string          `json:"outcome"`
	Duplicate  bool            `json:"duplicate"`
	EventKey   string          `json:"event_key"`
	Signal     signalJSON      `json:"signal"`
	Decision   *decisionJSON   `json:"decision,omitempty"`
	Order      *orderJSON      `json:"order,omitempty"`
	PriceCheck *priceCheckJSON `json:"price_check,omitempty"`
}

func toProcessResultJSON(res domain.ProcessResult) processResultJSON {
	out := processResultJSON{
		Summary:   res.Summary,
		Outcome:   string(res.Outcome),
		Duplicate: res.Duplicate,
		EventKey:  res.EventKey,
		Signal: signalJSON{
			Source:     res.Signal.Source,
			Symbol:     res.Signal.Symbol,
			Action:     string(res.Signal.Action),
			Price:      res.Signal.Price,
			Size:       res.Signal.Size,
			StopLoss:   res.Signal.StopLoss,
			TakeProfit: res.Signal.TakeProfit,
		},
		Order: toOrderJSON(res.Order),
	}
	if c := res.PriceCheck; c != nil {
		out.PriceCheck = &priceCheckJSON{
			Valid:         c.Valid,
			ExpectedPrice: c.ExpectedPrice,
			MarketMid:     c.MarketMid,
			BestBid:       c.BestBid,
			BestAsk:       c.BestAsk,
			Deviation:     c.Deviation,
			Tolerance:     c.Tolerance,
			Message:       c.Message,
		}
	}
	if d := res.Decision; d != nil {
		dj := &decisionJSON{Kind: string(d.Kind), Message: d.Message}
		if d.Opened != nil {
			p := toPositionJSON(*d.Opened)
			dj.Opened = &p
		}
		if d.Current != nil {
			p := toPositionJSON(*d.Current)
			dj.Current = &p
		}
		if len(d.Closed) > 0 {
			dj.Closed = toPositionsJSON(d.Closed)
		}
		out.Decision = dj
	}
	return out
}

type exitJSON struct {
	Position positionJSON `json:"position"`
	Exit     string       `json:"exit"`
	Reason   string       `json:"reason"`
	Price    float64      `json:"price"`
	Order    *orderJSON   `json:"order,omitempty"`
}

func toExitJSON(r domain.ExitResult) exitJSON {
	return exitJSON{
		Position: toPositionJSON(r.Position),
		Exit:     string(r.Evaluation.Exit),
		Reason:   r.Evaluation.Reason,
		Price:    r.Evaluation.Price,
		Order:    toOrderJSON(r.Order),
	}
}

type signalRecordJSON struct {
	ID         string    `json:"id"`
	EventKey   string    `json:"event_key"`
	Source     string    `json:"source"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Price      float64   `json:"price"`
	RawText    string    `json:"raw_text,omitempty"`
	Outcome    string    `json:"outcome"`
	PositionID string    `json:"position_id,omitempty"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toSignalRecordJSON(r domain.SignalRecord) signalRecordJSON {
	return signalRecordJSON{
		ID:         r.ID,
		EventKey:   r.EventKey,
		Source:     r.Source,
		Symbol:     r.Symbol,
		Action:     r.Action,
		Price:      r.Price,
		RawText:    r.RawText,
		Outcome:    string(r.Outcome),
		PositionID: r.PositionID,
		Message:    r.Message,
		CreatedAt:  r.CreatedAt,
	}
}
