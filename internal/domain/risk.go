package domain

// ExitKind names the rule that closed a position.
type ExitKind string

const (
	ExitNone           ExitKind = ""
	ExitStopLoss       ExitKind = "stop_loss"
	ExitTakeProfit     ExitKind = "take_profit"
	ExitTrailingStop   ExitKind = "trailing_stop"
	ExitEmergencySpike ExitKind = "emergency_spike"
	ExitSignalFlip     ExitKind = "signal_flip"
	ExitManual         ExitKind = "manual"
)

// TrailingType selects how the trailing-stop retrace is measured.
type TrailingType string

const (
	TrailingPercent TrailingType = "percent"
	TrailingAmount  TrailingType = "amount"
)

// RiskSettings are the tunable risk parameters. Percentages are fractions
// (0.01 = 1%); the settings API speaks whole percents.
type RiskSettings struct {
	StopLossPct       float64
	TakeProfitPct     float64
	TrailingEnabled   bool
	TrailingType      TrailingType
	TrailingPct       float64
	TrailingAmount    float64
	EmergencySpikePct float64
	MaxPositionSize   float64
	MaxOpenPositions  int
	MaxDailyTrades    int
	MaxDailyLoss      float64
	PanicMode         bool
	TradingEnabled    bool
}

// RiskEvaluation is the verdict of the risk guard for one position at one
// price.
type RiskEvaluation struct {
	Close  bool
	Exit   ExitKind
	Reason string
	Price  float64
	PnLPct float64
}

// RiskStats summarizes today's risk usage.
type RiskStats struct {
	DailyLoss           float64 `json:"daily_loss"`
	DailyTrades         int     `json:"daily_trades"`
	OpenPositions       int     `json:"open_positions"`
	TotalExposure       float64 `json:"total_exposure"`
	MaxDailyLoss        float64 `json:"max_daily_loss"`
	AvailableRiskBudget float64 `json:"available_risk_budget"`
	PanicMode           bool    `json:"panic_mode"`
	TradingEnabled      bool    `json:"trading_enabled"`
}

// ExitResult describes a position closed outside the signal path, together
// with the closing order that followed it.
type ExitResult struct {
	Position   Position
	Evaluation RiskEvaluation
	Order      *OrderResult
}
