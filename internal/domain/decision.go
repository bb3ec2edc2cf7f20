package domain

// DecisionKind is what the position manager did with a signal.
type DecisionKind string

const (
	DecisionOpened        DecisionKind = "opened"
	DecisionIgnored       DecisionKind = "ignored"
	DecisionImmediateFlip DecisionKind = "immediate_flip"
	DecisionRefused       DecisionKind = "refused"
)

// Decision is the result of PositionManager.Handle.
type Decision struct {
	Kind    DecisionKind
	Symbol  string
	Side    Side
	Price   float64
	Opened  *Position
	Closed  []Position
	Current *Position
	Order   *OrderResult
	Message string
}

// Outcome is the processing result reported to the transport layer.
type Outcome string

const (
	OutcomeSkipped       Outcome = "skipped"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeBlocked       Outcome = "blocked"
	OutcomeOpened        Outcome = "opened"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeImmediateFlip Outcome = "immediate_flip"
	OutcomeRefused       Outcome = "refused"
	OutcomeError         Outcome = "error"
)

// OutcomeFor maps a decision kind to its outcome.
func OutcomeFor(k DecisionKind) Outcome {
	switch k {
	case DecisionOpened:
		return OutcomeOpened
	case DecisionIgnored:
		return OutcomeIgnored
	case DecisionImmediateFlip:
		return OutcomeImmediateFlip
	case DecisionRefused:
		return OutcomeRefused
	default:
		return OutcomeError
	}
}

// ProcessResult is returned for every inbound alert.
type ProcessResult struct {
	Summary    string
	Outcome    Outcome
	Duplicate  bool
	EventKey   string
	Signal     Signal
	Decision   *Decision
	Order      *OrderResult
	PriceCheck *PriceCheck
}
