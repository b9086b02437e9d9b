package domain

import "time"

// PositionStatus tracks a position through its lifecycle. There are exactly
// two states: a position is pending until the market outcome is applied, then
// resolved forever.
type PositionStatus string

const (
	PositionStatusPending  PositionStatus = "PENDING"
	PositionStatusResolved PositionStatus = "RESOLVED"
)

// Outcome is the result of a position from our perspective.
type Outcome string

const (
	OutcomeWin  Outcome = "WIN"
	OutcomeLoss Outcome = "LOSS"
)

// MarketOutcome is what the binary market itself resolved to.
type MarketOutcome string

const (
	MarketOutcomeYes MarketOutcome = "YES"
	MarketOutcomeNo  MarketOutcome = "NO"
)

// ResolutionSource records where a position's outcome came from: the
// authoritative market source, the probabilistic fallback, or an early
// trailing-stop exit. The three are never conflated in downstream
// aggregates.
type ResolutionSource string

const (
	ResolutionActual    ResolutionSource = "ACTUAL"
	ResolutionSimulated ResolutionSource = "SIMULATED"
	ResolutionStop      ResolutionSource = "STOP"
)

// ExecutionMode tags whether a position was placed through the live gateway
// or only simulated.
type ExecutionMode string

const (
	ExecutionLive      ExecutionMode = "live"
	ExecutionSimulated ExecutionMode = "simulated"
)

// Position is one mirrored whale trade. It is created by the decision
// pipeline on admission and mutated only by the ledger's resolve path.
type Position struct {
	ID       string
	OrderID  string // gateway order id, empty in simulated mode
	Whale    string
	MarketID string
	TokenID  string

	Timeframe Timeframe
	Tier      Timeframe // tier the whale was gated through; may differ from market timeframe
	Side      Side

	Size       float64 // USD committed at open
	Quantity   float64 // tokens held (live fills); 0 in simulated mode
	EntryPrice float64
	Confidence float64
	WhaleRate  float64 // whale win rate at open, used by the fallback resolution
	Mode       ExecutionMode

	OpenedAt           time.Time
	ExpectedResolution time.Time

	Status           PositionStatus
	Outcome          Outcome       // empty until resolved
	MarketOutcome    MarketOutcome // empty until resolved
	PnL              float64
	ResolutionSource ResolutionSource
	ResolvedAt       *time.Time
}

// Won reports whether our side of the trade wins given the market outcome:
// a BUY wins on YES, a SELL wins on NO.
func (p Position) Won(outcome MarketOutcome) bool {
	return (p.Side == SideBuy && outcome == MarketOutcomeYes) ||
		(p.Side == SideSell && outcome == MarketOutcomeNo)
}

// ResolvedUpdate carries the terminal fields written when a position
// resolves.
type ResolvedUpdate struct {
	Outcome       Outcome
	MarketOutcome MarketOutcome
	PnL           float64
	Source        ResolutionSource
	ResolvedAt    time.Time
}
