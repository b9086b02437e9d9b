package domain

import "context"

// OrderResult is the outcome of one gateway placement.
type OrderResult struct {
	Success   bool
	OrderID   string
	FillPrice float64
	Quantity  float64 // tokens filled
	Cost      float64 // USD actually committed
	Error     string  // populated when Success is false
}

// ExecutionGateway places mirrored orders. There are two implementations,
// live and simulated, selected once at construction; shared code never
// branches on a dry-run flag.
type ExecutionGateway interface {
	Place(ctx context.Context, tokenID string, side Side, usdAmount, price float64) (OrderResult, error)
	Mode() ExecutionMode
}

// OutcomeResult is the answer from the market outcome source for one token.
// Resolved false means the market has not settled; Outcome is empty then.
type OutcomeResult struct {
	Resolved bool
	Outcome  MarketOutcome
}

// OutcomeSource answers whether a market has resolved and to what. Queries
// are expected to be polled; implementations carry their own timeouts.
type OutcomeSource interface {
	Query(ctx context.Context, tokenID string) (OutcomeResult, error)
}

// Advice is a validator's opinion on a candidate trade.
type Advice struct {
	ConfidenceDelta float64
	Recommendation  string // "PROCEED" or "SKIP"
	Reasoning       string
	Concerns        []string
}

// Advisor is an optional pre-trade validator. The engine must behave
// correctly with a pass-through implementation (delta 0).
type Advisor interface {
	Validate(ctx context.Context, sig TradeSignal, baseConfidence float64) (Advice, error)
}

const (
	AdviceProceed = "PROCEED"
	AdviceSkip    = "SKIP"
)
