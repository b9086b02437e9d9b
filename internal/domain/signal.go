package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side is the direction of a trade on a binary market token.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Timeframe buckets a market by how long it runs before resolving.
type Timeframe string

const (
	Timeframe15Min   Timeframe = "15min"
	TimeframeHourly  Timeframe = "hourly"
	Timeframe4Hour   Timeframe = "4hour"
	TimeframeDaily   Timeframe = "daily"
	TimeframeUnknown Timeframe = "unknown"
)

// Duration returns the nominal market duration for the timeframe. Unknown
// timeframes fall back to 15 minutes, the shortest market we copy.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TimeframeHourly:
		return time.Hour
	case Timeframe4Hour:
		return 4 * time.Hour
	case TimeframeDaily:
		return 24 * time.Hour
	default:
		return 15 * time.Minute
	}
}

// TradeSignal is a normalized whale trade observed on the feed. It is
// validated once at the ingestion boundary and trusted downstream.
type TradeSignal struct {
	ID             string // UUID for dedup
	Whale          string // whale wallet address, lowercase hex
	Side           Side
	MarketID       string
	TokenID        string
	Timeframe      Timeframe
	Price          float64 // token price in [0,1]
	Confidence     float64 // raw confidence score, 0-100
	MarketQuestion string
	MarketEndTime  *time.Time // authoritative end time when known
	ObservedAt     time.Time
}

// Validate checks the signal for structural problems. It is called once when
// the signal enters the pipeline; downstream components assume a valid signal.
func (s TradeSignal) Validate() error {
	if !common.IsHexAddress(s.Whale) {
		return fmt.Errorf("%w: whale address %q", ErrInvalidSignal, s.Whale)
	}
	if s.Side != SideBuy && s.Side != SideSell {
		return fmt.Errorf("%w: side %q", ErrInvalidSignal, s.Side)
	}
	if s.TokenID == "" {
		return fmt.Errorf("%w: empty token id", ErrInvalidSignal)
	}
	if s.Price < 0 || s.Price > 1 {
		return fmt.Errorf("%w: price %.4f outside [0,1]", ErrInvalidSignal, s.Price)
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return fmt.Errorf("%w: confidence %.1f outside [0,100]", ErrInvalidSignal, s.Confidence)
	}
	return nil
}

// FillRole says whether the whale was the maker or the taker on a fill.
type FillRole string

const (
	FillRoleMaker FillRole = "maker"
	FillRoleTaker FillRole = "taker"
)

// WhaleFill is a raw order-filled observation used for whale quality
// attribution. Amounts are in dollars (raw 1e6-scaled amounts divided down
// at ingestion). TokenSide is the outcome label the traded token
// represents; empty when it could not be determined, in which case
// attribution skips the fill rather than guessing.
type WhaleFill struct {
	TokenID     string
	Whale       string
	Role        FillRole
	MakerAmount float64
	TakerAmount float64
	TokenSide   MarketOutcome // YES, NO, or empty when unknown
	Timeframe   Timeframe
	ObservedAt  time.Time
}

// ImpliedPrice derives the token price from the fill amounts. The taker leg
// is the collateral side on a whale buy, so dollars over tokens gives the
// price paid per token. Zero when the amounts cannot support a price.
func (f WhaleFill) ImpliedPrice() float64 {
	if f.MakerAmount <= 0 {
		return 0
	}
	return f.TakerAmount / f.MakerAmount
}
