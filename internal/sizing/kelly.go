// Package sizing implements Kelly-criterion position sizing with the
// layered safety adjustments used by the copy engine: fractional Kelly,
// confidence scaling, recent-performance dampening, a drawdown ladder, and
// streak/time-remaining cuts.
package sizing

import (
	"math"
)

// Config holds the sizing constants.
type Config struct {
	// KellyFraction scales the raw Kelly. 0.25 is quarter Kelly.
	KellyFraction float64
	// MaxPositionPct caps a single position as a fraction of capital.
	MaxPositionPct float64
	// MinPosition is the smallest viable position in dollars; anything
	// below it is forced to zero.
	MinPosition float64
	// MaxPosition is the absolute dollar cap.
	MaxPosition float64
	// DefaultAvgWinPct and DefaultAvgLossPct are the payoff assumptions used
	// when a whale has no measured profit profile. 0.40 / 1.00 reflects
	// binary markets: ~40% return on wins, full loss of stake on losses.
	DefaultAvgWinPct  float64
	DefaultAvgLossPct float64
}

// DefaultConfig returns the stock sizing parameters.
func DefaultConfig() Config {
	return Config{
		KellyFraction:     0.25,
		MaxPositionPct:    0.15,
		MinPosition:       2.0,
		MaxPosition:       5000.0,
		DefaultAvgWinPct:  0.40,
		DefaultAvgLossPct: 1.00,
	}
}

// WhaleEdge is the whale's measured edge used as the Kelly inputs.
// AvgWinPct/AvgLossPct of zero fall back to the configured defaults.
type WhaleEdge struct {
	WinRate    float64 // 0-1, or 0-100 (normalized internally)
	AvgWinPct  float64
	AvgLossPct float64
}

// RecentPerformance is an optional short-window win rate used to dampen
// sizing when a whale's recent results diverge from their historical rate.
type RecentPerformance struct {
	WinRate float64 // 0-1
	Trades  int
}

// Result carries the computed size and the intermediate values, for audit
// logging and tests.
type Result struct {
	Size            float64
	RawKelly        float64
	FractionalKelly float64
	AdjustedKelly   float64
	WinRateUsed     float64
	Reason          string
	Capped          bool
}

// Sizer computes Kelly-optimal position sizes under the configured caps.
type Sizer struct {
	cfg Config
}

// New creates a Sizer.
func New(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// Kelly computes the raw Kelly fraction: b = avgWin/avgLoss,
// f = (p*b - q) / b. The result is negative when there is no edge.
func (s *Sizer) Kelly(winRate, avgWinPct, avgLossPct float64) float64 {
	if avgWinPct <= 0 {
		avgWinPct = s.cfg.DefaultAvgWinPct
	}
	if avgLossPct <= 0 {
		avgLossPct = s.cfg.DefaultAvgLossPct
	}
	p := winRate
	q := 1 - p
	b := avgWinPct / avgLossPct
	return (p*b - q) / b
}

// Position sizes a trade from current capital, the whale's edge, and the
// signal confidence (0-100). recent may be nil.
func (s *Sizer) Position(capital float64, edge WhaleEdge, confidence float64, recent *RecentPerformance) Result {
	winRate := normalizeRate(edge.WinRate)

	raw := s.Kelly(winRate, edge.AvgWinPct, edge.AvgLossPct)
	fractional := raw * s.cfg.KellyFraction
	adjusted := fractional * (confidence / 100)

	if recent != nil && recent.Trades > 0 {
		switch {
		case recent.WinRate < winRate*0.90:
			adjusted *= 0.7
		case recent.WinRate < winRate*0.95:
			adjusted *= 0.85
		case recent.WinRate > winRate*1.05:
			adjusted *= 1.1
		}
	}

	res := Result{
		RawKelly:        raw,
		FractionalKelly: fractional,
		AdjustedKelly:   adjusted,
		WinRateUsed:     winRate,
		Reason:          "kelly optimal",
	}

	if adjusted <= 0 {
		res.Size = 0
		res.Reason = "negative edge"
		return res
	}

	size := capital * adjusted
	original := size

	if maxByPct := capital * s.cfg.MaxPositionPct; size > maxByPct {
		size = maxByPct
		res.Reason = "capped at max position pct"
	}
	if size > s.cfg.MaxPosition {
		size = s.cfg.MaxPosition
		res.Reason = "capped at absolute max"
	}
	if size > 0 && size < s.cfg.MinPosition {
		size = 0
		res.Reason = "below minimum position"
	}

	res.Size = RoundToHalf(size)
	res.Capped = res.Size != RoundToHalf(original)
	return res
}

// PositionWithDrawdown sizes a trade and then applies the drawdown ladder
// measured from starting capital.
func (s *Sizer) PositionWithDrawdown(capital float64, edge WhaleEdge, confidence float64, recent *RecentPerformance, startingCapital float64) Result {
	res := s.Position(capital, edge, confidence, recent)

	var drawdown float64
	if startingCapital > 0 {
		drawdown = (startingCapital - capital) / startingCapital
	}
	if m := DrawdownMultiplier(drawdown); m < 1.0 {
		res.Size = RoundToHalf(res.Size * m)
		res.Capped = true
	}
	return res
}

// DrawdownMultiplier returns the sizing multiplier for a drawdown fraction
// measured from starting capital: 25%+ is a severe 75% cut, 20%+ halves,
// 15%+ cuts 30%, 10%+ cuts 15%.
func DrawdownMultiplier(drawdown float64) float64 {
	switch {
	case drawdown >= 0.25:
		return 0.25
	case drawdown >= 0.20:
		return 0.5
	case drawdown >= 0.15:
		return 0.7
	case drawdown >= 0.10:
		return 0.85
	default:
		return 1.0
	}
}

// RoundToHalf rounds a dollar amount to the nearest $0.50.
func RoundToHalf(x float64) float64 {
	return math.Round(x*2) / 2
}

// normalizeRate accepts a win rate given either as a fraction or a
// percentage and returns a fraction.
func normalizeRate(r float64) float64 {
	if r > 1 {
		return r / 100
	}
	return r
}
