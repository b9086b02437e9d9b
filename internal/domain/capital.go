package domain

// CapitalState is the single capital pool. It is mutated only as a side
// effect of a position resolution; all drawdown figures are recomputed from
// the current fields, never cached.
type CapitalState struct {
	Starting   float64
	Current    float64
	Peak       float64
	WinStreak  int
	LossStreak int
	BestTrade  float64
	WorstTrade float64
	Wins       int
	Losses     int
}

// NewCapitalState returns a fresh capital pool.
func NewCapitalState(starting float64) CapitalState {
	return CapitalState{Starting: starting, Current: starting, Peak: starting}
}

// ApplyPnL applies one resolved position's profit or loss, updating peak,
// streaks, and best/worst trade.
func (c *CapitalState) ApplyPnL(pnl float64) {
	c.Current += pnl
	if c.Current > c.Peak {
		c.Peak = c.Current
	}
	if pnl > 0 {
		c.Wins++
		c.WinStreak++
		c.LossStreak = 0
		if pnl > c.BestTrade {
			c.BestTrade = pnl
		}
	} else {
		c.Losses++
		c.LossStreak++
		c.WinStreak = 0
		if pnl < c.WorstTrade {
			c.WorstTrade = pnl
		}
	}
}

// DrawdownFromPeak returns (peak - current) / peak.
func (c CapitalState) DrawdownFromPeak() float64 {
	if c.Peak <= 0 {
		return 0
	}
	return (c.Peak - c.Current) / c.Peak
}

// DrawdownFromStart returns (starting - current) / starting. Negative when
// the pool is in profit.
func (c CapitalState) DrawdownFromStart() float64 {
	if c.Starting <= 0 {
		return 0
	}
	return (c.Starting - c.Current) / c.Starting
}

// ROI returns the return on the starting capital as a fraction.
func (c CapitalState) ROI() float64 {
	if c.Starting <= 0 {
		return 0
	}
	return (c.Current - c.Starting) / c.Starting
}

// WinRate returns the fraction of resolved trades that won.
func (c CapitalState) WinRate() float64 {
	total := c.Wins + c.Losses
	if total == 0 {
		return 0
	}
	return float64(c.Wins) / float64(total)
}

// RiskLimits are the admission-control caps, all expressed as fractions of
// current capital except MaxDrawdownPct which is measured against starting
// capital.
type RiskLimits struct {
	MaxDrawdownPct      float64
	MaxPerTradePct      float64
	MaxPerWhalePct      float64
	MaxPerMarketPct     float64
	MaxDailyExposurePct float64
}

// DefaultRiskLimits returns the stock limits for a small capital pool.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxDrawdownPct:      0.30,
		MaxPerTradePct:      0.15,
		MaxPerWhalePct:      0.25,
		MaxPerMarketPct:     0.35,
		MaxDailyExposurePct: 0.60,
	}
}

// Snapshot is the point-in-time engine state handed to reporting.
type Snapshot struct {
	Capital         float64
	StartingCapital float64
	ROI             float64 // fraction
	WinRate         float64 // fraction of resolved trades
	Wins            int
	Losses          int
	WinStreak       int
	LossStreak      int
	BestTrade       float64
	WorstTrade      float64
	PendingExposure float64
	PendingCount    int
	RiskState       string
}
