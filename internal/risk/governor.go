// Package risk enforces the capital protection rules: the hard drawdown
// stop, exposure caps per trade, whale, market, and day, the clip ladders
// applied on top of the sizer's output, and trailing stops on open positions.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// Risk states reported by the governor.
const (
	StateNormal  = "NORMAL"
	StateCaution = "CAUTION"
	StateStopped = "STOPPED"
)

const historyWindow = 20

// Decision is the outcome of an admission check. Allowed is false only when
// the hard drawdown stop has tripped; everything else surfaces as a reason
// without blocking.
type Decision struct {
	Allowed bool
	State   string
	Reasons []string
}

// ClipResult is the outcome of sizing a specific trade against the caps.
type ClipResult struct {
	Size     float64
	Rejected bool
	Reasons  []string
}

// Governor tracks live exposure and applies the risk limits. All methods are
// safe for concurrent use.
type Governor struct {
	mu sync.Mutex

	limits  domain.RiskLimits
	capital domain.CapitalState

	whaleExposure  map[string]float64
	marketExposure map[string]float64
	stops          map[string]*positionStop // position id -> trailing stop

	dailyOpened float64
	dailyDate   string

	history []bool // rolling resolved-trade results, newest last

	logger *slog.Logger
}

// positionStop pairs an open position's trailing stop with the token whose
// price ticks drive it.
type positionStop struct {
	tokenID string
	stop    *TrailingStop
}

// NewGovernor creates a Governor seeded with the current capital state.
func NewGovernor(limits domain.RiskLimits, capital domain.CapitalState, logger *slog.Logger) *Governor {
	return &Governor{
		limits:         limits,
		capital:        capital,
		whaleExposure:  make(map[string]float64),
		marketExposure: make(map[string]float64),
		stops:          make(map[string]*positionStop),
		logger:         logger.With(slog.String("component", "risk")),
	}
}

// UpdateCapital replaces the governor's view of the capital pool. Called
// after every resolution so drawdown checks see fresh numbers.
func (g *Governor) UpdateCapital(capital domain.CapitalState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.capital = capital
}

// CanTrade runs the global admission check. Only the drawdown stop halts
// trading; loss streaks, a weak rolling win rate, and a spent daily budget
// are reported as caution flags.
func (g *Governor) CanTrade(now time.Time) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(now)

	d := Decision{Allowed: true, State: StateNormal}

	if dd := g.capital.DrawdownFromStart(); dd >= g.limits.MaxDrawdownPct {
		d.Allowed = false
		d.State = StateStopped
		d.Reasons = append(d.Reasons, fmt.Sprintf("drawdown %.1f%% >= max %.1f%%", dd*100, g.limits.MaxDrawdownPct*100))
		g.logger.Warn("trading halted", slog.Float64("drawdown", dd))
		return d
	}

	if g.capital.LossStreak >= 5 {
		d.State = StateCaution
		d.Reasons = append(d.Reasons, fmt.Sprintf("%d consecutive losses", g.capital.LossStreak))
	}
	if rate, n := g.rollingWinRateLocked(); n >= historyWindow && rate < 0.55 {
		d.State = StateCaution
		d.Reasons = append(d.Reasons, fmt.Sprintf("rolling win rate %.0f%% below 55%%", rate*100))
	}
	if budget := g.capital.Current * g.limits.MaxDailyExposurePct; g.dailyOpened >= budget {
		d.State = StateCaution
		d.Reasons = append(d.Reasons, fmt.Sprintf("daily exposure $%.2f at budget $%.2f", g.dailyOpened, budget))
	}
	return d
}

// CheckTrade clips a proposed size against the per-trade, per-whale, and
// per-market caps, then applies the drawdown and loss-streak ladders. The
// final size is rounded to $0.50 and rejected below the $2 floor.
func (g *Governor) CheckTrade(whale, marketID string, proposed float64) ClipResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	res := ClipResult{Size: proposed}

	if limit := g.capital.Current * g.limits.MaxPerTradePct; res.Size > limit {
		res.Size = limit
		res.Reasons = append(res.Reasons, fmt.Sprintf("clipped to per-trade cap $%.2f", limit))
	}
	if headroom := g.capital.Current*g.limits.MaxPerWhalePct - g.whaleExposure[whale]; res.Size > headroom {
		res.Size = max(0, headroom)
		res.Reasons = append(res.Reasons, fmt.Sprintf("clipped to whale headroom $%.2f", max(0, headroom)))
	}
	if headroom := g.capital.Current*g.limits.MaxPerMarketPct - g.marketExposure[marketID]; res.Size > headroom {
		res.Size = max(0, headroom)
		res.Reasons = append(res.Reasons, fmt.Sprintf("clipped to market headroom $%.2f", max(0, headroom)))
	}

	dd := g.capital.DrawdownFromStart()
	switch {
	case dd >= 0.20:
		res.Size *= 0.5
		res.Reasons = append(res.Reasons, "50% drawdown reduction")
	case dd >= 0.15:
		res.Size *= 0.7
		res.Reasons = append(res.Reasons, "30% drawdown reduction")
	case dd >= 0.10:
		res.Size *= 0.85
		res.Reasons = append(res.Reasons, "15% drawdown reduction")
	}

	switch {
	case g.capital.LossStreak >= 3:
		res.Size *= 0.5
		res.Reasons = append(res.Reasons, "50% loss-streak reduction")
	case g.capital.LossStreak >= 2:
		res.Size *= 0.75
		res.Reasons = append(res.Reasons, "25% loss-streak reduction")
	}

	res.Size = roundToHalf(res.Size)
	if res.Size < 2.0 {
		res.Size = 0
		res.Rejected = true
		res.Reasons = append(res.Reasons, "final size below $2 minimum")
	}
	return res
}

// RecordOpen adds a filled position to the exposure ledgers and arms its
// trailing stop at 70% of the entry price.
func (g *Governor) RecordOpen(pos domain.Position, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(now)
	g.whaleExposure[pos.Whale] += pos.Size
	g.marketExposure[pos.MarketID] += pos.Size
	g.dailyOpened += pos.Size
	if pos.EntryPrice > 0 {
		g.stops[pos.ID] = &positionStop{tokenID: pos.TokenID, stop: NewTrailingStop(pos.EntryPrice)}
	}
}

// RecordClose releases exposure, disarms the position's trailing stop, and
// feeds the rolling result window.
func (g *Governor) RecordClose(pos domain.Position) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.whaleExposure[pos.Whale] = max(0, g.whaleExposure[pos.Whale]-pos.Size)
	g.marketExposure[pos.MarketID] = max(0, g.marketExposure[pos.MarketID]-pos.Size)
	delete(g.stops, pos.ID)

	g.history = append(g.history, pos.PnL > 0)
	if len(g.history) > historyWindow {
		g.history = g.history[len(g.history)-historyWindow:]
	}
}

// ObservePrice feeds a token price tick to every armed stop on that token
// and returns the ids of positions whose stop it crossed. A tripped stop is
// disarmed, so each position is reported at most once.
func (g *Governor) ObservePrice(tokenID string, price float64) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var tripped []string
	for id, ps := range g.stops {
		if ps.tokenID != tokenID {
			continue
		}
		if ps.stop.Observe(price) {
			tripped = append(tripped, id)
			delete(g.stops, id)
			g.logger.Info("trailing stop tripped",
				slog.String("position", id),
				slog.Float64("price", price),
				slog.Float64("stop", ps.stop.Stop()))
		}
	}
	return tripped
}

// WhaleExposure returns the open exposure attributed to one whale.
func (g *Governor) WhaleExposure(whale string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.whaleExposure[whale]
}

// State returns the current risk-state label without the full decision.
func (g *Governor) State(now time.Time) string {
	return g.CanTrade(now).State
}

func (g *Governor) rollingWinRateLocked() (float64, int) {
	if len(g.history) == 0 {
		return 0, 0
	}
	wins := 0
	for _, won := range g.history {
		if won {
			wins++
		}
	}
	return float64(wins) / float64(len(g.history)), len(g.history)
}

// rollDayLocked resets the daily ledger when the UTC date changes.
func (g *Governor) rollDayLocked(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if day != g.dailyDate {
		g.dailyDate = day
		g.dailyOpened = 0
	}
}

func roundToHalf(x float64) float64 {
	return math.Round(x*2) / 2
}
