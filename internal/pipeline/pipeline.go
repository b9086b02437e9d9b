// Package pipeline is the decision engine. It owns the references between
// the sizer, risk governor, tier strategy, quality tracker, and ledger, and
// mediates every cross-component call: signals come in one side, pending
// positions and resolutions come out the other.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
	"github.com/alanyoungcy/whalecopybot/internal/ledger"
	"github.com/alanyoungcy/whalecopybot/internal/quality"
	"github.com/alanyoungcy/whalecopybot/internal/risk"
	"github.com/alanyoungcy/whalecopybot/internal/sizing"
	"github.com/alanyoungcy/whalecopybot/internal/tier"
)

// Decision labels for audit records.
const (
	eventTradeOpened   = "trade_opened"
	eventTradeSkipped  = "trade_skipped"
	eventTradeRejected = "trade_rejected"
	eventResolved      = "position_resolved"
)

// Pipeline wires the decision components together. Construct once with
// Config and share; all methods are safe for concurrent use.
type Pipeline struct {
	sizer     *sizing.EnhancedSizer
	governor  *risk.Governor
	strategy  *tier.Strategy
	tracker   *quality.Tracker
	consensus *quality.ConsensusTracker
	ledger    *ledger.Ledger
	gateway   domain.ExecutionGateway
	advisor   domain.Advisor

	capitalStore domain.CapitalStore
	audit        domain.AuditStore

	mu      sync.Mutex
	capital domain.CapitalState

	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Config carries the pipeline's collaborators.
type Config struct {
	Sizer        *sizing.EnhancedSizer
	Governor     *risk.Governor
	Strategy     *tier.Strategy
	Tracker      *quality.Tracker
	Consensus    *quality.ConsensusTracker
	Ledger       *ledger.Ledger
	Gateway      domain.ExecutionGateway
	Advisor      domain.Advisor
	CapitalStore domain.CapitalStore
	Audit        domain.AuditStore
	Capital      domain.CapitalState
	Logger       *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		sizer:        cfg.Sizer,
		governor:     cfg.Governor,
		strategy:     cfg.Strategy,
		tracker:      cfg.Tracker,
		consensus:    cfg.Consensus,
		ledger:       cfg.Ledger,
		gateway:      cfg.Gateway,
		advisor:      cfg.Advisor,
		capitalStore: cfg.CapitalStore,
		audit:        cfg.Audit,
		capital:      cfg.Capital,
		logger:       cfg.Logger.With(slog.String("component", "pipeline")),
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// SignalResult reports what happened to one inbound signal.
type SignalResult struct {
	Opened   bool
	Position domain.Position
	Reason   string
}

// HandleSignal runs the full admission chain for one whale trade signal:
// validation, consensus, advisor, tier gate, risk admission, time gate,
// sizing, risk clipping, execution, and ledger open. Skips are normal
// control flow and come back as a SignalResult with a reason, not an error.
func (p *Pipeline) HandleSignal(ctx context.Context, sig domain.TradeSignal) (SignalResult, error) {
	if err := sig.Validate(); err != nil {
		return SignalResult{}, err
	}
	now := p.now()

	p.consensus.Record(sig.MarketID, sig.Whale, sig.Side, now)
	cons := p.consensus.Check(sig.MarketID, now)
	if cons.Skip {
		return p.skip(ctx, sig, cons.Message), nil
	}

	confidence := sig.Confidence + cons.ConfidenceDelta
	if p.advisor != nil {
		advice, err := p.advisor.Validate(ctx, sig, confidence)
		if err != nil {
			// The advisor is optional; a failure never blocks the trade.
			p.logger.Warn("advisor unavailable", slog.String("error", err.Error()))
		} else {
			if advice.Recommendation == domain.AdviceSkip {
				return p.skip(ctx, sig, fmt.Sprintf("advisor: %s", advice.Reasoning)), nil
			}
			confidence += advice.ConfidenceDelta
		}
	}
	confidence = clamp(confidence, 0, 100)

	gate := p.strategy.ShouldCopy(sig, confidence)
	if !gate.ShouldCopy {
		return p.skip(ctx, sig, gate.Reason), nil
	}

	admission := p.governor.CanTrade(now)
	if !admission.Allowed {
		p.auditLog(ctx, eventTradeRejected, map[string]any{
			"whale":   sig.Whale,
			"market":  sig.MarketID,
			"reasons": admission.Reasons,
		})
		return SignalResult{Reason: "trading halted"}, fmt.Errorf("pipeline: admit signal: %w", domain.ErrTradingHalted)
	}

	windowEnd := p.windowEnd(sig, now)
	tgate := risk.TimeGate(now, windowEnd, sig.Timeframe)
	if !tgate.Allowed {
		return p.skip(ctx, sig, tgate.Reason), nil
	}

	capital, starting := p.capitalView()
	edge := p.whaleEdge(sig.Whale)
	sized := p.sizer.PositionEnhanced(capital, starting, edge, confidence, windowEnd.Sub(now))
	if sized.RawKelly <= 0 {
		return p.skip(ctx, sig, sized.Reason), nil
	}
	size := sized.Size * gate.Multiplier * tgate.Multiplier
	if size < 2.0 {
		if p.gateway.Mode() == domain.ExecutionLive {
			return p.skip(ctx, sig, "sized below minimum"), nil
		}
		// Simulation keeps analytics flowing on a nominal minimum; the
		// position mode tag keeps it out of live aggregates.
		size = 2.0
	}

	clip := p.governor.CheckTrade(sig.Whale, sig.MarketID, size)
	if clip.Rejected {
		return p.skip(ctx, sig, fmt.Sprintf("risk rejected: %v", clip.Reasons)), nil
	}
	size = clip.Size

	if p.gateway.Mode() == domain.ExecutionLive && size > capital {
		p.auditLog(ctx, eventTradeRejected, map[string]any{
			"whale":  sig.Whale,
			"market": sig.MarketID,
			"size":   size,
		})
		return SignalResult{Reason: "insufficient capital"}, fmt.Errorf("pipeline: size %.2f against capital %.2f: %w", size, capital, domain.ErrInsufficientCapital)
	}

	order, err := p.gateway.Place(ctx, sig.TokenID, sig.Side, size, sig.Price)
	if err != nil {
		p.auditLog(ctx, eventTradeSkipped, map[string]any{
			"whale":  sig.Whale,
			"market": sig.MarketID,
			"reason": "gateway error: " + err.Error(),
		})
		return SignalResult{Reason: "gateway error"}, fmt.Errorf("pipeline: place order: %w", err)
	}
	if !order.Success {
		return p.skip(ctx, sig, "order not filled: "+order.Error), nil
	}

	pos := domain.Position{
		ID:         p.newID(),
		OrderID:    order.OrderID,
		Whale:      sig.Whale,
		MarketID:   sig.MarketID,
		TokenID:    sig.TokenID,
		Timeframe:  sig.Timeframe,
		Tier:       gate.Tier,
		Side:       sig.Side,
		Size:       size,
		Quantity:   order.Quantity,
		EntryPrice: order.FillPrice,
		Confidence: confidence,
		WhaleRate:  edge.WinRate,
		Mode:       p.gateway.Mode(),
		OpenedAt:   now,
	}
	if order.Cost > 0 {
		pos.Size = order.Cost
	}
	if sig.MarketEndTime != nil {
		pos.ExpectedResolution = *sig.MarketEndTime
	}

	if err := p.ledger.Open(ctx, pos); err != nil {
		return SignalResult{}, err
	}
	p.governor.RecordOpen(pos, now)

	p.auditLog(ctx, eventTradeOpened, map[string]any{
		"position":   pos.ID,
		"whale":      sig.Whale,
		"market":     sig.MarketID,
		"side":       string(sig.Side),
		"size":       pos.Size,
		"confidence": confidence,
		"tier":       string(gate.Tier),
		"mode":       string(pos.Mode),
	})
	p.logger.Info("trade opened",
		slog.String("position", pos.ID),
		slog.String("whale", sig.Whale),
		slog.Float64("size", pos.Size),
		slog.Float64("confidence", confidence))
	return SignalResult{Opened: true, Position: pos}, nil
}

// HandleFill feeds an observed whale fill into the quality tracker. Fills
// are watched for every tracked market, not only copied ones. The fill's
// implied price doubles as the tick stream for trailing stops.
func (p *Pipeline) HandleFill(ctx context.Context, fill domain.WhaleFill) {
	p.tracker.ObserveFill(fill)
	if price := fill.ImpliedPrice(); price > 0 && price < 1 {
		p.ObservePrice(ctx, fill.TokenID, price)
	}
}

// ObservePrice runs a token price tick through the armed trailing stops and
// closes every position whose stop it crossed, settling at the tick price.
func (p *Pipeline) ObservePrice(ctx context.Context, tokenID string, price float64) {
	for _, id := range p.governor.ObservePrice(tokenID, price) {
		res, err := p.ledger.Close(ctx, id, price)
		if err != nil {
			p.logger.Warn("trailing stop close failed",
				slog.String("position", id),
				slog.String("error", err.Error()))
			continue
		}
		p.applyResolution(ctx, res)
	}
}

// ResolvePosition settles one position and applies the result everywhere:
// capital, risk exposure, sizing window, tier stats, and whale quality.
// Duplicate resolutions are ignored.
func (p *Pipeline) ResolvePosition(ctx context.Context, id string) error {
	res, err := p.ledger.Resolve(ctx, id)
	if err != nil {
		return err
	}
	p.applyResolution(ctx, res)
	return nil
}

func (p *Pipeline) applyResolution(ctx context.Context, res ledger.Resolution) {
	pos := res.Position
	won := pos.Outcome == domain.OutcomeWin

	p.mu.Lock()
	p.capital.ApplyPnL(pos.PnL)
	capital := p.capital
	p.mu.Unlock()

	if err := p.capitalStore.Save(ctx, capital); err != nil {
		p.logger.Warn("capital save failed", slog.String("error", err.Error()))
	}

	p.governor.UpdateCapital(capital)
	p.governor.RecordClose(pos)
	p.sizer.RecordResult(won)
	p.strategy.RecordResult(pos.Tier, won, pos.PnL)

	// Only real outcomes feed whale quality; synthetic draws would poison
	// the promotion stats.
	if pos.ResolutionSource == domain.ResolutionActual {
		for _, addr := range p.tracker.OnMarketResolved(ctx, pos.TokenID, pos.MarketOutcome) {
			p.logger.Info("whale discovered", slog.String("address", addr))
		}
	}

	p.auditLog(ctx, eventResolved, map[string]any{
		"position": pos.ID,
		"outcome":  string(pos.Outcome),
		"source":   string(pos.ResolutionSource),
		"pnl":      pos.PnL,
		"capital":  capital.Current,
	})
}

// Snapshot returns the point-in-time engine state for reporting.
func (p *Pipeline) Snapshot() domain.Snapshot {
	p.mu.Lock()
	capital := p.capital
	p.mu.Unlock()

	exposure, count := p.ledger.PendingExposure()
	return domain.Snapshot{
		Capital:         capital.Current,
		StartingCapital: capital.Starting,
		ROI:             capital.ROI(),
		WinRate:         capital.WinRate(),
		Wins:            capital.Wins,
		Losses:          capital.Losses,
		WinStreak:       capital.WinStreak,
		LossStreak:      capital.LossStreak,
		BestTrade:       capital.BestTrade,
		WorstTrade:      capital.WorstTrade,
		PendingExposure: exposure,
		PendingCount:    count,
		RiskState:       p.governor.State(p.now()),
	}
}

func (p *Pipeline) capitalView() (current, starting float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capital.Current, p.capital.Starting
}

// whaleEdge builds the Kelly inputs for a whale from its tier profile, or
// conservative defaults when untracked.
func (p *Pipeline) whaleEdge(whale string) sizing.WhaleEdge {
	if profile, ok := p.strategy.Lookup(whale); ok && profile.WinRate > 0 {
		return sizing.WhaleEdge{WinRate: profile.WinRate}
	}
	return sizing.WhaleEdge{WinRate: 0.70}
}

func (p *Pipeline) windowEnd(sig domain.TradeSignal, now time.Time) time.Time {
	if sig.MarketEndTime != nil {
		return *sig.MarketEndTime
	}
	// Synthetic window anchored at the signal itself. Its start coincides
	// with now, so the opening-seconds block only applies when the market
	// carries an authoritative end time.
	return now.Add(sig.Timeframe.Duration())
}

func (p *Pipeline) skip(ctx context.Context, sig domain.TradeSignal, reason string) SignalResult {
	p.auditLog(ctx, eventTradeSkipped, map[string]any{
		"whale":  sig.Whale,
		"market": sig.MarketID,
		"reason": reason,
	})
	p.logger.Debug("signal skipped",
		slog.String("whale", sig.Whale),
		slog.String("market", sig.MarketID),
		slog.String("reason", reason))
	return SignalResult{Reason: reason}
}

func (p *Pipeline) auditLog(ctx context.Context, event string, detail map[string]any) {
	if p.audit == nil {
		return
	}
	if err := p.audit.Log(ctx, event, detail); err != nil {
		p.logger.Warn("audit write failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
