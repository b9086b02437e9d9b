// Package ledger owns the position lifecycle: open PENDING, persist, sweep
// for due positions, resolve exactly once, and hand the settled result back
// to the pipeline. All capital math happens upstream; the ledger's job is
// durability and the single-resolution guarantee.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

const markResolvedRetries = 3

// Ledger tracks open positions in memory, backed by the position store. Every
// position is durably persisted before it enters the pending set, and removed
// from the set atomically before its resolution is applied, so concurrent
// resolve attempts settle a position at most once.
type Ledger struct {
	mu      sync.Mutex
	pending map[string]domain.Position

	store    domain.PositionStore
	idemp    domain.IdempotencySet
	resolver *Resolver
	logger   *slog.Logger

	// draw is the random source for fallback resolution, injectable in tests.
	draw func() float64
}

// New creates a Ledger.
func New(store domain.PositionStore, idemp domain.IdempotencySet, resolver *Resolver, logger *slog.Logger) *Ledger {
	return &Ledger{
		pending:  make(map[string]domain.Position),
		store:    store,
		idemp:    idemp,
		resolver: resolver,
		logger:   logger.With(slog.String("component", "ledger")),
		draw:     rand.Float64,
	}
}

// Open persists a new pending position and admits it to the working set.
// The store write happens first; a position that cannot be persisted is
// never tracked.
func (l *Ledger) Open(ctx context.Context, pos domain.Position) error {
	pos.Status = domain.PositionStatusPending
	if pos.ExpectedResolution.IsZero() {
		pos.ExpectedResolution = pos.OpenedAt.Add(pos.Timeframe.Duration())
	}

	if err := l.store.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("ledger: persist position %s: %w", pos.ID, err)
	}

	l.mu.Lock()
	l.pending[pos.ID] = pos
	l.mu.Unlock()

	l.logger.Info("position opened",
		slog.String("id", pos.ID),
		slog.String("whale", pos.Whale),
		slog.String("side", string(pos.Side)),
		slog.Float64("size", pos.Size),
		slog.Time("expected_resolution", pos.ExpectedResolution))
	return nil
}

// Rehydrate reloads the pending set from the store after a restart. Expected
// resolution times are recomputed from the stored open time and timeframe
// when missing, never from the current clock.
func (l *Ledger) Rehydrate(ctx context.Context) (int, error) {
	horizon := time.Now().Add(365 * 24 * time.Hour)
	positions, err := l.store.ListPending(ctx, horizon)
	if err != nil {
		return 0, fmt.Errorf("ledger: rehydrate: %w", err)
	}

	l.mu.Lock()
	for _, pos := range positions {
		if pos.ExpectedResolution.IsZero() {
			pos.ExpectedResolution = pos.OpenedAt.Add(pos.Timeframe.Duration())
		}
		l.pending[pos.ID] = pos
	}
	n := len(l.pending)
	l.mu.Unlock()

	l.logger.Info("pending positions rehydrated", slog.Int("count", n))
	return n, nil
}

// Due returns the pending positions whose expected resolution has passed.
func (l *Ledger) Due(now time.Time) []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	var due []domain.Position
	for _, pos := range l.pending {
		if !pos.ExpectedResolution.After(now) {
			due = append(due, pos)
		}
	}
	return due
}

// PendingExposure sums the committed size of all pending positions.
func (l *Ledger) PendingExposure() (total float64, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, pos := range l.pending {
		total += pos.Size
	}
	return total, len(l.pending)
}

// Resolution is a settled position handed back to the pipeline for capital
// and stats application.
type Resolution struct {
	Position domain.Position
}

// Resolve settles one position. The position is removed from the pending set
// before any outcome work happens; duplicate calls, including concurrent
// ones and replayed external callbacks, are detected and ignored with a
// warning. A position whose outcome cannot be determined is returned to the
// pending set untouched.
func (l *Ledger) Resolve(ctx context.Context, id string) (Resolution, error) {
	l.mu.Lock()
	pos, ok := l.pending[id]
	if !ok {
		l.mu.Unlock()
		if dup, err := l.idemp.Contains(ctx, id); err == nil && dup {
			l.logger.Warn("duplicate resolution ignored", slog.String("id", id))
			return Resolution{}, fmt.Errorf("ledger: resolve %s: %w", id, domain.ErrAlreadyResolved)
		}
		return Resolution{}, fmt.Errorf("ledger: resolve %s: %w", id, domain.ErrNotFound)
	}
	delete(l.pending, id)
	l.mu.Unlock()

	res, err := l.settle(ctx, pos)
	if err != nil {
		// Outcome unavailable; back into the pending set for the next sweep.
		l.mu.Lock()
		l.pending[id] = pos
		l.mu.Unlock()
		return Resolution{}, err
	}
	return res, nil
}

// Close settles a position early at the given exit price, before the market
// itself resolves. Trailing-stop exits come through here. The pending-set
// removal and idempotency guard mirror Resolve; the realized PnL comes from
// the exit price rather than a market outcome, so no quality attribution
// follows.
func (l *Ledger) Close(ctx context.Context, id string, exitPrice float64) (Resolution, error) {
	l.mu.Lock()
	pos, ok := l.pending[id]
	if !ok {
		l.mu.Unlock()
		if dup, err := l.idemp.Contains(ctx, id); err == nil && dup {
			l.logger.Warn("duplicate close ignored", slog.String("id", id))
			return Resolution{}, fmt.Errorf("ledger: close %s: %w", id, domain.ErrAlreadyResolved)
		}
		return Resolution{}, fmt.Errorf("ledger: close %s: %w", id, domain.ErrNotFound)
	}
	delete(l.pending, id)
	l.mu.Unlock()

	pnl := exitPnL(pos, exitPrice)

	now := time.Now()
	upd := domain.ResolvedUpdate{
		PnL:        pnl,
		Source:     domain.ResolutionStop,
		ResolvedAt: now,
	}
	if pnl > 0 {
		upd.Outcome = domain.OutcomeWin
	} else {
		upd.Outcome = domain.OutcomeLoss
	}

	if err := l.markResolved(ctx, id, upd); err != nil {
		l.mu.Lock()
		l.pending[id] = pos
		l.mu.Unlock()
		return Resolution{}, err
	}

	if first, err := l.idemp.Mark(ctx, id); err != nil {
		l.logger.Warn("idempotency mark failed", slog.String("id", id), slog.String("error", err.Error()))
	} else if !first {
		l.logger.Warn("position closed twice past the store guard", slog.String("id", id))
	}

	pos.Status = domain.PositionStatusResolved
	pos.Outcome = upd.Outcome
	pos.PnL = pnl
	pos.ResolutionSource = domain.ResolutionStop
	pos.ResolvedAt = &now

	l.logger.Info("position closed by trailing stop",
		slog.String("id", pos.ID),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("pnl", pnl))
	return Resolution{Position: pos}, nil
}

// exitPnL values an early exit. Positions holding tokens sell them at the
// exit price; simulated entries without a token count scale the committed
// size by the price move instead.
func exitPnL(pos domain.Position, exitPrice float64) float64 {
	if pos.Quantity > 0 {
		return pos.Quantity*exitPrice - pos.Size
	}
	if pos.EntryPrice > 0 {
		return pos.Size * (exitPrice/pos.EntryPrice - 1)
	}
	return 0
}

func (l *Ledger) settle(ctx context.Context, pos domain.Position) (Resolution, error) {
	outcome, source, err := l.determineOutcome(ctx, pos)
	if err != nil {
		return Resolution{}, err
	}

	won := pos.Won(outcome)
	pnl := positionPnL(pos, won)

	now := time.Now()
	upd := domain.ResolvedUpdate{
		MarketOutcome: outcome,
		PnL:           pnl,
		Source:        source,
		ResolvedAt:    now,
	}
	if won {
		upd.Outcome = domain.OutcomeWin
	} else {
		upd.Outcome = domain.OutcomeLoss
	}

	if err := l.markResolved(ctx, pos.ID, upd); err != nil {
		return Resolution{}, err
	}

	if first, err := l.idemp.Mark(ctx, pos.ID); err != nil {
		l.logger.Warn("idempotency mark failed", slog.String("id", pos.ID), slog.String("error", err.Error()))
	} else if !first {
		l.logger.Warn("position resolved twice past the store guard", slog.String("id", pos.ID))
	}

	pos.Status = domain.PositionStatusResolved
	pos.Outcome = upd.Outcome
	pos.MarketOutcome = outcome
	pos.PnL = pnl
	pos.ResolutionSource = source
	pos.ResolvedAt = &now

	l.logger.Info("position resolved",
		slog.String("id", pos.ID),
		slog.String("outcome", string(upd.Outcome)),
		slog.String("source", string(source)),
		slog.Float64("pnl", pnl))
	return Resolution{Position: pos}, nil
}

// determineOutcome asks the outcome source first. When the market has not
// settled, simulated positions fall back to a probabilistic draw weighted by the
// whale's win rate and the signal confidence; live positions stay pending
// until the real outcome exists.
func (l *Ledger) determineOutcome(ctx context.Context, pos domain.Position) (domain.MarketOutcome, domain.ResolutionSource, error) {
	res, err := l.resolver.Query(ctx, pos.TokenID)
	if err != nil {
		l.logger.Debug("outcome query failed, position stays pending",
			slog.String("id", pos.ID), slog.String("error", err.Error()))
		return "", "", err
	}
	if res.Resolved {
		return res.Outcome, domain.ResolutionActual, nil
	}

	if pos.Mode != domain.ExecutionSimulated {
		return "", "", fmt.Errorf("ledger: position %s: %w", pos.ID, domain.ErrNotResolved)
	}

	adjusted := pos.WhaleRate * (0.9 + pos.Confidence/1000)
	if adjusted > 0.95 {
		adjusted = 0.95
	}
	whaleWon := l.draw() < adjusted

	// The draw decides whether the whale's call was right; map that back to
	// a market outcome consistent with our side.
	outcome := domain.MarketOutcomeNo
	if (pos.Side == domain.SideBuy) == whaleWon {
		outcome = domain.MarketOutcomeYes
	}
	return outcome, domain.ResolutionSimulated, nil
}

// markResolved writes the terminal state with a small retry budget. The
// store enforces single resolution; ErrAlreadyResolved surfaces unchanged.
func (l *Ledger) markResolved(ctx context.Context, id string, upd domain.ResolvedUpdate) error {
	var err error
	for attempt := 1; attempt <= markResolvedRetries; attempt++ {
		err = l.store.MarkResolved(ctx, id, upd)
		if err == nil || errors.Is(err, domain.ErrAlreadyResolved) {
			return err
		}
		l.logger.Warn("mark resolved failed",
			slog.String("id", id),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if attempt < markResolvedRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return fmt.Errorf("ledger: mark resolved %s: %w", id, err)
}

// positionPnL computes the realized PnL. Live positions pay out $1 per token
// on a win against the cost actually committed; simulated positions pay a
// confidence-tiered multiple of size.
func positionPnL(pos domain.Position, won bool) float64 {
	if pos.Mode == domain.ExecutionLive {
		if won {
			return pos.Quantity*1.0 - pos.Size
		}
		return -pos.Size
	}

	if !won {
		return -pos.Size
	}
	switch {
	case pos.Confidence > 95:
		return pos.Size * 0.35
	case pos.Confidence > 92:
		return pos.Size * 0.25
	default:
		return pos.Size * 0.15
	}
}
