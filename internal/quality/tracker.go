package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// DiscoveryProfitThreshold is the single-market net profit at which an
// untracked whale becomes a promotion candidate.
const DiscoveryProfitThreshold = 500.0

type statsKey struct {
	address   string
	timeframe domain.Timeframe
}

// Tracker accumulates whale quality from observed fills. Fills queue under
// their token until the market resolves; attribution then feeds the
// incremental stats that the promotion sweep reads.
type Tracker struct {
	mu sync.Mutex

	pending map[string][]domain.WhaleFill // token id -> unresolved fills
	stats   map[statsKey]*domain.WhaleIncrementalStats

	tiers map[domain.Timeframe]domain.TierConfig

	statsStore domain.WhaleStatsStore
	tierStore  domain.TierStore
	logger     *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(tiers map[domain.Timeframe]domain.TierConfig, statsStore domain.WhaleStatsStore, tierStore domain.TierStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		pending:    make(map[string][]domain.WhaleFill),
		stats:      make(map[statsKey]*domain.WhaleIncrementalStats),
		tiers:      tiers,
		statsStore: statsStore,
		tierStore:  tierStore,
		logger:     logger.With(slog.String("component", "quality")),
	}
}

// Rehydrate loads persisted incremental stats so a restart does not lose the
// promotion pipeline.
func (t *Tracker) Rehydrate(ctx context.Context) error {
	stats, err := t.statsStore.List(ctx)
	if err != nil {
		return fmt.Errorf("quality: rehydrate: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range stats {
		s := stats[i]
		t.stats[statsKey{s.Address, s.Timeframe}] = &s
	}
	t.logger.Info("whale stats rehydrated", slog.Int("rows", len(stats)))
	return nil
}

// ObserveFill queues a fill for attribution when its market resolves. Every
// fill seen on the feed goes through here, copied or not.
func (t *Tracker) ObserveFill(fill domain.WhaleFill) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[fill.TokenID] = append(t.pending[fill.TokenID], fill)
}

// PendingFills returns the number of fills awaiting resolution, for reporting.
func (t *Tracker) PendingFills() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, fills := range t.pending {
		n += len(fills)
	}
	return n
}

// PendingTokens returns the token ids with fills awaiting resolution.
func (t *Tracker) PendingTokens() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	tokens := make([]string, 0, len(t.pending))
	for token := range t.pending {
		tokens = append(tokens, token)
	}
	return tokens
}

// OnMarketResolved attributes every queued fill for the token to its whale
// and persists the updated aggregates. Fills with an unknown token side are
// skipped, never guessed. Returns the addresses newly discovered via the
// single-market profit threshold.
func (t *Tracker) OnMarketResolved(ctx context.Context, tokenID string, outcome domain.MarketOutcome) []string {
	t.mu.Lock()
	fills := t.pending[tokenID]
	delete(t.pending, tokenID)

	marketPnL := make(map[string]float64)
	touched := make(map[statsKey]domain.WhaleIncrementalStats)

	for _, fill := range fills {
		pnl, won, err := FillPnL(fill, outcome)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownTokenSide) {
				t.logger.Debug("skipping fill with unknown token side",
					slog.String("token", tokenID), slog.String("whale", fill.Whale))
				continue
			}
			t.logger.Warn("fill attribution failed", slog.String("error", err.Error()))
			continue
		}

		key := statsKey{fill.Whale, fill.Timeframe}
		s, ok := t.stats[key]
		if !ok {
			s = &domain.WhaleIncrementalStats{Address: fill.Whale, Timeframe: fill.Timeframe}
			t.stats[key] = s
		}
		s.Trades++
		if won {
			s.Wins++
		} else {
			s.Losses++
		}
		s.NetPnL += pnl
		s.Volume += fill.TakerAmount

		marketPnL[fill.Whale] += pnl
		touched[key] = *s
	}

	var discovered []string
	for whale, pnl := range marketPnL {
		if pnl >= DiscoveryProfitThreshold {
			discovered = append(discovered, whale)
			t.logger.Info("whale discovered",
				slog.String("whale", whale),
				slog.Float64("market_profit", pnl))
		}
	}
	t.mu.Unlock()

	for _, s := range touched {
		if err := t.statsStore.Upsert(ctx, s); err != nil {
			t.logger.Warn("whale stats upsert failed",
				slog.String("whale", s.Address), slog.String("error", err.Error()))
		}
	}
	return discovered
}

// Stats returns a copy of one whale's aggregate for a timeframe.
func (t *Tracker) Stats(address string, tf domain.Timeframe) (domain.WhaleIncrementalStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[statsKey{address, tf}]
	if !ok {
		return domain.WhaleIncrementalStats{}, false
	}
	return *s, true
}

// PromoteEligible runs the promotion sweep: every aggregate meeting its
// timeframe's trade-count and win-rate floor is written to the tier roster
// as a fresh snapshot, overwriting any previous row for that whale.
func (t *Tracker) PromoteEligible(ctx context.Context) (int, error) {
	t.mu.Lock()
	var candidates []domain.WhaleIncrementalStats
	for _, s := range t.stats {
		cfg, ok := t.tiers[s.Timeframe]
		if !ok {
			continue
		}
		if s.Trades >= cfg.PromotionMinTrades && s.WinRate() >= cfg.PromotionMinRate {
			candidates = append(candidates, *s)
		}
	}
	t.mu.Unlock()

	promoted := 0
	for _, s := range candidates {
		profile := domain.WhaleTierProfile{
			Address:    s.Address,
			Timeframe:  s.Timeframe,
			TradeCount: s.Trades,
			Wins:       s.Wins,
			Losses:     s.Losses,
			Volume:     s.Volume,
			Profit:     s.NetPnL,
			WinRate:    s.WinRate(),
		}
		if err := t.tierStore.UpsertWhale(ctx, profile); err != nil {
			return promoted, fmt.Errorf("quality: promote %s: %w", s.Address, err)
		}
		promoted++
		t.logger.Info("whale promoted",
			slog.String("whale", s.Address),
			slog.String("timeframe", string(s.Timeframe)),
			slog.Float64("win_rate", s.WinRate()))
	}
	return promoted, nil
}
