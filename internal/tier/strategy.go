// Package tier implements the multi-timeframe whale tier strategy: each
// tracked whale belongs to the tier for its best timeframe, and copy
// decisions compare signal confidence against the tier threshold, penalized
// when the whale trades outside its specialty.
package tier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// Tiers returns the static tier table keyed by timeframe. Short timeframes
// get the loosest thresholds and the largest multipliers; the membership
// win-rate floors are copy thresholds, not discovery thresholds.
func Tiers() map[domain.Timeframe]domain.TierConfig {
	return map[domain.Timeframe]domain.TierConfig{
		domain.Timeframe15Min: {
			Timeframe:          domain.Timeframe15Min,
			BaseThreshold:      88.0,
			PositionMultiplier: 1.2,
			MinWinRate:         0.70,
			PromotionMinTrades: 20,
			PromotionMinRate:   0.75,
		},
		domain.TimeframeHourly: {
			Timeframe:          domain.TimeframeHourly,
			BaseThreshold:      90.0,
			PositionMultiplier: 1.0,
			MinWinRate:         0.68,
			PromotionMinTrades: 15,
			PromotionMinRate:   0.73,
		},
		domain.Timeframe4Hour: {
			Timeframe:          domain.Timeframe4Hour,
			BaseThreshold:      92.0,
			PositionMultiplier: 0.8,
			MinWinRate:         0.65,
			PromotionMinTrades: 10,
			PromotionMinRate:   0.72,
		},
		domain.TimeframeDaily: {
			Timeframe:          domain.TimeframeDaily,
			BaseThreshold:      93.0,
			PositionMultiplier: 0.7,
			MinWinRate:         0.65,
			PromotionMinTrades: 10,
			PromotionMinRate:   0.70,
		},
	}
}

// Penalties and defaults for whales outside their specialty or not tiered
// at all.
const (
	outsideSpecialtyBoost = 6.0
	outsideSpecialtyMult  = 0.7
	unknownWhaleThreshold = 95.0
	unknownWhaleMult      = 0.5
)

// CopyDecision is the full outcome of a tier gate check, kept for audit
// logging.
type CopyDecision struct {
	ShouldCopy  bool
	Threshold   float64
	Multiplier  float64
	Tier        domain.Timeframe
	IsSpecialty bool
	Reason      string
}

type tierStats struct {
	trades int
	wins   int
	profit float64
}

// Strategy holds the whale roster and answers copy decisions. The roster is
// loaded from the tier store and refreshed periodically as the quality
// tracker promotes new whales.
type Strategy struct {
	mu sync.RWMutex

	tiers  map[domain.Timeframe]domain.TierConfig
	roster map[string]domain.WhaleTierProfile

	statsByTier      map[domain.Timeframe]*tierStats
	inSpecialty      int
	outsideSpecialty int

	store  domain.TierStore
	logger *slog.Logger
}

// NewStrategy creates a Strategy with an empty roster.
func NewStrategy(store domain.TierStore, logger *slog.Logger) *Strategy {
	return &Strategy{
		tiers:       Tiers(),
		roster:      make(map[string]domain.WhaleTierProfile),
		statsByTier: make(map[domain.Timeframe]*tierStats),
		store:       store,
		logger:      logger.With(slog.String("component", "tier")),
	}
}

// RefreshRoster reloads the whale roster from the tier store, replacing the
// in-memory view wholesale.
func (s *Strategy) RefreshRoster(ctx context.Context) error {
	whales, err := s.store.ListWhales(ctx)
	if err != nil {
		return fmt.Errorf("tier: refresh roster: %w", err)
	}

	roster := make(map[string]domain.WhaleTierProfile, len(whales))
	for _, w := range whales {
		roster[w.Address] = w
	}

	s.mu.Lock()
	s.roster = roster
	s.mu.Unlock()

	s.logger.Info("roster refreshed", slog.Int("whales", len(roster)))
	return nil
}

// Addresses returns the roster's whale addresses, for feed subscription.
func (s *Strategy) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.roster))
	for addr := range s.roster {
		out = append(out, addr)
	}
	return out
}

// Lookup returns the whale's tier profile, if tracked.
func (s *Strategy) Lookup(address string) (domain.WhaleTierProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.roster[address]
	return w, ok
}

// ShouldCopy decides whether a signal clears the whale's tier gate at the
// given confidence. Blocked market patterns short-circuit to a rejection.
func (s *Strategy) ShouldCopy(signal domain.TradeSignal, baseConfidence float64) CopyDecision {
	if IsBlockedMarket(signal.MarketQuestion) {
		return CopyDecision{
			Tier:   signal.Timeframe,
			Reason: "blocked market pattern (soccer O/U)",
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	whale, known := s.roster[signal.Whale]
	if !known {
		d := CopyDecision{
			Threshold:  unknownWhaleThreshold,
			Multiplier: unknownWhaleMult,
			Tier:       signal.Timeframe,
			ShouldCopy: baseConfidence >= unknownWhaleThreshold,
		}
		d.Reason = fmt.Sprintf("untracked whale: confidence %.1f vs default threshold %.1f", baseConfidence, d.Threshold)
		s.countLocked(d)
		return d
	}

	cfg, ok := s.tiers[whale.Timeframe]
	if !ok {
		cfg = s.tiers[domain.Timeframe15Min]
	}

	d := CopyDecision{
		Threshold:   cfg.BaseThreshold,
		Multiplier:  cfg.PositionMultiplier,
		Tier:        whale.Timeframe,
		IsSpecialty: signal.Timeframe == whale.Timeframe,
	}
	if !d.IsSpecialty {
		d.Threshold += outsideSpecialtyBoost
		d.Multiplier *= outsideSpecialtyMult
	}
	d.ShouldCopy = baseConfidence >= d.Threshold

	where := "in specialty"
	if !d.IsSpecialty {
		where = "outside specialty"
	}
	d.Reason = fmt.Sprintf("%s tier %s: confidence %.1f vs threshold %.1f", whale.Timeframe, where, baseConfidence, d.Threshold)

	s.countLocked(d)
	return d
}

func (s *Strategy) countLocked(d CopyDecision) {
	if !d.ShouldCopy {
		return
	}
	if d.IsSpecialty {
		s.inSpecialty++
	} else {
		s.outsideSpecialty++
	}
}

// RecordResult feeds a resolved copied trade back into the per-tier stats.
func (s *Strategy) RecordResult(tier domain.Timeframe, won bool, pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.statsByTier[tier]
	if !ok {
		st = &tierStats{}
		s.statsByTier[tier] = st
	}
	st.trades++
	if won {
		st.wins++
	}
	st.profit += pnl
}

// TierReport summarizes one tier's copied-trade record.
type TierReport struct {
	Tier    domain.Timeframe
	Trades  int
	Wins    int
	Profit  float64
	WinRate float64
}

// Report returns per-tier records plus the specialty split.
func (s *Strategy) Report() (tiers []TierReport, inSpecialty, outsideSpecialty int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for tf, st := range s.statsByTier {
		r := TierReport{Tier: tf, Trades: st.trades, Wins: st.wins, Profit: st.profit}
		if st.trades > 0 {
			r.WinRate = float64(st.wins) / float64(st.trades)
		}
		tiers = append(tiers, r)
	}
	return tiers, s.inSpecialty, s.outsideSpecialty
}

// RosterSize returns the number of tracked whales.
func (s *Strategy) RosterSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.roster)
}
