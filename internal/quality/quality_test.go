package quality

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
	"github.com/alanyoungcy/whalecopybot/internal/tier"
)

type memStatsStore struct {
	rows map[string]domain.WhaleIncrementalStats
}

func newMemStatsStore() *memStatsStore {
	return &memStatsStore{rows: make(map[string]domain.WhaleIncrementalStats)}
}

func (m *memStatsStore) Upsert(ctx context.Context, s domain.WhaleIncrementalStats) error {
	m.rows[s.Address+"/"+string(s.Timeframe)] = s
	return nil
}

func (m *memStatsStore) List(ctx context.Context) ([]domain.WhaleIncrementalStats, error) {
	out := make([]domain.WhaleIncrementalStats, 0, len(m.rows))
	for _, s := range m.rows {
		out = append(out, s)
	}
	return out, nil
}

type memTierStore struct {
	rows map[string]domain.WhaleTierProfile
}

func newMemTierStore() *memTierStore {
	return &memTierStore{rows: make(map[string]domain.WhaleTierProfile)}
}

func (m *memTierStore) UpsertWhale(ctx context.Context, w domain.WhaleTierProfile) error {
	m.rows[w.Address] = w
	return nil
}

func (m *memTierStore) ListWhales(ctx context.Context) ([]domain.WhaleTierProfile, error) {
	out := make([]domain.WhaleTierProfile, 0, len(m.rows))
	for _, w := range m.rows {
		out = append(out, w)
	}
	return out, nil
}

func newTestTracker() (*Tracker, *memStatsStore, *memTierStore) {
	stats := newMemStatsStore()
	tiers := newMemTierStore()
	tr := NewTracker(tier.Tiers(), stats, tiers, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return tr, stats, tiers
}

func TestFillPnL(t *testing.T) {
	base := domain.WhaleFill{
		TokenID:     "tok",
		Whale:       "0xabc",
		MakerAmount: 0.60,
		TakerAmount: 0.40,
		TokenSide:   domain.MarketOutcomeYes,
	}

	tests := []struct {
		name    string
		role    domain.FillRole
		outcome domain.MarketOutcome
		wantPnL float64
		wantWon bool
	}{
		{"taker buys winning token", domain.FillRoleTaker, domain.MarketOutcomeYes, 0.60, true},
		{"taker buys losing token", domain.FillRoleTaker, domain.MarketOutcomeNo, -0.40, false},
		{"maker sells winning token", domain.FillRoleMaker, domain.MarketOutcomeYes, -0.20, false},
		{"maker sells losing token", domain.FillRoleMaker, domain.MarketOutcomeNo, 0.40, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fill := base
			fill.Role = tt.role
			pnl, won, err := FillPnL(fill, tt.outcome)
			if err != nil {
				t.Fatal(err)
			}
			if pnl != tt.wantPnL || won != tt.wantWon {
				t.Errorf("got pnl=%v won=%v, want pnl=%v won=%v", pnl, won, tt.wantPnL, tt.wantWon)
			}
		})
	}
}

func TestFillPnLUnknownSide(t *testing.T) {
	fill := domain.WhaleFill{TokenID: "tok", Whale: "0xabc", Role: domain.FillRoleTaker}
	_, _, err := FillPnL(fill, domain.MarketOutcomeYes)
	if !errors.Is(err, domain.ErrUnknownTokenSide) {
		t.Fatalf("err = %v, want ErrUnknownTokenSide", err)
	}
}

func TestMakerLossNeverNegative(t *testing.T) {
	fill := domain.WhaleFill{
		Role:        domain.FillRoleMaker,
		MakerAmount: 0.30,
		TakerAmount: 0.50,
		TokenSide:   domain.MarketOutcomeYes,
	}
	pnl, _, err := FillPnL(fill, domain.MarketOutcomeYes)
	if err != nil {
		t.Fatal(err)
	}
	if pnl != 0 {
		t.Errorf("pnl = %v, want 0 when taker amount exceeds maker amount", pnl)
	}
}

func TestTrackerAttribution(t *testing.T) {
	tr, stats, _ := newTestTracker()
	ctx := context.Background()

	tr.ObserveFill(domain.WhaleFill{
		TokenID:     "tok1",
		Whale:       "0xabc",
		Role:        domain.FillRoleTaker,
		MakerAmount: 10,
		TakerAmount: 8,
		TokenSide:   domain.MarketOutcomeYes,
		Timeframe:   domain.Timeframe15Min,
		ObservedAt:  time.Now(),
	})

	tr.OnMarketResolved(ctx, "tok1", domain.MarketOutcomeYes)

	s, ok := tr.Stats("0xabc", domain.Timeframe15Min)
	if !ok {
		t.Fatal("no stats accumulated")
	}
	if s.Trades != 1 || s.Wins != 1 || s.NetPnL != 10 || s.Volume != 8 {
		t.Errorf("stats = %+v", s)
	}
	if len(stats.rows) != 1 {
		t.Errorf("persisted rows = %d, want 1", len(stats.rows))
	}

	// Queue drained; resolving again attributes nothing.
	tr.OnMarketResolved(ctx, "tok1", domain.MarketOutcomeYes)
	s, _ = tr.Stats("0xabc", domain.Timeframe15Min)
	if s.Trades != 1 {
		t.Errorf("double resolution double-counted: %+v", s)
	}
}

func TestTrackerSkipsUnknownSide(t *testing.T) {
	tr, stats, _ := newTestTracker()

	tr.ObserveFill(domain.WhaleFill{
		TokenID: "tok1", Whale: "0xabc",
		Role: domain.FillRoleTaker, MakerAmount: 10, TakerAmount: 8,
		Timeframe: domain.Timeframe15Min,
	})
	tr.OnMarketResolved(context.Background(), "tok1", domain.MarketOutcomeYes)

	if _, ok := tr.Stats("0xabc", domain.Timeframe15Min); ok {
		t.Error("unknown-side fill was attributed")
	}
	if len(stats.rows) != 0 {
		t.Error("unknown-side fill was persisted")
	}
}

func TestWhaleDiscovery(t *testing.T) {
	tr, _, _ := newTestTracker()

	tr.ObserveFill(domain.WhaleFill{
		TokenID: "tok1", Whale: "0xbig",
		Role: domain.FillRoleTaker, MakerAmount: 650, TakerAmount: 500,
		TokenSide: domain.MarketOutcomeYes, Timeframe: domain.Timeframe15Min,
	})
	tr.ObserveFill(domain.WhaleFill{
		TokenID: "tok1", Whale: "0xsmall",
		Role: domain.FillRoleTaker, MakerAmount: 20, TakerAmount: 15,
		TokenSide: domain.MarketOutcomeYes, Timeframe: domain.Timeframe15Min,
	})

	discovered := tr.OnMarketResolved(context.Background(), "tok1", domain.MarketOutcomeYes)
	if len(discovered) != 1 || discovered[0] != "0xbig" {
		t.Errorf("discovered = %v, want [0xbig]", discovered)
	}
}

func TestPromotionSweep(t *testing.T) {
	tr, _, tiers := newTestTracker()
	ctx := context.Background()

	// 20 winning trades at 15min clears the 20-trade / 75% floor.
	for i := 0; i < 20; i++ {
		tok := "tok" + string(rune('a'+i))
		tr.ObserveFill(domain.WhaleFill{
			TokenID: tok, Whale: "0xgood",
			Role: domain.FillRoleTaker, MakerAmount: 5, TakerAmount: 4,
			TokenSide: domain.MarketOutcomeYes, Timeframe: domain.Timeframe15Min,
		})
		tr.OnMarketResolved(ctx, tok, domain.MarketOutcomeYes)
	}

	promoted, err := tr.PromoteEligible(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if promoted != 1 {
		t.Fatalf("promoted = %d, want 1", promoted)
	}

	w, ok := tiers.rows["0xgood"]
	if !ok {
		t.Fatal("whale missing from tier store")
	}
	if w.TradeCount != 20 || w.WinRate != 1.0 || w.Timeframe != domain.Timeframe15Min {
		t.Errorf("profile = %+v", w)
	}
}

func TestPromotionFloorNotMet(t *testing.T) {
	tr, _, tiers := newTestTracker()
	ctx := context.Background()

	// 10 trades is below the 20-trade floor for 15min.
	for i := 0; i < 10; i++ {
		tok := "tok" + string(rune('a'+i))
		tr.ObserveFill(domain.WhaleFill{
			TokenID: tok, Whale: "0xthin",
			Role: domain.FillRoleTaker, MakerAmount: 5, TakerAmount: 4,
			TokenSide: domain.MarketOutcomeYes, Timeframe: domain.Timeframe15Min,
		})
		tr.OnMarketResolved(ctx, tok, domain.MarketOutcomeYes)
	}

	promoted, err := tr.PromoteEligible(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if promoted != 0 || len(tiers.rows) != 0 {
		t.Errorf("promoted = %d, rows = %d", promoted, len(tiers.rows))
	}
}

func TestConsensus(t *testing.T) {
	now := time.Now()

	t.Run("single whale proceeds", func(t *testing.T) {
		c := NewConsensusTracker()
		c.Record("m1", "w1", domain.SideBuy, now)
		res := c.Check("m1", now)
		if res.Kind != ConsensusSingle || res.ConfidenceDelta != 0 || res.Skip {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("agreement boosts", func(t *testing.T) {
		c := NewConsensusTracker()
		c.Record("m1", "w1", domain.SideBuy, now)
		c.Record("m1", "w2", domain.SideBuy, now)
		res := c.Check("m1", now)
		if res.Kind != ConsensusBuy || res.ConfidenceDelta != 10 {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("conflict skips", func(t *testing.T) {
		c := NewConsensusTracker()
		c.Record("m1", "w1", domain.SideBuy, now)
		c.Record("m1", "w2", domain.SideSell, now)
		res := c.Check("m1", now)
		if res.Kind != ConsensusConflict || !res.Skip || res.ConfidenceDelta != -15 {
			t.Errorf("got %+v", res)
		}
	})

	t.Run("window expires", func(t *testing.T) {
		c := NewConsensusTracker()
		c.Record("m1", "w1", domain.SideBuy, now.Add(-20*time.Minute))
		c.Record("m1", "w2", domain.SideSell, now)
		res := c.Check("m1", now)
		if res.Kind != ConsensusSingle {
			t.Errorf("stale trade still counted: %+v", res)
		}
	})

	t.Run("stale markets are dropped", func(t *testing.T) {
		c := NewConsensusTracker()
		for i := 0; i < 50; i++ {
			c.Record(fmt.Sprintf("m%d", i), "w1", domain.SideBuy, now.Add(-20*time.Minute))
		}
		for i := 0; i < 50; i++ {
			c.Check(fmt.Sprintf("m%d", i), now)
		}
		if got := len(c.trades); got != 0 {
			t.Errorf("%d stale market entries retained, want 0", got)
		}
	})
}
