package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
	"github.com/alanyoungcy/whalecopybot/internal/ledger"
	"github.com/alanyoungcy/whalecopybot/internal/quality"
	"github.com/alanyoungcy/whalecopybot/internal/risk"
	"github.com/alanyoungcy/whalecopybot/internal/sizing"
	"github.com/alanyoungcy/whalecopybot/internal/tier"
)

const (
	whale1 = "0x1111111111111111111111111111111111111111"
	whale2 = "0x2222222222222222222222222222222222222222"
)

// noon keeps the time gate's overnight rule out of the way.
var noon = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]domain.Position)}
}

func (m *memPositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.ID] = pos
	return nil
}

func (m *memPositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (m *memPositionStore) ListPending(ctx context.Context, due time.Time) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, pos := range m.positions {
		if pos.Status == domain.PositionStatusPending && !pos.ExpectedResolution.After(due) {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (m *memPositionStore) MarkResolved(ctx context.Context, id string, upd domain.ResolvedUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if pos.Status == domain.PositionStatusResolved {
		return domain.ErrAlreadyResolved
	}
	pos.Status = domain.PositionStatusResolved
	pos.Outcome = upd.Outcome
	pos.MarketOutcome = upd.MarketOutcome
	pos.PnL = upd.PnL
	pos.ResolutionSource = upd.Source
	m.positions[id] = pos
	return nil
}

func (m *memPositionStore) ListResolved(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (m *memPositionStore) PendingExposure(ctx context.Context) (float64, error) {
	return 0, nil
}

type memIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memIdempotency) Mark(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

func (m *memIdempotency) Contains(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[id], nil
}

type memOutcomeCache struct {
	mu    sync.Mutex
	items map[string]domain.OutcomeResult
}

func (m *memOutcomeCache) Get(ctx context.Context, tokenID string) (domain.OutcomeResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.items[tokenID]
	return res, ok, nil
}

func (m *memOutcomeCache) Set(ctx context.Context, tokenID string, res domain.OutcomeResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[tokenID] = res
	return nil
}

type stubOutcomeSource struct {
	mu      sync.Mutex
	results map[string]domain.OutcomeResult
}

func (s *stubOutcomeSource) Query(ctx context.Context, tokenID string) (domain.OutcomeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[tokenID], nil
}

func (s *stubOutcomeSource) setOutcome(tokenID string, outcome domain.MarketOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[tokenID] = domain.OutcomeResult{Resolved: true, Outcome: outcome}
}

type memStatsStore struct {
	mu   sync.Mutex
	rows []domain.WhaleIncrementalStats
}

func (m *memStatsStore) Upsert(ctx context.Context, s domain.WhaleIncrementalStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, s)
	return nil
}

func (m *memStatsStore) List(ctx context.Context) ([]domain.WhaleIncrementalStats, error) {
	return nil, nil
}

type memTierStore struct {
	mu     sync.Mutex
	whales []domain.WhaleTierProfile
}

func (m *memTierStore) UpsertWhale(ctx context.Context, w domain.WhaleTierProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.whales = append(m.whales, w)
	return nil
}

func (m *memTierStore) ListWhales(ctx context.Context) ([]domain.WhaleTierProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.whales, nil
}

type memCapitalStore struct {
	mu    sync.Mutex
	state domain.CapitalState
	saves int
}

func (m *memCapitalStore) Save(ctx context.Context, state domain.CapitalState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.saves++
	return nil
}

func (m *memCapitalStore) Load(ctx context.Context) (domain.CapitalState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

type simGateway struct{}

func (simGateway) Place(ctx context.Context, tokenID string, side domain.Side, usdAmount, price float64) (domain.OrderResult, error) {
	quantity := 0.0
	if price > 0 {
		quantity = usdAmount / price
	}
	return domain.OrderResult{
		Success:   true,
		OrderID:   "sim-" + tokenID,
		FillPrice: price,
		Quantity:  quantity,
		Cost:      usdAmount,
	}, nil
}

func (simGateway) Mode() domain.ExecutionMode { return domain.ExecutionSimulated }

type stubAdvisor struct {
	advice domain.Advice
	err    error
}

func (a *stubAdvisor) Validate(ctx context.Context, sig domain.TradeSignal, base float64) (domain.Advice, error) {
	return a.advice, a.err
}

type testEngine struct {
	pipeline *Pipeline
	source   *stubOutcomeSource
	capital  *memCapitalStore
	tiers    *memTierStore
	strategy *tier.Strategy
}

func newTestEngine(t *testing.T, capital domain.CapitalState, advisor domain.Advisor, roster ...domain.WhaleTierProfile) *testEngine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tiers := &memTierStore{whales: roster}
	strategy := tier.NewStrategy(tiers, logger)
	if err := strategy.RefreshRoster(context.Background()); err != nil {
		t.Fatal(err)
	}

	source := &stubOutcomeSource{results: make(map[string]domain.OutcomeResult)}
	resolver := ledger.NewResolver(source, &memOutcomeCache{items: make(map[string]domain.OutcomeResult)}, logger)
	led := ledger.New(newMemPositionStore(), &memIdempotency{seen: make(map[string]bool)}, resolver, logger)

	tracker := quality.NewTracker(tier.Tiers(), &memStatsStore{}, tiers, logger)
	capStore := &memCapitalStore{}

	p := New(Config{
		Sizer:        sizing.NewEnhanced(sizing.DefaultConfig()),
		Governor:     risk.NewGovernor(domain.DefaultRiskLimits(), capital, logger),
		Strategy:     strategy,
		Tracker:      tracker,
		Consensus:    quality.NewConsensusTracker(),
		Ledger:       led,
		Gateway:      simGateway{},
		Advisor:      advisor,
		CapitalStore: capStore,
		Audit:        nil,
		Capital:      capital,
		Logger:       logger,
	})
	p.now = func() time.Time { return noon }

	return &testEngine{pipeline: p, source: source, capital: capStore, tiers: tiers, strategy: strategy}
}

func signal15min(whale string, confidence float64) domain.TradeSignal {
	return domain.TradeSignal{
		ID:             "sig-1",
		Whale:          whale,
		Side:           domain.SideBuy,
		MarketID:       "m1",
		TokenID:        "tok1",
		Timeframe:      domain.Timeframe15Min,
		Price:          0.55,
		Confidence:     confidence,
		MarketQuestion: "Will BTC be up in the next 15 minutes?",
		ObservedAt:     noon,
	}
}

func tieredWhale(addr string) domain.WhaleTierProfile {
	return domain.WhaleTierProfile{
		Address:   addr,
		Timeframe: domain.Timeframe15Min,
		WinRate:   0.75,
	}
}

func TestEndToEndCopyTrade(t *testing.T) {
	e := newTestEngine(t, domain.NewCapitalState(100), nil, tieredWhale(whale1))
	ctx := context.Background()

	res, err := e.pipeline.HandleSignal(ctx, signal15min(whale1, 92))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Opened {
		t.Fatalf("signal not opened: %s", res.Reason)
	}
	pos := res.Position
	if pos.Status != domain.PositionStatusPending {
		t.Errorf("status = %v", pos.Status)
	}
	want := noon.Add(15 * time.Minute)
	stored := e.pipeline.ledger.Due(want)
	if len(stored) != 1 || !stored[0].ExpectedResolution.Equal(want) {
		t.Errorf("expected resolution = %v, want %v", stored[0].ExpectedResolution, want)
	}

	// The market settles YES; a BUY wins.
	e.source.setOutcome("tok1", domain.MarketOutcomeYes)
	if err := e.pipeline.ResolvePosition(ctx, pos.ID); err != nil {
		t.Fatal(err)
	}

	snap := e.pipeline.Snapshot()
	if snap.Wins != 1 || snap.WinStreak != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Capital <= 100 {
		t.Errorf("capital = %v, want above 100 after a win", snap.Capital)
	}
	if snap.PendingCount != 0 {
		t.Errorf("pending count = %d", snap.PendingCount)
	}
	if e.capital.saves != 1 {
		t.Errorf("capital persisted %d times, want 1", e.capital.saves)
	}

	// Duplicate resolution callback: detected and ignored, capital unchanged.
	before := snap.Capital
	err = e.pipeline.ResolvePosition(ctx, pos.ID)
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("duplicate resolve err = %v", err)
	}
	if got := e.pipeline.Snapshot().Capital; got != before {
		t.Errorf("capital changed on duplicate resolve: %v -> %v", before, got)
	}
}

func TestSignalBelowTierThreshold(t *testing.T) {
	e := newTestEngine(t, domain.NewCapitalState(100), nil, tieredWhale(whale1))

	res, err := e.pipeline.HandleSignal(context.Background(), signal15min(whale1, 87))
	if err != nil {
		t.Fatal(err)
	}
	if res.Opened {
		t.Error("87 confidence should fail the 88 threshold")
	}
}

func TestHaltedAtMaxDrawdown(t *testing.T) {
	state := domain.NewCapitalState(100)
	state.Current = 69
	e := newTestEngine(t, state, nil, tieredWhale(whale1))

	_, err := e.pipeline.HandleSignal(context.Background(), signal15min(whale1, 92))
	if !errors.Is(err, domain.ErrTradingHalted) {
		t.Fatalf("err = %v, want ErrTradingHalted", err)
	}
}

func TestWhaleConflictSkips(t *testing.T) {
	e := newTestEngine(t, domain.NewCapitalState(100), nil, tieredWhale(whale1), tieredWhale(whale2))
	ctx := context.Background()

	if _, err := e.pipeline.HandleSignal(ctx, signal15min(whale1, 92)); err != nil {
		t.Fatal(err)
	}

	sig := signal15min(whale2, 92)
	sig.Side = domain.SideSell
	res, err := e.pipeline.HandleSignal(ctx, sig)
	if err != nil {
		t.Fatal(err)
	}
	if res.Opened {
		t.Error("conflicting whale signal should skip")
	}
}

func TestAdvisorSkip(t *testing.T) {
	advisor := &stubAdvisor{advice: domain.Advice{
		Recommendation: domain.AdviceSkip,
		Reasoning:      "thin orderbook",
	}}
	e := newTestEngine(t, domain.NewCapitalState(100), advisor, tieredWhale(whale1))

	res, err := e.pipeline.HandleSignal(context.Background(), signal15min(whale1, 92))
	if err != nil {
		t.Fatal(err)
	}
	if res.Opened {
		t.Error("advisor skip ignored")
	}
}

func TestAdvisorFailureIsPassThrough(t *testing.T) {
	advisor := &stubAdvisor{err: errors.New("advisor down")}
	e := newTestEngine(t, domain.NewCapitalState(100), advisor, tieredWhale(whale1))

	res, err := e.pipeline.HandleSignal(context.Background(), signal15min(whale1, 92))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Opened {
		t.Errorf("advisor failure should not block the trade: %s", res.Reason)
	}
}

func TestInvalidSignalRejected(t *testing.T) {
	e := newTestEngine(t, domain.NewCapitalState(100), nil)

	sig := signal15min("not-an-address", 92)
	_, err := e.pipeline.HandleSignal(context.Background(), sig)
	if !errors.Is(err, domain.ErrInvalidSignal) {
		t.Fatalf("err = %v, want ErrInvalidSignal", err)
	}
}

func TestTrailingStopClosesPosition(t *testing.T) {
	e := newTestEngine(t, domain.NewCapitalState(100), nil, tieredWhale(whale1))
	ctx := context.Background()

	res, err := e.pipeline.HandleSignal(ctx, signal15min(whale1, 92))
	if err != nil || !res.Opened {
		t.Fatalf("open failed: %v %s", err, res.Reason)
	}

	// Entry at 0.55 puts the initial stop at 0.385. A whale fill implying
	// 0.50 stays above it.
	crash := func(taker float64) domain.WhaleFill {
		return domain.WhaleFill{
			TokenID:     "tok1",
			Whale:       whale2,
			Role:        domain.FillRoleTaker,
			MakerAmount: 100,
			TakerAmount: taker,
			Timeframe:   domain.Timeframe15Min,
			ObservedAt:  noon,
		}
	}
	e.pipeline.HandleFill(ctx, crash(50))
	if snap := e.pipeline.Snapshot(); snap.PendingCount != 1 {
		t.Fatalf("position closed above the stop: %+v", snap)
	}

	// A fill implying 0.30 crosses the stop and the position settles as a
	// loss at that price.
	e.pipeline.HandleFill(ctx, crash(30))
	snap := e.pipeline.Snapshot()
	if snap.PendingCount != 0 {
		t.Fatalf("position still pending after stop: %+v", snap)
	}
	if snap.Losses != 1 {
		t.Errorf("losses = %d, want 1", snap.Losses)
	}
	if snap.Capital >= 100 {
		t.Errorf("capital = %v, want below 100 after a stopped-out exit", snap.Capital)
	}

	// Further ticks find no armed stop and change nothing.
	before := snap.Capital
	e.pipeline.HandleFill(ctx, crash(10))
	if got := e.pipeline.Snapshot().Capital; got != before {
		t.Errorf("capital moved on a disarmed stop: %v -> %v", before, got)
	}
}

func TestQualityFedOnActualResolution(t *testing.T) {
	e := newTestEngine(t, domain.NewCapitalState(100), nil, tieredWhale(whale1))
	ctx := context.Background()

	e.pipeline.HandleFill(ctx, domain.WhaleFill{
		TokenID:     "tok1",
		Whale:       whale1,
		Role:        domain.FillRoleTaker,
		MakerAmount: 50,
		TakerAmount: 40,
		TokenSide:   domain.MarketOutcomeYes,
		Timeframe:   domain.Timeframe15Min,
	})

	res, err := e.pipeline.HandleSignal(ctx, signal15min(whale1, 92))
	if err != nil || !res.Opened {
		t.Fatalf("open failed: %v %s", err, res.Reason)
	}

	e.source.setOutcome("tok1", domain.MarketOutcomeYes)
	if err := e.pipeline.ResolvePosition(ctx, res.Position.ID); err != nil {
		t.Fatal(err)
	}

	s, ok := e.pipeline.tracker.Stats(whale1, domain.Timeframe15Min)
	if !ok {
		t.Fatal("whale quality not updated on actual resolution")
	}
	if s.Wins != 1 || s.NetPnL != 50 {
		t.Errorf("stats = %+v", s)
	}
}
