package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	failMark  int // fail this many MarkResolved calls
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
	if m.failMark > 0 {
		m.failMark--
		return errors.New("store down")
	}
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
	pos.ResolvedAt = &upd.ResolvedAt
	m.positions[id] = pos
	return nil
}

func (m *memPositionStore) ListResolved(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, pos := range m.positions {
		if pos.Status == domain.PositionStatusResolved {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (m *memPositionStore) PendingExposure(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, pos := range m.positions {
		if pos.Status == domain.PositionStatusPending {
			total += pos.Size
		}
	}
	return total, nil
}

type memIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{seen: make(map[string]bool)}
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

func newMemOutcomeCache() *memOutcomeCache {
	return &memOutcomeCache{items: make(map[string]domain.OutcomeResult)}
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
	errs    []error
	calls   int
}

func (s *stubOutcomeSource) Query(ctx context.Context, tokenID string) (domain.OutcomeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return domain.OutcomeResult{}, err
	}
	return s.results[tokenID], nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(source *stubOutcomeSource) (*Ledger, *memPositionStore) {
	store := newMemPositionStore()
	resolver := NewResolver(source, newMemOutcomeCache(), discard())
	resolver.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	l := New(store, newMemIdempotency(), resolver, discard())
	return l, store
}

func pendingPosition(id string, mode domain.ExecutionMode) domain.Position {
	return domain.Position{
		ID:         id,
		Whale:      "0xabc",
		MarketID:   "m1",
		TokenID:    "tok1",
		Timeframe:  domain.Timeframe15Min,
		Side:       domain.SideBuy,
		Size:       10,
		Quantity:   20,
		Confidence: 93,
		WhaleRate:  0.75,
		Mode:       mode,
		OpenedAt:   time.Now(),
	}
}

func TestOpenComputesExpectedResolution(t *testing.T) {
	l, store := newTestLedger(&stubOutcomeSource{})
	pos := pendingPosition("p1", domain.ExecutionSimulated)

	if err := l.Open(context.Background(), pos); err != nil {
		t.Fatal(err)
	}

	stored, err := store.GetByID(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	want := pos.OpenedAt.Add(15 * time.Minute)
	if !stored.ExpectedResolution.Equal(want) {
		t.Errorf("expected resolution = %v, want %v", stored.ExpectedResolution, want)
	}

	total, count := l.PendingExposure()
	if total != 10 || count != 1 {
		t.Errorf("exposure = %v/%d", total, count)
	}
}

func TestOpenKeepsAuthoritativeEndTime(t *testing.T) {
	l, store := newTestLedger(&stubOutcomeSource{})
	pos := pendingPosition("p1", domain.ExecutionSimulated)
	end := pos.OpenedAt.Add(42 * time.Minute)
	pos.ExpectedResolution = end

	if err := l.Open(context.Background(), pos); err != nil {
		t.Fatal(err)
	}
	stored, _ := store.GetByID(context.Background(), "p1")
	if !stored.ExpectedResolution.Equal(end) {
		t.Errorf("authoritative end time overwritten: %v", stored.ExpectedResolution)
	}
}

func TestResolveActualOutcome(t *testing.T) {
	source := &stubOutcomeSource{results: map[string]domain.OutcomeResult{
		"tok1": {Resolved: true, Outcome: domain.MarketOutcomeYes},
	}}
	l, store := newTestLedger(source)
	ctx := context.Background()

	if err := l.Open(ctx, pendingPosition("p1", domain.ExecutionSimulated)); err != nil {
		t.Fatal(err)
	}

	res, err := l.Resolve(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Position.Outcome != domain.OutcomeWin {
		t.Errorf("BUY on YES should win, got %v", res.Position.Outcome)
	}
	if res.Position.ResolutionSource != domain.ResolutionActual {
		t.Errorf("source = %v", res.Position.ResolutionSource)
	}
	// Simulated mode, confidence 93: win pays 0.25x of the $10 size.
	if res.Position.PnL != 2.5 {
		t.Errorf("pnl = %v, want 2.5", res.Position.PnL)
	}

	stored, _ := store.GetByID(ctx, "p1")
	if stored.Status != domain.PositionStatusResolved {
		t.Error("store not marked resolved")
	}
}

func TestResolveTwiceIsNoOp(t *testing.T) {
	source := &stubOutcomeSource{results: map[string]domain.OutcomeResult{
		"tok1": {Resolved: true, Outcome: domain.MarketOutcomeYes},
	}}
	l, _ := newTestLedger(source)
	ctx := context.Background()

	if err := l.Open(ctx, pendingPosition("p1", domain.ExecutionSimulated)); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Resolve(ctx, "p1"); err != nil {
		t.Fatal(err)
	}

	_, err := l.Resolve(ctx, "p1")
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("second resolve err = %v, want ErrAlreadyResolved", err)
	}
}

func TestCloseSettlesAtExitPrice(t *testing.T) {
	l, store := newTestLedger(&stubOutcomeSource{})
	ctx := context.Background()

	if err := l.Open(ctx, pendingPosition("p1", domain.ExecutionLive)); err != nil {
		t.Fatal(err)
	}

	// 20 tokens sold at 0.35 against $10 committed.
	res, err := l.Close(ctx, "p1", 0.35)
	if err != nil {
		t.Fatal(err)
	}
	pos := res.Position
	if pos.PnL != -3 {
		t.Errorf("pnl = %v, want -3", pos.PnL)
	}
	if pos.Outcome != domain.OutcomeLoss {
		t.Errorf("outcome = %v, want LOSS", pos.Outcome)
	}
	if pos.ResolutionSource != domain.ResolutionStop {
		t.Errorf("source = %v, want STOP", pos.ResolutionSource)
	}

	stored, _ := store.GetByID(ctx, "p1")
	if stored.Status != domain.PositionStatusResolved {
		t.Errorf("stored status = %v", stored.Status)
	}
	if _, count := l.PendingExposure(); count != 0 {
		t.Errorf("pending count = %d after close", count)
	}

	_, err = l.Close(ctx, "p1", 0.20)
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("second close err = %v, want ErrAlreadyResolved", err)
	}
}

func TestCloseWithoutTokenCountUsesEntryPrice(t *testing.T) {
	l, _ := newTestLedger(&stubOutcomeSource{})
	ctx := context.Background()

	pos := pendingPosition("p1", domain.ExecutionSimulated)
	pos.Quantity = 0
	pos.EntryPrice = 0.50
	if err := l.Open(ctx, pos); err != nil {
		t.Fatal(err)
	}

	// $10 scaled by a 0.50 -> 0.40 move loses $2.
	res, err := l.Close(ctx, "p1", 0.40)
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Position.PnL; got != -2 {
		t.Errorf("pnl = %v, want -2", got)
	}
}

func TestCloseStoreFailureLeavesPending(t *testing.T) {
	l, store := newTestLedger(&stubOutcomeSource{})
	ctx := context.Background()

	if err := l.Open(ctx, pendingPosition("p1", domain.ExecutionLive)); err != nil {
		t.Fatal(err)
	}
	store.failMark = markResolvedRetries

	if _, err := l.Close(ctx, "p1", 0.35); err == nil {
		t.Fatal("expected close to fail while the store is down")
	}
	if _, count := l.PendingExposure(); count != 1 {
		t.Errorf("pending count = %d, want 1 after failed close", count)
	}
}

func TestConcurrentResolveSettlesOnce(t *testing.T) {
	source := &stubOutcomeSource{results: map[string]domain.OutcomeResult{
		"tok1": {Resolved: true, Outcome: domain.MarketOutcomeYes},
	}}
	l, _ := newTestLedger(source)
	ctx := context.Background()

	if err := l.Open(ctx, pendingPosition("p1", domain.ExecutionSimulated)); err != nil {
		t.Fatal(err)
	}

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Resolve(ctx, "p1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	settled := 0
	for err := range results {
		if err == nil {
			settled++
		}
	}
	if settled != 1 {
		t.Errorf("settled %d times, want exactly 1", settled)
	}
}

func TestResolveErrorLeavesPending(t *testing.T) {
	source := &stubOutcomeSource{errs: []error{
		errors.New("boom"), errors.New("boom"), errors.New("boom"),
	}}
	l, _ := newTestLedger(source)
	ctx := context.Background()

	if err := l.Open(ctx, pendingPosition("p1", domain.ExecutionSimulated)); err != nil {
		t.Fatal(err)
	}

	if _, err := l.Resolve(ctx, "p1"); err == nil {
		t.Fatal("expected error when outcome source is down")
	}

	// Still pending for the next sweep.
	if _, count := l.PendingExposure(); count != 1 {
		t.Error("position dropped from pending set after failed resolve")
	}
}

func TestLiveModeWaitsForActualOutcome(t *testing.T) {
	source := &stubOutcomeSource{results: map[string]domain.OutcomeResult{
		"tok1": {Resolved: false},
	}}
	l, _ := newTestLedger(source)
	ctx := context.Background()

	if err := l.Open(ctx, pendingPosition("p1", domain.ExecutionLive)); err != nil {
		t.Fatal(err)
	}

	_, err := l.Resolve(ctx, "p1")
	if !errors.Is(err, domain.ErrNotResolved) {
		t.Fatalf("err = %v, want ErrNotResolved", err)
	}
	if _, count := l.PendingExposure(); count != 1 {
		t.Error("live position dropped while unresolved")
	}
}

func TestSimulatedFallback(t *testing.T) {
	source := &stubOutcomeSource{results: map[string]domain.OutcomeResult{
		"tok1": {Resolved: false},
	}}
	l, _ := newTestLedger(source)
	l.draw = func() float64 { return 0.0 } // whale always right
	ctx := context.Background()

	if err := l.Open(ctx, pendingPosition("p1", domain.ExecutionSimulated)); err != nil {
		t.Fatal(err)
	}

	res, err := l.Resolve(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Position.ResolutionSource != domain.ResolutionSimulated {
		t.Errorf("source = %v, want SIMULATED", res.Position.ResolutionSource)
	}
	if res.Position.Outcome != domain.OutcomeWin {
		t.Errorf("BUY with a winning draw should win, got %v", res.Position.Outcome)
	}
}

func TestLivePnL(t *testing.T) {
	pos := pendingPosition("p1", domain.ExecutionLive)
	pos.Size = 10
	pos.Quantity = 20

	if got := positionPnL(pos, true); got != 10 {
		t.Errorf("live win pnl = %v, want 10 (20 tokens x $1 - $10 cost)", got)
	}
	if got := positionPnL(pos, false); got != -10 {
		t.Errorf("live loss pnl = %v, want -10", got)
	}
}

func TestMarkResolvedRetries(t *testing.T) {
	source := &stubOutcomeSource{results: map[string]domain.OutcomeResult{
		"tok1": {Resolved: true, Outcome: domain.MarketOutcomeYes},
	}}
	l, store := newTestLedger(source)
	store.failMark = 2 // first two writes fail, third succeeds
	ctx := context.Background()

	if err := l.Open(ctx, pendingPosition("p1", domain.ExecutionSimulated)); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Resolve(ctx, "p1"); err != nil {
		t.Fatalf("resolve should survive transient store failures: %v", err)
	}
}

func TestDue(t *testing.T) {
	l, _ := newTestLedger(&stubOutcomeSource{})
	ctx := context.Background()
	now := time.Now()

	early := pendingPosition("p1", domain.ExecutionSimulated)
	early.ExpectedResolution = now.Add(-time.Minute)
	late := pendingPosition("p2", domain.ExecutionSimulated)
	late.ExpectedResolution = now.Add(time.Hour)

	if err := l.Open(ctx, early); err != nil {
		t.Fatal(err)
	}
	if err := l.Open(ctx, late); err != nil {
		t.Fatal(err)
	}

	due := l.Due(now)
	if len(due) != 1 || due[0].ID != "p1" {
		t.Errorf("due = %v", due)
	}
}

func TestRehydrate(t *testing.T) {
	store := newMemPositionStore()
	opened := time.Now().Add(-time.Hour)
	store.positions["p1"] = domain.Position{
		ID: "p1", TokenID: "tok1", Timeframe: domain.Timeframe15Min,
		Status: domain.PositionStatusPending, OpenedAt: opened, Size: 5,
	}

	resolver := NewResolver(&stubOutcomeSource{}, newMemOutcomeCache(), discard())
	l := New(store, newMemIdempotency(), resolver, discard())

	n, err := l.Rehydrate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("rehydrated %d, want 1", n)
	}

	due := l.Due(time.Now())
	if len(due) != 1 {
		t.Fatal("rehydrated position not due")
	}
	want := opened.Add(15 * time.Minute)
	if !due[0].ExpectedResolution.Equal(want) {
		t.Errorf("expected resolution recomputed to %v, want %v", due[0].ExpectedResolution, want)
	}
}

func TestResolverRateLimitBackoff(t *testing.T) {
	source := &stubOutcomeSource{
		results: map[string]domain.OutcomeResult{"tok1": {Resolved: true, Outcome: domain.MarketOutcomeNo}},
		errs:    []error{&domain.RateLimitError{RetryAfter: 2 * time.Second}},
	}
	var slept []time.Duration
	r := NewResolver(source, newMemOutcomeCache(), discard())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	res, err := r.Query(context.Background(), "tok1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Resolved {
		t.Error("expected resolved result after retry")
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Errorf("slept %v, want [2s] from Retry-After", slept)
	}
}

func TestResolverCache(t *testing.T) {
	source := &stubOutcomeSource{results: map[string]domain.OutcomeResult{
		"tok1": {Resolved: true, Outcome: domain.MarketOutcomeYes},
	}}
	r := NewResolver(source, newMemOutcomeCache(), discard())

	ctx := context.Background()
	if _, err := r.Query(ctx, "tok1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Query(ctx, "tok1"); err != nil {
		t.Fatal(err)
	}
	if source.calls != 1 {
		t.Errorf("source called %d times, want 1 (second hit cached)", source.calls)
	}
}
