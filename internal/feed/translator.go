package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
	"github.com/alanyoungcy/whalecopybot/internal/tier"
)

const (
	// SignalChannel is the pub/sub channel signals are mirrored onto.
	SignalChannel = "whale:signals"

	// SignalStream is the durable stream signals are appended to.
	SignalStream = "whale:signals:stream"

	// minTradeUSD drops dust fills before any lookup work happens.
	minTradeUSD = 10.0

	// marketCacheTTL bounds how long market metadata is reused.
	marketCacheTTL = 10 * time.Minute

	// defaultBaseConfidence is the score for whales with no usable history.
	defaultBaseConfidence = 70.0
)

// ProfileLookup answers whale roster membership; *tier.Strategy satisfies it.
type ProfileLookup interface {
	Lookup(address string) (domain.WhaleTierProfile, bool)
}

// Translator enriches raw whale fills into trade signals: market metadata
// lookup, timeframe detection, and confidence scoring. Enriched fills and
// signals are handed to the registered sinks.
type Translator struct {
	lookup   domain.MarketLookup
	profiles ProfileLookup
	bus      domain.SignalBus
	logger   *slog.Logger

	signalSink func(context.Context, domain.TradeSignal)
	fillSink   func(domain.WhaleFill)

	cacheMu sync.Mutex
	cache   map[string]cachedMarket

	now func() time.Time
}

type cachedMarket struct {
	info    domain.MarketInfo
	expires time.Time
}

// NewTranslator creates a translator. The bus may be nil when no mirror is
// wanted; sinks may be nil as well.
func NewTranslator(lookup domain.MarketLookup, profiles ProfileLookup, bus domain.SignalBus, logger *slog.Logger) *Translator {
	return &Translator{
		lookup:   lookup,
		profiles: profiles,
		bus:      bus,
		logger:   logger.With("component", "feed.translator"),
		cache:    make(map[string]cachedMarket),
		now:      time.Now,
	}
}

// OnSignal registers the sink that receives fully scored trade signals.
func (t *Translator) OnSignal(sink func(context.Context, domain.TradeSignal)) {
	t.signalSink = sink
}

// OnFill registers the sink that receives enriched fills.
func (t *Translator) OnFill(sink func(domain.WhaleFill)) {
	t.fillSink = sink
}

// Handle processes one raw fill from the monitor. It never returns an
// error: a fill that cannot be enriched is forwarded as-is or dropped, and
// the feed keeps flowing.
func (t *Translator) Handle(ctx context.Context, fill domain.WhaleFill) {
	usd := fill.TakerAmount
	if usd < minTradeUSD {
		return
	}

	info, err := t.marketInfo(ctx, fill.TokenID)
	if err != nil {
		t.logger.Warn("market lookup failed, forwarding fill unenriched",
			"token_id", fill.TokenID, "error", err)
	} else {
		fill.TokenSide = info.TokenSide
		fill.Timeframe = tier.DetectMarketTimeframe(info.Question)
	}

	if t.fillSink != nil {
		t.fillSink(fill)
	}
	if err != nil {
		return
	}

	price := fill.ImpliedPrice()
	if price <= 0 || price >= 1 {
		t.logger.Debug("implied price unusable, fill only",
			"token_id", fill.TokenID, "price", price)
		return
	}

	sig := domain.TradeSignal{
		ID:             uuid.NewString(),
		Whale:          fill.Whale,
		Side:           sideForRole(fill.Role),
		MarketID:       info.MarketID,
		TokenID:        fill.TokenID,
		Timeframe:      fill.Timeframe,
		Price:          price,
		MarketQuestion: info.Question,
		MarketEndTime:  info.EndTime,
		ObservedAt:     fill.ObservedAt,
	}
	sig.Confidence = t.score(sig.Whale, usd, price)

	t.publish(ctx, sig)
	if t.signalSink != nil {
		t.signalSink(ctx, sig)
	}
}

// score computes the base confidence for a signal: the whale's observed
// win rate when enough history exists, adjusted for trade size and price
// conviction.
func (t *Translator) score(whale string, usd, price float64) float64 {
	score := defaultBaseConfidence
	if t.profiles != nil {
		if profile, ok := t.profiles.Lookup(whale); ok && profile.TradeCount >= 10 {
			score = profile.WinRate * 100
		}
	}

	// Larger fills carry more conviction.
	if usd > 500 {
		score += 10
	} else if usd < 100 {
		score -= 5
	}

	// Extreme prices mean the whale is confirming a near-decided market.
	if price > 0.8 || price < 0.2 {
		score += 5
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// marketInfo looks up market metadata with a short-lived cache so a burst
// of fills on one token costs a single API call.
func (t *Translator) marketInfo(ctx context.Context, tokenID string) (domain.MarketInfo, error) {
	now := t.now()

	t.cacheMu.Lock()
	if c, ok := t.cache[tokenID]; ok && now.Before(c.expires) {
		t.cacheMu.Unlock()
		return c.info, nil
	}
	t.cacheMu.Unlock()

	info, err := t.lookup.Market(ctx, tokenID)
	if err != nil {
		return domain.MarketInfo{}, err
	}

	t.cacheMu.Lock()
	t.cache[tokenID] = cachedMarket{info: info, expires: now.Add(marketCacheTTL)}
	t.cacheMu.Unlock()

	return info, nil
}

// publish mirrors the signal onto the bus for external consumers. Bus
// failures are logged, never propagated.
func (t *Translator) publish(ctx context.Context, sig domain.TradeSignal) {
	if t.bus == nil {
		return
	}

	payload, err := json.Marshal(sig)
	if err != nil {
		return
	}
	if err := t.bus.Publish(ctx, SignalChannel, payload); err != nil {
		t.logger.Warn("signal publish failed", "error", err)
	}
	if err := t.bus.StreamAppend(ctx, SignalStream, payload); err != nil {
		t.logger.Warn("signal stream append failed", "error", err)
	}
}

func sideForRole(role domain.FillRole) domain.Side {
	if role == domain.FillRoleTaker {
		return domain.SideBuy
	}
	return domain.SideSell
}
