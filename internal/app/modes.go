package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/whalecopybot/internal/advisor"
	"github.com/alanyoungcy/whalecopybot/internal/crypto"
	"github.com/alanyoungcy/whalecopybot/internal/domain"
	"github.com/alanyoungcy/whalecopybot/internal/feed"
	"github.com/alanyoungcy/whalecopybot/internal/gateway"
	"github.com/alanyoungcy/whalecopybot/internal/ledger"
	"github.com/alanyoungcy/whalecopybot/internal/pipeline"
	"github.com/alanyoungcy/whalecopybot/internal/platform/gamma"
	"github.com/alanyoungcy/whalecopybot/internal/quality"
	"github.com/alanyoungcy/whalecopybot/internal/report"
	"github.com/alanyoungcy/whalecopybot/internal/risk"
	"github.com/alanyoungcy/whalecopybot/internal/sizing"
	"github.com/alanyoungcy/whalecopybot/internal/tier"
)

// engine bundles the assembled trading components shared by the run modes.
type engine struct {
	pipeline   *pipeline.Pipeline
	monitor    *feed.Monitor
	translator *feed.Translator
	tracker    *quality.Tracker
	strategy   *tier.Strategy
	resolver   *ledger.Resolver
	reporter   *report.Reporter
	limiter    domain.RateLimiter
}

// CopyMode runs the full copy-trading engine: the on-chain fill feed produces
// signals, the pipeline sizes and places copies (simulated or live per the
// configured mode), and the background loops sweep resolutions, promotions,
// roster refreshes, and reports.
func (a *App) CopyMode(ctx context.Context, deps *Dependencies) error {
	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return err
	}

	eng.translator.OnSignal(func(ctx context.Context, sig domain.TradeSignal) {
		if _, err := eng.pipeline.HandleSignal(ctx, sig); err != nil {
			a.logger.Warn("signal handling failed",
				slog.String("signal", sig.ID),
				slog.String("error", err.Error()))
		}
	})
	eng.translator.OnFill(func(fill domain.WhaleFill) {
		eng.pipeline.HandleFill(ctx, fill)
	})
	eng.monitor.OnFill(func(fill domain.WhaleFill) {
		eng.translator.Handle(ctx, fill)
	})

	if err := eng.monitor.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect fill feed: %w", err)
	}

	iv := a.intervals()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.pipeline.Run(gctx, iv, eng.reporter)
	})
	g.Go(func() error {
		// Watched-only fills resolve through the same sweep as in observe
		// mode; copied markets are already attributed on settlement.
		return a.observationLoop(gctx, eng, iv.Resolution)
	})
	g.Go(func() error {
		return a.rosterSyncLoop(gctx, eng)
	})

	err = g.Wait()
	if cerr := eng.monitor.Close(); cerr != nil {
		a.logger.Warn("feed close failed", slog.String("error", cerr.Error()))
	}
	return err
}

// ObserveMode watches whale fills and builds quality stats without placing
// any orders. It is the discovery mode: fills queue under their market,
// resolutions attribute them, and profitable unknowns surface as promotion
// candidates.
func (a *App) ObserveMode(ctx context.Context, deps *Dependencies) error {
	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return err
	}

	eng.translator.OnFill(eng.tracker.ObserveFill)
	eng.monitor.OnFill(func(fill domain.WhaleFill) {
		eng.translator.Handle(ctx, fill)
	})

	if err := eng.monitor.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect fill feed: %w", err)
	}

	iv := a.intervals()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.observationLoop(gctx, eng, iv.Resolution)
	})
	g.Go(func() error {
		return a.rosterSyncLoop(gctx, eng)
	})

	err = g.Wait()
	if cerr := eng.monitor.Close(); cerr != nil {
		a.logger.Warn("feed close failed", slog.String("error", cerr.Error()))
	}
	return err
}

// buildEngine assembles the object graph on top of the wired infrastructure.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies) (*engine, error) {
	logger := slog.Default()
	cfg := a.cfg

	gammaClient := gamma.New(cfg.Polymarket.GammaHost)
	resolver := ledger.NewResolver(gammaClient, deps.OutcomeCache, logger)

	book := ledger.New(deps.PositionStore, deps.IdempotencySet, resolver, logger)
	restored, err := book.Rehydrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: rehydrate ledger: %w", err)
	}
	if restored > 0 {
		a.logger.Info("pending positions restored", slog.Int("count", restored))
	}

	tracker := quality.NewTracker(tier.Tiers(), deps.WhaleStatsStore, deps.TierStore, logger)
	if err := tracker.Rehydrate(ctx); err != nil {
		return nil, fmt.Errorf("app: rehydrate whale stats: %w", err)
	}

	strategy := tier.NewStrategy(deps.TierStore, logger)
	if err := strategy.RefreshRoster(ctx); err != nil {
		a.logger.Warn("initial roster load failed", slog.String("error", err.Error()))
	}

	capital, err := deps.CapitalStore.Load(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("app: load capital: %w", err)
		}
		capital = domain.NewCapitalState(cfg.Capital.Starting)
		a.logger.Info("fresh capital pool", slog.Float64("starting", capital.Starting))
	}

	governor := risk.NewGovernor(a.riskLimits(), capital, logger)
	sizer := sizing.NewEnhanced(sizing.DefaultConfig())

	gw, err := a.buildGateway(ctx, logger)
	if err != nil {
		return nil, err
	}

	var adv domain.Advisor = advisor.Nop{}
	if cfg.Advisor.Endpoint != "" {
		adv = advisor.NewHTTP(cfg.Advisor.Endpoint, cfg.Advisor.APIKey, logger)
	}

	pipe := pipeline.New(pipeline.Config{
		Sizer:        sizer,
		Governor:     governor,
		Strategy:     strategy,
		Tracker:      tracker,
		Consensus:    quality.NewConsensusTracker(),
		Ledger:       book,
		Gateway:      gw,
		Advisor:      adv,
		CapitalStore: deps.CapitalStore,
		Audit:        deps.AuditStore,
		Capital:      capital,
		Logger:       logger,
	})

	monitor := feed.NewMonitor(cfg.Feed.WsURL, cfg.Feed.ExchangeContract)
	monitor.SetRoster(a.fullRoster(strategy))

	translator := feed.NewTranslator(gammaClient, strategy, deps.SignalBus, logger)

	reporter := report.New(deps.AuditStore, deps.Notifier, deps.Archiver, logger)

	return &engine{
		pipeline:   pipe,
		monitor:    monitor,
		translator: translator,
		tracker:    tracker,
		strategy:   strategy,
		resolver:   resolver,
		reporter:   reporter,
		limiter:    deps.RateLimiter,
	}, nil
}

// buildGateway selects the execution gateway for the configured mode. Live
// mode loads the wallet key, signs orders on the CLOB, and derives HMAC
// credentials up front; every other mode fills against the simulator.
func (a *App) buildGateway(ctx context.Context, logger *slog.Logger) (domain.ExecutionGateway, error) {
	if strings.ToLower(a.cfg.Mode) != "live" {
		return gateway.NewSimulated(logger), nil
	}

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: load wallet key: %w", err)
	}

	signer, err := crypto.NewSigner(key, a.cfg.Polymarket.ChainID)
	if err != nil {
		return nil, fmt.Errorf("app: create signer: %w", err)
	}

	live := gateway.NewLive(a.cfg.Polymarket.ClobHost, signer, nil, logger)
	if err := live.DeriveAPIKey(ctx); err != nil {
		return nil, fmt.Errorf("app: derive api key: %w", err)
	}
	return live, nil
}

// rosterSyncLoop keeps the feed monitor's whale roster aligned with the tier
// store as the promotion sweep adds whales. The configured seed whales are
// always watched.
func (a *App) rosterSyncLoop(ctx context.Context, eng *engine) error {
	interval := a.intervals().RosterRefresh
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			eng.monitor.SetRoster(a.fullRoster(eng.strategy))
		}
	}
}

// observationLoop polls the outcome source for the markets with pending
// fills and attributes them once resolved. Discovery announcements are
// logged; the promotion sweep picks the candidates up from the stats store.
func (a *App) observationLoop(ctx context.Context, eng *engine, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, token := range eng.tracker.PendingTokens() {
				// One shared budget against the Gamma API; whatever does
				// not fit this sweep waits for the next tick.
				allowed, err := eng.limiter.Allow(ctx, "gamma:outcomes", 10, time.Second)
				if err != nil {
					a.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
				} else if !allowed {
					break
				}
				res, err := eng.resolver.Query(ctx, token)
				if err != nil {
					a.logger.Debug("outcome query failed",
						slog.String("token", token),
						slog.String("error", err.Error()))
					continue
				}
				if !res.Resolved {
					continue
				}
				discovered := eng.tracker.OnMarketResolved(ctx, token, res.Outcome)
				for _, addr := range discovered {
					a.logger.Info("whale discovered", slog.String("address", addr))
				}
			}
		}
	}
}

// fullRoster merges the configured seed whales with the persisted tier roster.
func (a *App) fullRoster(strategy *tier.Strategy) []string {
	seen := make(map[string]struct{})
	var roster []string
	for _, addr := range a.cfg.Feed.Whales {
		addr = strings.ToLower(addr)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		roster = append(roster, addr)
	}
	for _, addr := range strategy.Addresses() {
		addr = strings.ToLower(addr)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		roster = append(roster, addr)
	}
	return roster
}

// intervals maps the configured loop cadences onto the pipeline, falling back
// to the production defaults for any cadence left unset.
func (a *App) intervals() pipeline.Intervals {
	iv := pipeline.DefaultIntervals()
	if d := a.cfg.Loops.Resolution.Duration; d > 0 {
		iv.Resolution = d
	}
	if d := a.cfg.Loops.Promotion.Duration; d > 0 {
		iv.Promotion = d
	}
	if d := a.cfg.Loops.RosterRefresh.Duration; d > 0 {
		iv.RosterRefresh = d
	}
	if d := a.cfg.Loops.Report.Duration; d > 0 {
		iv.Report = d
	}
	return iv
}

// riskLimits maps the configured limits onto the governor, falling back to
// the stock limits for any left unset.
func (a *App) riskLimits() domain.RiskLimits {
	lim := domain.DefaultRiskLimits()
	if v := a.cfg.Risk.MaxDrawdownPct; v > 0 {
		lim.MaxDrawdownPct = v
	}
	if v := a.cfg.Risk.MaxPerTradePct; v > 0 {
		lim.MaxPerTradePct = v
	}
	if v := a.cfg.Risk.MaxPerWhalePct; v > 0 {
		lim.MaxPerWhalePct = v
	}
	if v := a.cfg.Risk.MaxPerMarketPct; v > 0 {
		lim.MaxPerMarketPct = v
	}
	if v := a.cfg.Risk.MaxDailyExposurePct; v > 0 {
		lim.MaxDailyExposurePct = v
	}
	return lim
}
