package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// Intervals are the cadences of the background loops.
type Intervals struct {
	Resolution    time.Duration
	Promotion     time.Duration
	RosterRefresh time.Duration
	Report        time.Duration
}

// DefaultIntervals returns the production cadences.
func DefaultIntervals() Intervals {
	return Intervals{
		Resolution:    30 * time.Second,
		Promotion:     30 * time.Minute,
		RosterRefresh: 15 * time.Minute,
		Report:        3 * time.Minute,
	}
}

// Reporter receives periodic engine snapshots.
type Reporter interface {
	Report(ctx context.Context, snap domain.Snapshot)
}

// Run starts the background loops and blocks until the context is canceled
// or a loop fails hard. Positions that became due while the process was down
// are swept immediately on startup.
func (p *Pipeline) Run(ctx context.Context, iv Intervals, reporter Reporter) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.resolutionLoop(ctx, iv.Resolution) })
	g.Go(func() error { return p.promotionLoop(ctx, iv.Promotion) })
	g.Go(func() error { return p.rosterLoop(ctx, iv.RosterRefresh) })
	if reporter != nil {
		g.Go(func() error { return p.reportLoop(ctx, iv.Report, reporter) })
	}

	return g.Wait()
}

func (p *Pipeline) resolutionLoop(ctx context.Context, interval time.Duration) error {
	// Startup sweep first, for positions that came due while offline.
	p.sweepDue(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.sweepDue(ctx)
		}
	}
}

func (p *Pipeline) sweepDue(ctx context.Context) {
	due := p.ledger.Due(p.now())
	for _, pos := range due {
		if err := p.ResolvePosition(ctx, pos.ID); err != nil {
			switch {
			case errors.Is(err, domain.ErrNotResolved):
				// Market not settled yet; next sweep tries again.
			case errors.Is(err, domain.ErrAlreadyResolved):
				// Raced with another resolver; nothing to do.
			default:
				p.logger.Warn("resolution sweep failed",
					slog.String("position", pos.ID),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (p *Pipeline) promotionLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			promoted, err := p.tracker.PromoteEligible(ctx)
			if err != nil {
				p.logger.Warn("promotion sweep failed", slog.String("error", err.Error()))
				continue
			}
			if promoted > 0 {
				// New tier rows take effect on the next gate check.
				if err := p.strategy.RefreshRoster(ctx); err != nil {
					p.logger.Warn("roster refresh after promotion failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}

func (p *Pipeline) rosterLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.strategy.RefreshRoster(ctx); err != nil {
				p.logger.Warn("roster refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (p *Pipeline) reportLoop(ctx context.Context, interval time.Duration, reporter Reporter) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			reporter.Report(ctx, p.Snapshot())
		}
	}
}
