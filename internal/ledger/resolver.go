package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

const (
	outcomeCacheTTL = 60 * time.Second
	queryTimeout    = 8 * time.Second
	maxQueryRetries = 2
)

// Resolver answers outcome queries through a short-lived cache and bounded
// retries, so a sweep over many due positions on the same market costs one
// upstream call and a rate-limited upstream never stalls the loop for long.
type Resolver struct {
	source domain.OutcomeSource
	cache  domain.OutcomeCache
	logger *slog.Logger

	sleep func(context.Context, time.Duration) error
}

// NewResolver creates a Resolver.
func NewResolver(source domain.OutcomeSource, cache domain.OutcomeCache, logger *slog.Logger) *Resolver {
	return &Resolver{
		source: source,
		cache:  cache,
		logger: logger.With(slog.String("component", "resolver")),
		sleep:  sleepCtx,
	}
}

// Query returns the outcome state for a token, from cache when fresh. On
// HTTP 429 the server's Retry-After is honored when present, otherwise
// backoff grows 5s per attempt; after the retry budget the error surfaces
// and the position stays pending for the next sweep.
func (r *Resolver) Query(ctx context.Context, tokenID string) (domain.OutcomeResult, error) {
	if res, ok, err := r.cache.Get(ctx, tokenID); err == nil && ok {
		return res, nil
	} else if err != nil {
		r.logger.Warn("outcome cache read failed", slog.String("error", err.Error()))
	}

	var lastErr error
	for attempt := 0; attempt <= maxQueryRetries; attempt++ {
		qctx, cancel := context.WithTimeout(ctx, queryTimeout)
		res, err := r.source.Query(qctx, tokenID)
		cancel()

		if err == nil {
			if cerr := r.cache.Set(ctx, tokenID, res, outcomeCacheTTL); cerr != nil {
				r.logger.Warn("outcome cache write failed", slog.String("error", cerr.Error()))
			}
			return res, nil
		}
		lastErr = err

		if attempt == maxQueryRetries {
			break
		}

		backoff := time.Duration(attempt+1) * 5 * time.Second
		var rle *domain.RateLimitError
		if errors.As(err, &rle) && rle.RetryAfter > 0 {
			backoff = rle.RetryAfter
		} else if !errors.Is(err, domain.ErrRateLimited) && !isTransient(err) {
			break
		}

		r.logger.Debug("outcome query retry",
			slog.String("token", tokenID),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff))
		if err := r.sleep(ctx, backoff); err != nil {
			return domain.OutcomeResult{}, err
		}
	}
	return domain.OutcomeResult{}, fmt.Errorf("ledger: query outcome for %s: %w", tokenID, lastErr)
}

// isTransient reports whether an error is worth retrying at all. Context
// cancellation is terminal; everything else from the network layer gets the
// backoff treatment.
func isTransient(err error) bool {
	return !errors.Is(err, context.Canceled)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
