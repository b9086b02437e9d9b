package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyResolved     = errors.New("position already resolved")
	ErrNotResolved         = errors.New("market not yet resolved")
	ErrRateLimited         = errors.New("rate limited")
	ErrInvalidSignal       = errors.New("invalid trade signal")
	ErrTradingHalted       = errors.New("trading halted")
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrUnknownTokenSide    = errors.New("token side unknown")
	ErrWSDisconnect        = errors.New("websocket disconnected")
)

// RateLimitError carries the server-requested backoff from an HTTP 429.
// It unwraps to ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
