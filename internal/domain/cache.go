package domain

import (
	"context"
	"time"
)

// OutcomeCache holds short-lived outcome source responses so a burst of
// due positions on the same market costs one upstream call.
type OutcomeCache interface {
	Get(ctx context.Context, tokenID string) (OutcomeResult, bool, error)
	Set(ctx context.Context, tokenID string, res OutcomeResult, ttl time.Duration) error
}

// IdempotencySet detects duplicate resolution callbacks. Mark returns true
// on first insertion; false means the id was already marked and the caller
// must treat the resolution as a duplicate.
type IdempotencySet interface {
	Mark(ctx context.Context, positionID string) (bool, error)
	Contains(ctx context.Context, positionID string) (bool, error)
}

// RateLimiter provides distributed rate limiting for outbound calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for inbound signal events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
