package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// idempotencyTTL bounds the duplicate-detection window. Resolution callbacks
// replay within minutes, not days; a week is comfortably past any replay.
const idempotencyTTL = 7 * 24 * time.Hour

// IdempotencySet implements domain.IdempotencySet with SET NX, which makes
// the first-marker check atomic across engine restarts and instances.
type IdempotencySet struct {
	client *Client
}

// NewIdempotencySet creates an IdempotencySet backed by the given Client.
func NewIdempotencySet(c *Client) *IdempotencySet {
	return &IdempotencySet{client: c}
}

func idempotencyKey(positionID string) string {
	return "resolved:" + positionID
}

// Mark records a position id as resolved. It returns true on the first call
// for an id and false on every subsequent call.
func (is *IdempotencySet) Mark(ctx context.Context, positionID string) (bool, error) {
	ok, err := is.client.Underlying().SetNX(ctx, idempotencyKey(positionID), 1, idempotencyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis: idempotency mark %s: %w", positionID, err)
	}
	return ok, nil
}

// Contains reports whether a position id has already been marked.
func (is *IdempotencySet) Contains(ctx context.Context, positionID string) (bool, error) {
	n, err := is.client.Underlying().Exists(ctx, idempotencyKey(positionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: idempotency check %s: %w", positionID, err)
	}
	return n > 0, nil
}

// Compile-time interface check.
var _ domain.IdempotencySet = (*IdempotencySet)(nil)
