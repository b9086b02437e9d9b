package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// OutcomeCache implements domain.OutcomeCache on Redis with per-key TTLs, so
// every engine instance polling the same market shares one upstream answer.
type OutcomeCache struct {
	rdb *redis.Client
}

// NewOutcomeCache creates an OutcomeCache backed by the given Client.
func NewOutcomeCache(c *Client) *OutcomeCache {
	return &OutcomeCache{rdb: c.Underlying()}
}

func outcomeKey(tokenID string) string {
	return "outcome:" + tokenID
}

// Get returns the cached outcome for a token, if present and unexpired.
func (oc *OutcomeCache) Get(ctx context.Context, tokenID string) (domain.OutcomeResult, bool, error) {
	data, err := oc.rdb.Get(ctx, outcomeKey(tokenID)).Bytes()
	if err == redis.Nil {
		return domain.OutcomeResult{}, false, nil
	}
	if err != nil {
		return domain.OutcomeResult{}, false, fmt.Errorf("redis: outcome get %s: %w", tokenID, err)
	}

	var res domain.OutcomeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return domain.OutcomeResult{}, false, fmt.Errorf("redis: outcome decode %s: %w", tokenID, err)
	}
	return res, true, nil
}

// Set caches an outcome response for the given TTL.
func (oc *OutcomeCache) Set(ctx context.Context, tokenID string, res domain.OutcomeResult, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("redis: outcome encode %s: %w", tokenID, err)
	}
	if err := oc.rdb.Set(ctx, outcomeKey(tokenID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: outcome set %s: %w", tokenID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OutcomeCache = (*OutcomeCache)(nil)
