package domain

import (
	"context"
	"time"
)

// MarketInfo is the metadata needed to turn a raw whale fill into a trade
// signal. TokenSide is the outcome the queried token pays out on.
type MarketInfo struct {
	MarketID  string
	Question  string
	EndTime   *time.Time
	TokenSide MarketOutcome
}

// MarketLookup resolves token-level market metadata.
type MarketLookup interface {
	Market(ctx context.Context, tokenID string) (MarketInfo, error)
}
