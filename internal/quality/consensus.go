package quality

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// Consensus classifications.
const (
	ConsensusSingle   = "SINGLE"
	ConsensusBuy      = "STRONG_BUY"
	ConsensusSell     = "STRONG_SELL"
	ConsensusConflict = "CONFLICT"
)

const consensusWindow = 15 * time.Minute

// ConsensusResult describes how tracked whales line up on a market inside
// the recent window. Agreement boosts confidence; conflict means skip.
type ConsensusResult struct {
	Kind            string
	ConfidenceDelta float64
	WhaleCount      int
	Skip            bool
	Message         string
}

type consensusTrade struct {
	whale string
	side  domain.Side
	at    time.Time
}

// ConsensusTracker remembers which whales traded which markets recently so
// agreement and conflict can adjust signal confidence.
type ConsensusTracker struct {
	mu     sync.Mutex
	trades map[string][]consensusTrade // market id -> recent trades
}

// NewConsensusTracker creates an empty ConsensusTracker.
func NewConsensusTracker() *ConsensusTracker {
	return &ConsensusTracker{trades: make(map[string][]consensusTrade)}
}

// Record notes a tracked whale's trade on a market.
func (c *ConsensusTracker) Record(marketID, whale string, side domain.Side, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trades[marketID] = append(c.pruneLocked(marketID, now), consensusTrade{whale: whale, side: side, at: now})
}

// Check classifies the current whale lineup on a market. Two or more whales
// on the same side boost confidence by 10; a split lineup is a skip with a
// 15-point penalty.
func (c *ConsensusTracker) Check(marketID string, now time.Time) ConsensusResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	recent := c.pruneLocked(marketID, now)

	// Latest side per whale wins.
	positions := make(map[string]domain.Side)
	for _, t := range recent {
		positions[t.whale] = t.side
	}

	if len(positions) < 2 {
		return ConsensusResult{Kind: ConsensusSingle, WhaleCount: len(positions)}
	}

	buys, sells := 0, 0
	for _, side := range positions {
		if side == domain.SideBuy {
			buys++
		} else {
			sells++
		}
	}

	switch {
	case sells == 0:
		return ConsensusResult{
			Kind:            ConsensusBuy,
			ConfidenceDelta: 10,
			WhaleCount:      len(positions),
			Message:         fmt.Sprintf("%d whales agree: BUY", len(positions)),
		}
	case buys == 0:
		return ConsensusResult{
			Kind:            ConsensusSell,
			ConfidenceDelta: 10,
			WhaleCount:      len(positions),
			Message:         fmt.Sprintf("%d whales agree: SELL", len(positions)),
		}
	default:
		return ConsensusResult{
			Kind:            ConsensusConflict,
			ConfidenceDelta: -15,
			WhaleCount:      len(positions),
			Skip:            true,
			Message:         fmt.Sprintf("whale conflict: %d BUY vs %d SELL", buys, sells),
		}
	}
}

// pruneLocked drops trades older than the window and writes the result back,
// removing the market entirely once nothing recent remains so the map does
// not accumulate every market ever touched.
func (c *ConsensusTracker) pruneLocked(marketID string, now time.Time) []consensusTrade {
	cutoff := now.Add(-consensusWindow)
	kept := c.trades[marketID][:0]
	for _, t := range c.trades[marketID] {
		if t.at.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(c.trades, marketID)
		return nil
	}
	c.trades[marketID] = kept
	return kept
}
