package risk

import "sync"

// TrailingStop tracks the exit level for one open position. The initial stop
// sits at 70% of entry; as price moves up the stop ratchets to protect 80%
// of the unrealized gain and never moves down.
type TrailingStop struct {
	mu      sync.Mutex
	entry   float64
	stop    float64
	high    float64
	tripped bool
}

// NewTrailingStop creates a stop for a position entered at the given price.
func NewTrailingStop(entry float64) *TrailingStop {
	return &TrailingStop{
		entry: entry,
		stop:  entry * 0.7,
		high:  entry,
	}
}

// Observe feeds a price tick. It returns true exactly once, when the price
// first crosses below the stop.
func (t *TrailingStop) Observe(price float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if price > t.high {
		t.high = price
		if raised := t.entry + 0.8*(t.high-t.entry); raised > t.stop {
			t.stop = raised
		}
	}
	if t.tripped {
		return false
	}
	if price <= t.stop {
		t.tripped = true
		return true
	}
	return false
}

// Stop returns the current stop level.
func (t *TrailingStop) Stop() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop
}
