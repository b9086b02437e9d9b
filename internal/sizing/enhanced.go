package sizing

import (
	"sync"
	"time"
)

// EnhancedSizer wraps Sizer with stateful adjustments: win/loss streaks
// tracked across recorded results, and time-to-resolution scaling.
type EnhancedSizer struct {
	*Sizer

	mu         sync.Mutex
	winStreak  int
	lossStreak int
	results    []bool
}

// NewEnhanced creates an EnhancedSizer.
func NewEnhanced(cfg Config) *EnhancedSizer {
	return &EnhancedSizer{Sizer: New(cfg)}
}

// RecordResult feeds a trade outcome into the streak and recent-window state.
func (s *EnhancedSizer) RecordResult(won bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if won {
		s.winStreak++
		s.lossStreak = 0
	} else {
		s.lossStreak++
		s.winStreak = 0
	}
	s.results = append(s.results, won)
	if len(s.results) > 100 {
		s.results = s.results[len(s.results)-100:]
	}
}

// Recent returns the win rate over the last n recorded results and how many
// results were actually available.
func (s *EnhancedSizer) Recent(n int) (winRate float64, trades int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := s.results
	if len(window) > n {
		window = window[len(window)-n:]
	}
	if len(window) == 0 {
		return 0, 0
	}
	wins := 0
	for _, won := range window {
		if won {
			wins++
		}
	}
	return float64(wins) / float64(len(window)), len(window)
}

// Streaks returns the current consecutive win and loss counts.
func (s *EnhancedSizer) Streaks() (wins, losses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.winStreak, s.lossStreak
}

// StreakMultiplier returns the sizing multiplier implied by the current
// streaks: 3+ losses halves size, 5+ wins trims 10% against overconfidence.
func (s *EnhancedSizer) StreakMultiplier() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.lossStreak >= 3:
		return 0.5
	case s.winStreak >= 5:
		return 0.9
	default:
		return 1.0
	}
}

// TimeMultiplier scales sizing by how close the market is to resolution:
// under 2 minutes halves, under 5 minutes cuts 20%.
func TimeMultiplier(timeToResolution time.Duration) float64 {
	switch {
	case timeToResolution < 2*time.Minute:
		return 0.5
	case timeToResolution < 5*time.Minute:
		return 0.8
	default:
		return 1.0
	}
}

// PositionEnhanced runs the full sizing chain: base Kelly with recent
// performance from the recorded window, the drawdown ladder, then streak and
// time multipliers, re-rounded at the end.
func (s *EnhancedSizer) PositionEnhanced(capital, startingCapital float64, edge WhaleEdge, confidence float64, timeToResolution time.Duration) Result {
	var recent *RecentPerformance
	if rate, n := s.Recent(10); n >= 5 {
		recent = &RecentPerformance{WinRate: rate, Trades: n}
	}

	res := s.PositionWithDrawdown(capital, edge, confidence, recent, startingCapital)
	if res.Size == 0 {
		return res
	}

	size := res.Size * s.StreakMultiplier()
	size *= TimeMultiplier(timeToResolution)

	size = RoundToHalf(size)
	if size < s.cfg.MinPosition {
		size = 0
		res.Reason = "below minimum position"
	}
	if size != res.Size {
		res.Capped = true
	}
	res.Size = size
	return res
}
