package sizing

import (
	"testing"
	"time"
)

func TestStreakMultiplier(t *testing.T) {
	s := NewEnhanced(DefaultConfig())

	if got := s.StreakMultiplier(); got != 1.0 {
		t.Fatalf("fresh sizer multiplier = %v", got)
	}

	for i := 0; i < 3; i++ {
		s.RecordResult(false)
	}
	if got := s.StreakMultiplier(); got != 0.5 {
		t.Errorf("3 losses: multiplier = %v, want 0.5", got)
	}

	// A win resets the loss streak.
	s.RecordResult(true)
	if got := s.StreakMultiplier(); got != 1.0 {
		t.Errorf("after reset: multiplier = %v, want 1.0", got)
	}

	for i := 0; i < 4; i++ {
		s.RecordResult(true)
	}
	if got := s.StreakMultiplier(); got != 0.9 {
		t.Errorf("5 wins: multiplier = %v, want 0.9", got)
	}
}

func TestTimeMultiplier(t *testing.T) {
	tests := []struct {
		remaining time.Duration
		want      float64
	}{
		{90 * time.Second, 0.5},
		{3 * time.Minute, 0.8},
		{10 * time.Minute, 1.0},
	}
	for _, tt := range tests {
		if got := TimeMultiplier(tt.remaining); got != tt.want {
			t.Errorf("TimeMultiplier(%v) = %v, want %v", tt.remaining, got, tt.want)
		}
	}
}

func TestRecentWindow(t *testing.T) {
	s := NewEnhanced(DefaultConfig())
	for i := 0; i < 10; i++ {
		s.RecordResult(i%2 == 0)
	}
	rate, n := s.Recent(10)
	if n != 10 {
		t.Fatalf("trades = %d, want 10", n)
	}
	if rate != 0.5 {
		t.Errorf("rate = %v, want 0.5", rate)
	}

	rate, n = s.Recent(4)
	if n != 4 {
		t.Fatalf("trades = %d, want 4", n)
	}
}

func TestPositionEnhancedChain(t *testing.T) {
	s := NewEnhanced(DefaultConfig())
	edge := WhaleEdge{WinRate: 0.80, AvgWinPct: 1.0, AvgLossPct: 1.0}

	base := s.PositionEnhanced(1000, 1000, edge, 100, time.Hour)
	if base.Size == 0 {
		t.Fatal("expected a nonzero base size")
	}

	// Three straight losses halve the position.
	for i := 0; i < 3; i++ {
		s.RecordResult(false)
	}
	halved := s.PositionEnhanced(1000, 1000, edge, 100, time.Hour)
	if halved.Size >= base.Size {
		t.Errorf("loss streak did not reduce size: %v vs %v", halved.Size, base.Size)
	}

	// Near-resolution trades shrink further and may fall below the floor.
	late := s.PositionEnhanced(1000, 1000, edge, 100, time.Minute)
	if late.Size > halved.Size {
		t.Errorf("time cut did not reduce size: %v vs %v", late.Size, halved.Size)
	}
}

func TestPositionEnhancedDrawdown(t *testing.T) {
	s := NewEnhanced(DefaultConfig())
	edge := WhaleEdge{WinRate: 0.80, AvgWinPct: 1.0, AvgLossPct: 1.0}

	healthy := s.PositionEnhanced(1000, 1000, edge, 100, time.Hour)
	// 21% drawdown from start lands in the 20% bracket and halves sizing.
	drawn := s.PositionEnhanced(790, 1000, edge, 100, time.Hour)
	if drawn.Size >= healthy.Size {
		t.Errorf("drawdown did not reduce size: %v vs %v", drawn.Size, healthy.Size)
	}
}
