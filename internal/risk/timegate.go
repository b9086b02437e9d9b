package risk

import (
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// GateResult says whether a trade may proceed at this moment and what size
// multiplier applies.
type GateResult struct {
	Allowed    bool
	Multiplier float64
	Reason     string
}

// TimeGate applies the market-window timing rules: no entries in the first
// 30 seconds of a window or the final 2 minutes, and a 30% size cut during
// the low-activity overnight hours (22:00-06:00 UTC).
func TimeGate(now, windowEnd time.Time, tf domain.Timeframe) GateResult {
	windowStart := windowEnd.Add(-tf.Duration())

	if now.Sub(windowStart) < 30*time.Second && now.After(windowStart) {
		return GateResult{Allowed: false, Reason: "first 30s of market window"}
	}
	if windowEnd.Sub(now) < 2*time.Minute {
		return GateResult{Allowed: false, Reason: "under 2 minutes to resolution"}
	}

	res := GateResult{Allowed: true, Multiplier: 1.0}
	if h := now.UTC().Hour(); h >= 22 || h < 6 {
		res.Multiplier = 0.7
		res.Reason = "low-activity hours"
	}
	return res
}
