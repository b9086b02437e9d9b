package domain

// TierConfig is the static configuration for one timeframe tier: the
// confidence threshold a signal must clear, the position multiplier applied
// to Kelly sizing, and the requirements for a whale to be promoted into the
// tier.
type TierConfig struct {
	Timeframe          Timeframe
	BaseThreshold      float64 // confidence threshold, 0-100
	PositionMultiplier float64
	MinWinRate         float64 // membership floor, 0-1
	PromotionMinTrades int
	PromotionMinRate   float64 // 0-1
}

// WhaleTierProfile is the authoritative roster row for a whale in one
// timeframe tier. One row per (address, timeframe).
type WhaleTierProfile struct {
	Address    string
	Timeframe  Timeframe
	TradeCount int
	Wins       int
	Losses     int
	Volume     float64
	Profit     float64
	WinRate    float64 // 0-1
}

// WhaleIncrementalStats is the running per-(address, timeframe) aggregate fed
// by resolution-time attribution. It is the promotion candidate pool; tier
// profiles are overwritten from it at sweep time, never accumulated into.
type WhaleIncrementalStats struct {
	Address   string
	Timeframe Timeframe
	Trades    int
	Wins      int
	Losses    int
	NetPnL    float64
	Volume    float64
}

// WinRate returns the observed win rate, or 0 when no decided trades exist.
func (s WhaleIncrementalStats) WinRate() float64 {
	decided := s.Wins + s.Losses
	if decided == 0 {
		return 0
	}
	return float64(s.Wins) / float64(decided)
}
