package tier

import (
	"strconv"
	"strings"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// DetectMarketTimeframe classifies a market by parsing its question text.
// Explicit timeframe phrasing wins; "N hour" phrasing is bucketed; anything
// unrecognized defaults to 15min, the dominant market type on the feed.
func DetectMarketTimeframe(question string) domain.Timeframe {
	q := strings.ToLower(question)

	for _, p := range []string{"15 min", "15min", "15-min", "next 15"} {
		if strings.Contains(q, p) {
			return domain.Timeframe15Min
		}
	}
	for _, p := range []string{"4 hour", "4hour", "4-hour", "next 4"} {
		if strings.Contains(q, p) {
			return domain.Timeframe4Hour
		}
	}
	for _, p := range []string{"1 hour", "60 min", "next hour"} {
		if strings.Contains(q, p) {
			return domain.TimeframeHourly
		}
	}
	for _, p := range []string{"today", "by friday", "eod", "tomorrow"} {
		if strings.Contains(q, p) {
			return domain.TimeframeDaily
		}
	}

	if hours, ok := parseHourCount(q); ok {
		switch {
		case hours <= 1:
			return domain.TimeframeHourly
		case hours <= 4:
			return domain.Timeframe4Hour
		default:
			return domain.TimeframeDaily
		}
	}

	return domain.Timeframe15Min
}

// parseHourCount finds an "N hour"/"N hours" phrase and returns N.
func parseHourCount(q string) (int, bool) {
	fields := strings.Fields(q)
	for i, f := range fields {
		if !strings.HasPrefix(f, "hour") {
			continue
		}
		if i == 0 {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(fields[i-1])); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// IsBlockedMarket reports whether a market matches a known losing pattern.
// Soccer over/under markets are blocked outright: team-name indicators plus
// an O/U betting line.
func IsBlockedMarket(question string) bool {
	if question == "" {
		return false
	}
	q := strings.ToLower(question)

	overUnder := strings.Contains(q, "o/u") || strings.Contains(q, "over/under")
	if !overUnder {
		return false
	}
	for _, indicator := range []string{"fc", "club", "united", "city", "sc", "cf"} {
		if strings.Contains(q, indicator) {
			return true
		}
	}
	return false
}
