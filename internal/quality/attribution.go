// Package quality tracks how good each whale actually is. Every observed
// fill, copied or merely watched, is held until its market resolves and then
// attributed to the whale's own PnL, feeding promotion into the tier roster.
package quality

import (
	"fmt"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// FillPnL computes the whale's own profit on a fill once the token's market
// has resolved. The sign convention follows the fill role: a taker bought
// the token, a maker sold it.
//
// Fills with an unknown token side are never guessed at; the caller gets
// ErrUnknownTokenSide and must skip attribution.
func FillPnL(fill domain.WhaleFill, resolved domain.MarketOutcome) (pnl float64, won bool, err error) {
	if fill.TokenSide == "" {
		return 0, false, fmt.Errorf("quality: fill %s/%s: %w", fill.TokenID, fill.Whale, domain.ErrUnknownTokenSide)
	}

	tokenWon := fill.TokenSide == resolved

	switch fill.Role {
	case domain.FillRoleTaker:
		// The taker bought the token: they win with it.
		if tokenWon {
			return fill.MakerAmount, true, nil
		}
		return -fill.TakerAmount, false, nil
	case domain.FillRoleMaker:
		// The maker sold the token: they win when it loses.
		if tokenWon {
			loss := fill.MakerAmount - fill.TakerAmount
			if loss < 0 {
				loss = 0
			}
			return -loss, false, nil
		}
		return fill.TakerAmount, true, nil
	default:
		return 0, false, fmt.Errorf("quality: fill %s/%s: unknown role %q", fill.TokenID, fill.Whale, fill.Role)
	}
}
