// Package gateway provides the two order execution paths: a live CLOB
// client and a simulated fill engine. Both satisfy domain.ExecutionGateway,
// so everything above them is mode-agnostic.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// Simulated fills every order instantly at the signal price with no
// slippage and no fees. It keeps the full decision path honest in paper
// mode because every layer above it sees a real OrderResult.
type Simulated struct {
	logger *slog.Logger
}

func NewSimulated(logger *slog.Logger) *Simulated {
	return &Simulated{
		logger: logger.With("component", "gateway.simulated"),
	}
}

func (g *Simulated) Mode() domain.ExecutionMode { return domain.ExecutionSimulated }

// Place fills the order at the given price. Quantity is the token count
// the USD amount buys at that price.
func (g *Simulated) Place(ctx context.Context, tokenID string, side domain.Side, usdAmount, price float64) (domain.OrderResult, error) {
	if price <= 0 || price >= 1 {
		return domain.OrderResult{
			Error: fmt.Sprintf("price %.4f outside (0, 1)", price),
		}, fmt.Errorf("gateway: simulated fill: price %.4f outside (0, 1)", price)
	}
	if usdAmount <= 0 {
		return domain.OrderResult{
			Error: fmt.Sprintf("non-positive amount %.2f", usdAmount),
		}, fmt.Errorf("gateway: simulated fill: non-positive amount %.2f", usdAmount)
	}

	result := domain.OrderResult{
		Success:   true,
		OrderID:   "sim-" + uuid.NewString(),
		FillPrice: price,
		Quantity:  usdAmount / price,
		Cost:      usdAmount,
	}

	g.logger.Info("simulated fill",
		"order_id", result.OrderID,
		"token_id", tokenID,
		"side", side,
		"usd", usdAmount,
		"price", price,
		"quantity", result.Quantity)

	return result, nil
}

var _ domain.ExecutionGateway = (*Simulated)(nil)
