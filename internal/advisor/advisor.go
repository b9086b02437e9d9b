// Package advisor calls an external trade validation service for a second
// opinion before an order is placed. The engine treats the advisor as
// advisory only: failures fall back to the unadjusted confidence.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// HTTPAdvisor posts candidate trades to a validation endpoint and maps the
// response onto a confidence adjustment in [-20, +20].
type HTTPAdvisor struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTP(endpoint, apiKey string, logger *slog.Logger) *HTTPAdvisor {
	return &HTTPAdvisor{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.With("component", "advisor"),
	}
}

type validateRequest struct {
	Whale          string  `json:"whale"`
	Side           string  `json:"side"`
	MarketQuestion string  `json:"market_question"`
	Price          float64 `json:"price"`
	BaseConfidence float64 `json:"base_confidence"`
}

type validateResponse struct {
	ConfidenceDelta float64  `json:"confidence_delta"`
	Recommendation  string   `json:"recommendation"`
	Reasoning       string   `json:"reasoning"`
	Concerns        []string `json:"concerns"`
}

// Validate implements domain.Advisor. The delta is clamped to [-20, +20]
// and unrecognized recommendations are treated as PROCEED so a sloppy
// service cannot silently veto trades.
func (a *HTTPAdvisor) Validate(ctx context.Context, sig domain.TradeSignal, baseConfidence float64) (domain.Advice, error) {
	reqBody, err := json.Marshal(validateRequest{
		Whale:          sig.Whale,
		Side:           string(sig.Side),
		MarketQuestion: sig.MarketQuestion,
		Price:          sig.Price,
		BaseConfidence: baseConfidence,
	})
	if err != nil {
		return domain.Advice{}, fmt.Errorf("advisor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return domain.Advice{}, fmt.Errorf("advisor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return domain.Advice{}, fmt.Errorf("advisor: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Advice{}, fmt.Errorf("advisor: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Advice{}, fmt.Errorf("advisor: HTTP %d: %s", resp.StatusCode, body)
	}

	var vr validateResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return domain.Advice{}, fmt.Errorf("advisor: decode response: %w", err)
	}

	advice := domain.Advice{
		ConfidenceDelta: clampDelta(vr.ConfidenceDelta),
		Recommendation:  domain.AdviceProceed,
		Reasoning:       vr.Reasoning,
		Concerns:        vr.Concerns,
	}
	if vr.Recommendation == domain.AdviceSkip {
		advice.Recommendation = domain.AdviceSkip
	}

	a.logger.Debug("trade validated",
		"whale", sig.Whale,
		"delta", advice.ConfidenceDelta,
		"recommendation", advice.Recommendation)

	return advice, nil
}

func clampDelta(d float64) float64 {
	if d > 20 {
		return 20
	}
	if d < -20 {
		return -20
	}
	return d
}

// Nop is the pass-through advisor used when no validation service is
// configured.
type Nop struct{}

func (Nop) Validate(ctx context.Context, sig domain.TradeSignal, baseConfidence float64) (domain.Advice, error) {
	return domain.Advice{Recommendation: domain.AdviceProceed}, nil
}

var (
	_ domain.Advisor = (*HTTPAdvisor)(nil)
	_ domain.Advisor = Nop{}
)
