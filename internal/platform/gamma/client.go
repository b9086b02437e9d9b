// Package gamma is the REST client for the Polymarket Gamma API, used here
// as the authoritative market outcome source.
package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// Client queries market resolution state over the Gamma REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Gamma client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// apiMarket is the subset of the Gamma market payload resolution needs.
// Field names vary across API versions, so several aliases are decoded and
// normalized afterwards.
type apiMarket struct {
	ConditionID    string `json:"conditionId"`
	Question       string `json:"question"`
	EndDate        string `json:"endDate"`
	Active         bool   `json:"active"`
	Closed         bool   `json:"closed"`
	Resolved       bool   `json:"resolved"`
	Outcome        string `json:"outcome"`
	Resolution     string `json:"resolution"`
	WinningOutcome string `json:"winning_outcome"`
	OutcomePrices  string `json:"outcomePrices"` // JSON-encoded ["0.99","0.01"]
	ClobTokenIDs   string `json:"clobTokenIds"`  // JSON-encoded ["yesTok","noTok"]
	Outcomes       string `json:"outcomes"`      // JSON-encoded ["Yes","No"]
}

// Query implements domain.OutcomeSource. An unresolved market returns
// Resolved false with a nil error; HTTP 429 surfaces as a RateLimitError
// carrying the server's Retry-After.
func (c *Client) Query(ctx context.Context, tokenID string) (domain.OutcomeResult, error) {
	params := url.Values{}
	params.Set("clob_token_ids", tokenID)

	body, err := c.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.OutcomeResult{}, fmt.Errorf("gamma: query token %s: %w", tokenID, err)
	}

	var markets []apiMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return domain.OutcomeResult{}, fmt.Errorf("gamma: decode markets: %w", err)
	}
	if len(markets) == 0 {
		return domain.OutcomeResult{}, nil
	}

	m := markets[0]
	if !m.Resolved && !m.Closed {
		return domain.OutcomeResult{}, nil
	}

	if outcome, ok := normalizeOutcome(m.Outcome, m.Resolution, m.WinningOutcome); ok {
		return domain.OutcomeResult{Resolved: true, Outcome: outcome}, nil
	}
	if outcome, ok := outcomeFromPrices(m.OutcomePrices); ok {
		return domain.OutcomeResult{Resolved: true, Outcome: outcome}, nil
	}

	// Closed but not settled; keep polling.
	return domain.OutcomeResult{}, nil
}

// Market implements domain.MarketLookup. It resolves the market metadata
// for a token, including which outcome side the token pays on.
func (c *Client) Market(ctx context.Context, tokenID string) (domain.MarketInfo, error) {
	params := url.Values{}
	params.Set("clob_token_ids", tokenID)

	body, err := c.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return domain.MarketInfo{}, fmt.Errorf("gamma: market lookup %s: %w", tokenID, err)
	}

	var markets []apiMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return domain.MarketInfo{}, fmt.Errorf("gamma: decode markets: %w", err)
	}
	if len(markets) == 0 {
		return domain.MarketInfo{}, fmt.Errorf("gamma: market lookup %s: %w", tokenID, domain.ErrNotFound)
	}

	m := markets[0]
	info := domain.MarketInfo{
		MarketID:  m.ConditionID,
		Question:  m.Question,
		TokenSide: tokenSide(m, tokenID),
	}
	if m.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			info.EndTime = &t
		}
	}
	return info, nil
}

// tokenSide matches the token against the market's clobTokenIds array and
// maps the parallel outcomes entry onto YES/NO. Empty when the arrays are
// missing or the outcome label is unrecognized.
func tokenSide(m apiMarket, tokenID string) domain.MarketOutcome {
	var tokens, outcomes []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokens); err != nil {
		return ""
	}
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil {
		return ""
	}
	for i, tok := range tokens {
		if tok != tokenID || i >= len(outcomes) {
			continue
		}
		if side, ok := normalizeOutcome(outcomes[i]); ok {
			return side
		}
	}
	return ""
}

// normalizeOutcome maps the API's various outcome spellings onto YES/NO.
func normalizeOutcome(candidates ...string) (domain.MarketOutcome, bool) {
	for _, c := range candidates {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "yes", "true", "1":
			return domain.MarketOutcomeYes, true
		case "no", "false", "0":
			return domain.MarketOutcomeNo, true
		}
	}
	return "", false
}

// outcomeFromPrices infers the outcome from settled prices: the YES token
// pinned at ~$1 means YES won, pinned at ~$0 means NO won. Anything in
// between is treated as unsettled.
func outcomeFromPrices(raw string) (domain.MarketOutcome, bool) {
	if raw == "" {
		return "", false
	}
	var prices []string
	if err := json.Unmarshal([]byte(raw), &prices); err != nil || len(prices) == 0 {
		return "", false
	}
	yes, err := strconv.ParseFloat(prices[0], 64)
	if err != nil {
		return "", false
	}
	switch {
	case yes >= 0.95:
		return domain.MarketOutcomeYes, true
	case yes <= 0.05:
		return domain.MarketOutcomeNo, true
	default:
		return "", false
	}
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, resp.Header, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, header http.Header, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, body)
	case http.StatusTooManyRequests:
		return &domain.RateLimitError{RetryAfter: parseRetryAfter(header.Get("Retry-After"))}
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, body)
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Compile-time interface checks.
var (
	_ domain.OutcomeSource = (*Client)(nil)
	_ domain.MarketLookup  = (*Client)(nil)
)
