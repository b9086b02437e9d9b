package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/crypto"
	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// usdcDecimals is the base-unit scale for both USDC and outcome tokens on
// the Polymarket CLOB.
const usdcDecimals = 1e6

// Live places real orders on the Polymarket CLOB. Orders are marketable
// limit orders at the mirrored price, signed with EIP-712 and sent with
// L2 HMAC authentication.
type Live struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	logger     *slog.Logger
}

// NewLive creates the live gateway. The HMAC credentials may be nil at
// construction; call DeriveAPIKey before placing orders.
func NewLive(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth, logger *slog.Logger) *Live {
	return &Live{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
		logger:   logger.With("component", "gateway.live"),
	}
}

func (g *Live) Mode() domain.ExecutionMode { return domain.ExecutionLive }

// Place signs and submits one order. The USD amount and price are
// converted into the CLOB's 6-decimal maker/taker base units: a BUY makes
// USDC and takes tokens, a SELL the reverse.
func (g *Live) Place(ctx context.Context, tokenID string, side domain.Side, usdAmount, price float64) (domain.OrderResult, error) {
	payload, err := g.buildOrder(tokenID, side, usdAmount, price)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("gateway: build order: %w", err)
	}

	sig, err := g.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("gateway: sign order: %w", err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"side":          string(side),
			"feeRateBps":    payload.FeeRateBps,
			"nonce":         payload.Nonce,
			"expiration":    payload.Expiration,
			"signatureType": payload.SignatureType,
			"signature":     sig,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
		},
		"owner":     payload.Maker,
		"orderType": "FOK",
	}

	respBody, err := g.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("gateway: post order: %w", err)
	}

	var apiResult struct {
		Success      bool   `json:"success"`
		OrderID      string `json:"orderID"`
		ErrorMsg     string `json:"errorMsg"`
		MakingAmount string `json:"makingAmount"`
		TakingAmount string `json:"takingAmount"`
	}
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("gateway: decode order result: %w", err)
	}

	if !apiResult.Success {
		g.logger.Warn("order rejected", "token_id", tokenID, "error", apiResult.ErrorMsg)
		return domain.OrderResult{
			OrderID: apiResult.OrderID,
			Error:   apiResult.ErrorMsg,
		}, fmt.Errorf("gateway: order rejected: %s", apiResult.ErrorMsg)
	}

	result := domain.OrderResult{
		Success: true,
		OrderID: apiResult.OrderID,
	}
	result.Cost, result.Quantity = fillAmounts(side, apiResult.MakingAmount, apiResult.TakingAmount, usdAmount, price)
	if result.Quantity > 0 {
		result.FillPrice = result.Cost / result.Quantity
	}

	g.logger.Info("order filled",
		"order_id", result.OrderID,
		"token_id", tokenID,
		"side", side,
		"cost", result.Cost,
		"quantity", result.Quantity,
		"fill_price", result.FillPrice)

	return result, nil
}

// DeriveAPIKey runs the CLOB auth flow: sign a ClobAuth message with the
// wallet key and exchange it for HMAC credentials.
func (g *Live) DeriveAPIKey(ctx context.Context) error {
	address := g.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := g.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("gateway: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("gateway: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("gateway: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway: auth failed (HTTP %d): %s", resp.StatusCode, respBody)
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("gateway: decode auth response: %w", err)
	}

	g.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	g.logger.Info("derived CLOB API key", "auth", g.hmacAuth.String())

	return nil
}

// buildOrder converts the USD sizing into a signed-order payload.
func (g *Live) buildOrder(tokenID string, side domain.Side, usdAmount, price float64) (crypto.OrderPayload, error) {
	if price <= 0 || price >= 1 {
		return crypto.OrderPayload{}, fmt.Errorf("price %.4f outside (0, 1)", price)
	}
	if usdAmount <= 0 {
		return crypto.OrderPayload{}, fmt.Errorf("non-positive amount %.2f", usdAmount)
	}

	usdUnits := int64(math.Round(usdAmount * usdcDecimals))
	tokenUnits := int64(math.Round(usdAmount / price * usdcDecimals))

	var makerAmount, takerAmount int64
	var sideCode int
	switch side {
	case domain.SideBuy:
		makerAmount, takerAmount = usdUnits, tokenUnits
		sideCode = 0
	case domain.SideSell:
		makerAmount, takerAmount = tokenUnits, usdUnits
		sideCode = 1
	default:
		return crypto.OrderPayload{}, fmt.Errorf("unknown side %q", side)
	}

	salt, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return crypto.OrderPayload{}, fmt.Errorf("generate salt: %w", err)
	}

	address := g.signer.Address().Hex()
	return crypto.OrderPayload{
		Salt:          salt.String(),
		Maker:         address,
		Signer:        address,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       tokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideCode,
		SignatureType: 0,
	}, nil
}

// fillAmounts extracts the executed cost and quantity from the API's
// making/taking amounts, falling back to the requested size when the
// response omits them.
func fillAmounts(side domain.Side, making, taking string, usdAmount, price float64) (cost, quantity float64) {
	cost = usdAmount
	quantity = usdAmount / price

	makingF, mErr := strconv.ParseFloat(making, 64)
	takingF, tErr := strconv.ParseFloat(taking, 64)
	if mErr != nil || tErr != nil || makingF <= 0 || takingF <= 0 {
		return cost, quantity
	}

	if side == domain.SideBuy {
		return makingF / usdcDecimals, takingF / usdcDecimals
	}
	return takingF / usdcDecimals, makingF / usdcDecimals
}

func (g *Live) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if g.hmacAuth != nil {
		address := g.signer.Address().Hex()
		for k, v := range g.hmacAuth.L2Headers(address, method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, resp.Header, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func checkHTTPStatus(statusCode int, header http.Header, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, body)
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if secs, err := strconv.Atoi(header.Get("Retry-After")); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		return &domain.RateLimitError{RetryAfter: retryAfter}
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, body)
	}
}

var _ domain.ExecutionGateway = (*Live)(nil)
