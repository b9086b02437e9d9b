// Package feed watches the exchange contract's fill events over an
// Ethereum RPC websocket and turns fills by monitored whales into
// normalized trade signals.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// orderFilledTopic is the event signature hash for the CTF Exchange's
// OrderFilled log.
var orderFilledTopic = "0x" + fmt.Sprintf("%x", ethcrypto.Keccak256(
	[]byte("OrderFilled(bytes32,address,address,uint256,uint256,uint256,uint256,uint256)"),
))

// FillHandler is called for every fill involving a monitored whale.
type FillHandler func(domain.WhaleFill)

// Monitor subscribes to exchange fill logs over an RPC websocket and
// dispatches whale fills to registered handlers. It manages the connection
// lifecycle: keep-alive pings and reconnection with exponential backoff.
type Monitor struct {
	wsURL    string
	exchange string // exchange contract address
	conn     *websocket.Conn

	mu     sync.RWMutex
	closed bool

	rosterMu sync.RWMutex
	roster   map[string]struct{} // lowercase whale addresses

	handlerMu sync.RWMutex
	handlers  []FillHandler

	// done is closed when the monitor is shut down.
	done chan struct{}
}

// NewMonitor creates a fill monitor.
//
// wsURL is an Ethereum RPC websocket endpoint supporting eth_subscribe.
// exchange is the exchange contract whose OrderFilled logs are watched.
func NewMonitor(wsURL, exchange string) *Monitor {
	return &Monitor{
		wsURL:    wsURL,
		exchange: exchange,
		roster:   make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// SetRoster replaces the set of monitored whale addresses. Fills by
// anyone else are dropped at the feed boundary.
func (m *Monitor) SetRoster(addresses []string) {
	roster := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		roster[strings.ToLower(a)] = struct{}{}
	}

	m.rosterMu.Lock()
	m.roster = roster
	m.rosterMu.Unlock()
}

// OnFill registers a handler called for every whale fill.
func (m *Monitor) OnFill(handler FillHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Connect establishes the websocket connection and subscribes to fill logs.
func (m *Monitor) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("feed: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, m.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}

	m.conn = conn

	m.conn.SetReadDeadline(time.Now().Add(pongWait))
	m.conn.SetPongHandler(func(string) error {
		m.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := m.subscribe(); err != nil {
		conn.Close()
		m.conn = nil
		return fmt.Errorf("feed: subscribe: %w", err)
	}

	go m.readLoop()
	go m.pingLoop()

	return nil
}

// Close shuts down the connection and stops the read loop.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	close(m.done)

	if m.conn != nil {
		_ = m.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return m.conn.Close()
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// subscribe sends the eth_subscribe request for OrderFilled logs on the
// exchange contract. Caller must hold m.mu.
func (m *Monitor) subscribe() error {
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params": []any{
			"logs",
			map[string]any{
				"address": m.exchange,
				"topics":  []string{orderFilledTopic},
			},
		},
	}

	m.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages and dispatches fills. On disconnect it attempts
// reconnection with exponential backoff.
func (m *Monitor) readLoop() {
	for {
		select {
		case <-m.done:
			return
		default:
		}

		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-m.done:
				return
			default:
			}

			m.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		m.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (m *Monitor) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a subscription notification and dispatches the fill
// when a monitored whale is on either side.
func (m *Monitor) handleMessage(raw []byte) {
	var envelope struct {
		Method string `json:"method"`
		Params struct {
			Result fillLog `json:"result"`
		} `json:"params"`
	}

	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // drop unparseable messages
	}
	if envelope.Method != "eth_subscription" {
		return
	}

	fill, ok := m.decodeFill(envelope.Params.Result)
	if !ok {
		return
	}

	m.handlerMu.RLock()
	handlers := m.handlers
	m.handlerMu.RUnlock()

	for _, h := range handlers {
		h(fill)
	}
}

// fillLog is the raw log entry from the subscription.
type fillLog struct {
	Topics []string `json:"topics"`
	Data   string   `json:"data"`
}

// decodeFill extracts a WhaleFill from an OrderFilled log.
//
// Topics carry [signature, orderHash, maker, taker]; the data words are
// makerAssetId, takerAssetId, makerAmountFilled, takerAmountFilled, fee.
// A whale on the maker side sold its tokens; on the taker side it bought.
func (m *Monitor) decodeFill(log fillLog) (domain.WhaleFill, bool) {
	if len(log.Topics) < 4 {
		return domain.WhaleFill{}, false
	}

	maker := addressFromTopic(log.Topics[2])
	taker := addressFromTopic(log.Topics[3])

	m.rosterMu.RLock()
	_, makerIsWhale := m.roster[maker]
	_, takerIsWhale := m.roster[taker]
	m.rosterMu.RUnlock()

	if !makerIsWhale && !takerIsWhale {
		return domain.WhaleFill{}, false
	}

	data := strings.TrimPrefix(log.Data, "0x")
	if len(data) < 4*64 {
		return domain.WhaleFill{}, false
	}

	makerAssetID, ok1 := hexWord(data, 0)
	takerAssetID, ok2 := hexWord(data, 1)
	makerAmount, ok3 := hexWord(data, 2)
	takerAmount, ok4 := hexWord(data, 3)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return domain.WhaleFill{}, false
	}

	// The zero asset id is the collateral (USDC); the other side is the
	// outcome token being traded.
	tokenID := makerAssetID
	if tokenID.Sign() == 0 {
		tokenID = takerAssetID
	}

	fill := domain.WhaleFill{
		TokenID:     tokenID.String(),
		Whale:       maker,
		Role:        domain.FillRoleMaker,
		MakerAmount: amountToDollars(makerAmount),
		TakerAmount: amountToDollars(takerAmount),
		ObservedAt:  time.Now().UTC(),
	}
	if !makerIsWhale {
		fill.Whale = taker
		fill.Role = domain.FillRoleTaker
	}

	return fill, true
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the monitor is closed.
func (m *Monitor) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-m.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := m.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// addressFromTopic extracts the 20-byte address from a 32-byte topic word.
func addressFromTopic(topic string) string {
	t := strings.TrimPrefix(topic, "0x")
	if len(t) < 40 {
		return ""
	}
	return strings.ToLower("0x" + t[len(t)-40:])
}

// hexWord parses the idx-th 32-byte word of the log data.
func hexWord(data string, idx int) (*big.Int, bool) {
	start := idx * 64
	if len(data) < start+64 {
		return nil, false
	}
	return new(big.Int).SetString(data[start:start+64], 16)
}

// amountToDollars converts a 6-decimal base-unit amount to dollars. Amounts
// past float precision do not occur at whale trade sizes.
func amountToDollars(n *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(n), big.NewFloat(1e6)).Float64()
	return f
}
