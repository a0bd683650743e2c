// Package binance streams 24h ticker updates from the Binance public
// WebSocket API.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/startraders/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is the time allowed between two frames. Binance pushes a
	// ticker every second and pings every few minutes.
	readWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than readWait.
	pingPeriod = (readWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// ErrMalformed marks a frame that could not be decoded into a Ticker.
var ErrMalformed = errors.New("binance: malformed ticker")

// Ticker is the subset of the 24hrTicker event the oracle consumes.
type Ticker struct {
	Symbol    string
	Close     decimal.Decimal
	ChangePct decimal.Decimal
	EventTime time.Time
}

// tickerMessage mirrors the wire shape of a 24hrTicker frame.
type tickerMessage struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	ChangePct string `json:"P"`
}

// ParseTicker decodes one stream frame.
func ParseTicker(raw []byte) (Ticker, error) {
	var m tickerMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Ticker{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Symbol == "" || m.Close == "" {
		return Ticker{}, fmt.Errorf("%w: missing symbol or close", ErrMalformed)
	}
	closePx, err := decimal.NewFromString(m.Close)
	if err != nil {
		return Ticker{}, fmt.Errorf("%w: close %q", ErrMalformed, m.Close)
	}
	if !closePx.IsPositive() {
		return Ticker{}, fmt.Errorf("%w: non-positive close %s", ErrMalformed, m.Close)
	}
	change := decimal.Zero
	if m.ChangePct != "" {
		if change, err = decimal.NewFromString(m.ChangePct); err != nil {
			return Ticker{}, fmt.Errorf("%w: change %q", ErrMalformed, m.ChangePct)
		}
	}
	t := Ticker{
		Symbol:    strings.ToUpper(m.Symbol),
		Close:     closePx,
		ChangePct: change,
	}
	if m.EventTime > 0 {
		t.EventTime = time.UnixMilli(m.EventTime)
	}
	return t, nil
}

// StreamURL builds the combined raw-stream URL for symbols, e.g.
// wss://stream.binance.com:443/ws/btcusdt@ticker/ethusdt@ticker.
func StreamURL(host string, symbols []string) string {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@ticker")
	}
	return strings.TrimRight(host, "/") + "/ws/" + strings.Join(streams, "/")
}

// WSClient holds one ticker stream connection at a time.
type WSClient struct {
	host    string
	symbols []string
	dialer  websocket.Dialer
}

// NewWSClient creates a client for the given host and symbols.
func NewWSClient(host string, symbols []string) *WSClient {
	return &WSClient{
		host:    host,
		symbols: symbols,
		dialer:  websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// Stream dials, then calls onTicker for each decodable frame and onBad for
// each malformed one until the connection drops or ctx ends. onConnected, if
// non-nil, runs once the handshake succeeds. Stream always returns a non-nil
// error; ctx.Err() after cancellation.
func (c *WSClient) Stream(ctx context.Context, onConnected func(), onTicker func(Ticker), onBad func(error)) error {
	if len(c.symbols) == 0 {
		return fmt.Errorf("binance/ws: no symbols")
	}
	conn, _, err := c.dialer.DialContext(ctx, StreamURL(c.host, c.symbols), nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { _ = conn.Close() }) }
	defer closeConn()

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	if onConnected != nil {
		onConnected()
	}

	done := make(chan struct{})
	defer close(done)
	var writeMu sync.Mutex
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				writeMu.Unlock()
				closeConn()
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				writeMu.Unlock()
				if err != nil {
					closeConn()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("binance/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		t, err := ParseTicker(msg)
		if err != nil {
			if onBad != nil {
				onBad(err)
			}
			continue
		}
		onTicker(t)
	}
}
