package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Reconnect backoff bounds for the live stream supervisor.
const (
	reconnectMin = 2 * time.Second
	reconnectMax = 60 * time.Second
)

// LiveSource streams L1 quotes from the broker WebSocket feed into the cache.
// The connection is supervised: on any failure it reconnects with capped
// exponential backoff, re-fetching the access token when the broker rejects
// the session as unauthorized.
type LiveSource struct {
	cache     *Cache
	tokens    *TokenManager
	streamURL string
	apiKey    string

	tokenToSymbol map[string]string
	connected     atomic.Bool
}

// NewLiveSource creates a live feed client for the given stream endpoint.
func NewLiveSource(cache *Cache, tokens *TokenManager, streamURL, apiKey string) *LiveSource {
	return &LiveSource{
		cache:         cache,
		tokens:        tokens,
		streamURL:     streamURL,
		apiKey:        apiKey,
		tokenToSymbol: symbolsByToken(),
	}
}

// subscribeRequest is the wire format for L1 subscription commands.
type subscribeRequest struct {
	Action string   `json:"action"` // "subscribeL1SnapShot" or "subscribeL1"
	Tokens []string `json:"tokens"`
}

// l1Tick is one incoming price update. Symbol carries the broker instrument
// token, not the display symbol.
type l1Tick struct {
	MsgType string  `json:"msgType"`
	Symbol  string  `json:"symbol"`
	LTP     float64 `json:"ltp"`
}

// Run keeps a streaming session alive until the context is cancelled.
func (s *LiveSource) Run(ctx context.Context) error {
	backoff := reconnectMin
	for {
		err := s.stream(ctx)
		s.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("live feed disconnected", "err", err, "retry_in", backoff.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// stream runs one WebSocket session: authenticate, subscribe, pump ticks.
func (s *LiveSource) stream(ctx context.Context) error {
	accessToken, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.apiKey+":"+accessToken)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, s.streamURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			s.tokens.Invalidate()
		}
		return err
	}
	defer conn.Close()

	// Snapshot first, then live updates; order matters to the broker.
	allTokens := make([]string, 0, len(s.tokenToSymbol))
	for token := range s.tokenToSymbol {
		allTokens = append(allTokens, token)
	}
	for _, action := range []string{"subscribeL1SnapShot", "subscribeL1"} {
		if err := conn.WriteJSON(subscribeRequest{Action: action, Tokens: allTokens}); err != nil {
			return err
		}
	}

	s.connected.Store(true)
	slog.Info("live feed connected", "symbols", len(allTokens))

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
				s.tokens.Invalidate()
			}
			return err
		}
		s.handleMessage(data)
	}
}

func (s *LiveSource) handleMessage(data []byte) {
	var tick l1Tick
	if err := json.Unmarshal(data, &tick); err != nil {
		return
	}
	if tick.MsgType != "L1" || tick.LTP <= 0 {
		return
	}
	symbol, ok := s.tokenToSymbol[tick.Symbol]
	if !ok {
		return
	}
	s.cache.Set(symbol, decimal.NewFromFloat(tick.LTP).Round(2))
}

// Status reports the stream connection state.
func (s *LiveSource) Status() Status {
	return Status{
		Connected:         s.connected.Load(),
		SymbolsWithPrices: s.cache.Len(),
		TotalSymbols:      len(stockTokens),
	}
}
