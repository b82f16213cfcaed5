package pricing

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftgate/solverbot/internal/domain"
)

const (
	wsReadTimeout      = 60 * time.Second
	wsReconnectMin     = time.Second
	wsReconnectMax     = 30 * time.Second
	wsHandshakeTimeout = 10 * time.Second
)

// WSFeed streams spot price ticks over a websocket into the shared price
// cache. It is purely an accelerator for the HTTP reference: losing the
// stream degrades price freshness, never correctness, so the feed just keeps
// reconnecting with backoff until its context is cancelled.
type WSFeed struct {
	url     string
	symbols []string
	cache   domain.PriceCache
	clock   domain.Clock
	logger  *slog.Logger
}

// NewWSFeed wires a feed that subscribes to the given symbols.
func NewWSFeed(url string, symbols []string, cache domain.PriceCache, clock domain.Clock, logger *slog.Logger) *WSFeed {
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
	}
	return &WSFeed{
		url:     url,
		symbols: upper,
		cache:   cache,
		clock:   clock,
		logger:  logger.With(slog.String("component", "price_ws_feed")),
	}
}

// tick is one inbound price update.
type tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// subscribeMsg is the outbound subscription request sent after connecting.
type subscribeMsg struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Run blocks until ctx is cancelled, reconnecting whenever the stream drops.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := wsReconnectMin
	for {
		if err := f.runConn(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("price stream dropped, reconnecting",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > wsReconnectMax {
			backoff = wsReconnectMax
		}
	}
}

func (f *WSFeed) runConn(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Close the socket when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(subscribeMsg{Op: "subscribe", Symbols: f.symbols}); err != nil {
		return err
	}
	f.logger.Info("price stream connected", slog.Int("symbols", len(f.symbols)))

	for {
		if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
			return err
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var t tick
		if err := json.Unmarshal(msg, &t); err != nil {
			f.logger.Warn("discarding malformed tick", slog.String("error", err.Error()))
			continue
		}
		if t.Symbol == "" || t.Price <= 0 {
			continue
		}
		if err := f.cache.SetPrice(ctx, strings.ToUpper(t.Symbol), t.Price, f.clock.Now()); err != nil {
			f.logger.Warn("caching tick failed",
				slog.String("symbol", t.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}
