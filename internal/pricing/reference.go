// Package pricing estimates order profitability: USD price references for the
// input and payout assets, and the gate that decides whether an order is
// worth fulfilling at the current auction price.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/driftgate/solverbot/internal/domain"
)

// StaticReference serves fixed prices from configuration. Intended for tests
// and for deployments where both assets are stablecoins.
type StaticReference struct {
	prices map[string]float64
}

var _ domain.PriceReference = (*StaticReference)(nil)

// NewStaticReference builds a reference over a symbol -> USD price table.
func NewStaticReference(prices map[string]float64) *StaticReference {
	normalized := make(map[string]float64, len(prices))
	for sym, p := range prices {
		normalized[strings.ToUpper(sym)] = p
	}
	return &StaticReference{prices: normalized}
}

func (r *StaticReference) Price(_ context.Context, symbol string) (float64, error) {
	p, ok := r.prices[strings.ToUpper(symbol)]
	if !ok {
		return 0, fmt.Errorf("pricing: no static price for %q: %w", symbol, domain.ErrNotFound)
	}
	return p, nil
}

// HTTPReference fetches spot prices over REST and keeps them warm in the
// shared price cache. A cached price younger than maxAge short-circuits the
// HTTP round trip; the WS feed writes into the same cache, so under a healthy
// stream this reference rarely hits the network.
type HTTPReference struct {
	baseURL    string
	cache      domain.PriceCache
	maxAge     time.Duration
	clock      domain.Clock
	httpClient *http.Client
	logger     *slog.Logger
}

var _ domain.PriceReference = (*HTTPReference)(nil)

// NewHTTPReference wires a REST-backed price reference. cache may be nil, in
// which case every call goes to the network.
func NewHTTPReference(baseURL string, cache domain.PriceCache, maxAge time.Duration, clock domain.Clock, logger *slog.Logger) *HTTPReference {
	return &HTTPReference{
		baseURL:    strings.TrimRight(baseURL, "/"),
		cache:      cache,
		maxAge:     maxAge,
		clock:      clock,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With(slog.String("component", "price_reference")),
	}
}

// priceResponse is the spot price API response body.
type priceResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func (r *HTTPReference) Price(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(symbol)

	if r.cache != nil {
		if p, ts, err := r.cache.GetPrice(ctx, symbol); err == nil {
			if r.clock.Now().Sub(ts) <= r.maxAge {
				return p, nil
			}
		}
	}

	u := fmt.Sprintf("%s/price?symbol=%s", r.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("pricing: building request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("pricing: fetching %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("pricing: price API returned %d for %s: %s", resp.StatusCode, symbol, body)
	}

	var parsed priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("pricing: decoding price response: %w", err)
	}
	if parsed.Price <= 0 {
		return 0, fmt.Errorf("pricing: non-positive price %f for %s", parsed.Price, symbol)
	}

	if r.cache != nil {
		if err := r.cache.SetPrice(ctx, symbol, parsed.Price, r.clock.Now()); err != nil {
			r.logger.Warn("caching price failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return parsed.Price, nil
}

// amountToUSD converts a raw on-chain integer amount into USD given the
// asset's decimals and USD price. Precision loss here is acceptable: the
// result only feeds the profitability estimate, never a transaction.
func amountToUSD(amount *big.Int, decimals int, priceUSD float64) float64 {
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f.Quo(f, scale)
	v, _ := f.Float64()
	return v * priceUSD
}
