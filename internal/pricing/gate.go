package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/driftgate/solverbot/internal/domain"
)

// GateConfig carries the economic parameters of the profitability check.
type GateConfig struct {
	// InputAsset / CounterAsset are the reference symbols for what the order
	// pays the solver (source ledger) and what the solver pays out
	// (destination ledger).
	InputAsset   string
	CounterAsset string
	// InputDecimals / CounterDecimals scale the raw on-chain integers.
	InputDecimals   int
	CounterDecimals int
	// MinProfitUSD is the floor below which orders are skipped.
	MinProfitUSD float64
	// SourceFeeUSD / DestFeeUSD are flat gas cost estimates for the
	// settlement and fulfillment transactions.
	SourceFeeUSD float64
	DestFeeUSD   float64
}

// Gate decides whether an order is worth fulfilling at a given auction price.
// Skips are economic judgments, not failures: an unprofitable order stays
// open and is re-evaluated as the auction decays in the solver's favor.
type Gate struct {
	cfg    GateConfig
	ref    domain.PriceReference
	logger *slog.Logger
}

// NewGate wires a profitability gate over the given price reference.
func NewGate(cfg GateConfig, ref domain.PriceReference, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:    cfg,
		ref:    ref,
		logger: logger.With(slog.String("component", "profit_gate")),
	}
}

// Evaluate estimates the USD profit of fulfilling o at requiredAmount. It
// returns the estimate and ErrUnprofitable when it falls below the configured
// minimum. Price reference failures are returned as-is so callers retry
// rather than skip.
func (g *Gate) Evaluate(ctx context.Context, o domain.Order, requiredAmount *big.Int) (float64, error) {
	inputPrice, err := g.ref.Price(ctx, g.cfg.InputAsset)
	if err != nil {
		return 0, fmt.Errorf("pricing: input asset price: %w", err)
	}
	counterPrice, err := g.ref.Price(ctx, g.cfg.CounterAsset)
	if err != nil {
		return 0, fmt.Errorf("pricing: counter asset price: %w", err)
	}

	revenueUSD := amountToUSD(o.InputAmount, g.cfg.InputDecimals, inputPrice)
	payoutUSD := amountToUSD(requiredAmount, g.cfg.CounterDecimals, counterPrice)
	profitUSD := revenueUSD - payoutUSD - g.cfg.SourceFeeUSD - g.cfg.DestFeeUSD

	if profitUSD < g.cfg.MinProfitUSD {
		g.logger.Debug("order below profit floor",
			slog.String("order_id", o.ID.Hex()),
			slog.Float64("profit_usd", profitUSD),
			slog.Float64("min_profit_usd", g.cfg.MinProfitUSD),
		)
		return profitUSD, fmt.Errorf("pricing: estimated profit $%.4f below floor $%.4f: %w",
			profitUSD, g.cfg.MinProfitUSD, domain.ErrUnprofitable)
	}
	return profitUSD, nil
}
