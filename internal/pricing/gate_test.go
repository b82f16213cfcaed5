package pricing

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/big"
	"testing"

	"github.com/driftgate/solverbot/internal/domain"
)

func testGateConfig() GateConfig {
	return GateConfig{
		InputAsset:      "USDC",
		CounterAsset:    "ETH",
		InputDecimals:   6,
		CounterDecimals: 18,
		MinProfitUSD:    1.0,
		SourceFeeUSD:    0.5,
		DestFeeUSD:      0.5,
	}
}

func testOrder(inputAmount *big.Int) domain.Order {
	return domain.Order{
		ID:          domain.OrderID{0x01},
		InputAmount: inputAmount,
		StartPrice:  big.NewInt(1),
		FloorPrice:  big.NewInt(1),
		Duration:    600,
	}
}

func eth(whole float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(whole), big.NewFloat(1e18))
	out, _ := f.Int(nil)
	return out
}

func TestGateAcceptsProfitableOrder(t *testing.T) {
	ref := NewStaticReference(map[string]float64{"USDC": 1.0, "ETH": 2000.0})
	g := NewGate(testGateConfig(), ref, slog.New(slog.DiscardHandler))

	// 2100 USDC in, 1 ETH ($2000) out, $1 fees: profit $99.
	order := testOrder(big.NewInt(2_100_000_000))
	profit, err := g.Evaluate(context.Background(), order, eth(1))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if math.Abs(profit-99.0) > 0.01 {
		t.Fatalf("profit = %f, want ~99", profit)
	}
}

func TestGateSkipsUnprofitableOrder(t *testing.T) {
	ref := NewStaticReference(map[string]float64{"USDC": 1.0, "ETH": 2000.0})
	g := NewGate(testGateConfig(), ref, slog.New(slog.DiscardHandler))

	// 2000 USDC in, 1 ETH ($2000) out: fees push it negative.
	order := testOrder(big.NewInt(2_000_000_000))
	_, err := g.Evaluate(context.Background(), order, eth(1))
	if !errors.Is(err, domain.ErrUnprofitable) {
		t.Fatalf("expected ErrUnprofitable, got %v", err)
	}
}

func TestGateEnforcesMinimumProfit(t *testing.T) {
	ref := NewStaticReference(map[string]float64{"USDC": 1.0, "ETH": 2000.0})
	cfg := testGateConfig()
	cfg.MinProfitUSD = 100.0
	g := NewGate(cfg, ref, slog.New(slog.DiscardHandler))

	// Profit ~$99 is positive but under the $100 floor.
	order := testOrder(big.NewInt(2_100_000_000))
	profit, err := g.Evaluate(context.Background(), order, eth(1))
	if !errors.Is(err, domain.ErrUnprofitable) {
		t.Fatalf("expected ErrUnprofitable, got %v", err)
	}
	if math.Abs(profit-99.0) > 0.01 {
		t.Fatalf("profit estimate = %f, want ~99", profit)
	}
}

func TestGatePropagatesPriceErrors(t *testing.T) {
	ref := NewStaticReference(map[string]float64{"USDC": 1.0}) // ETH missing
	g := NewGate(testGateConfig(), ref, slog.New(slog.DiscardHandler))

	_, err := g.Evaluate(context.Background(), testOrder(big.NewInt(1)), eth(1))
	if err == nil {
		t.Fatal("expected error for missing price")
	}
	if errors.Is(err, domain.ErrUnprofitable) {
		t.Fatalf("price failure mapped to unprofitable: %v", err)
	}
}

func TestStaticReferenceIsCaseInsensitive(t *testing.T) {
	ref := NewStaticReference(map[string]float64{"eth": 1234.5})
	p, err := ref.Price(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("Price failed: %v", err)
	}
	if p != 1234.5 {
		t.Fatalf("price = %f", p)
	}
}

func TestAmountToUSD(t *testing.T) {
	// 1.5 tokens at 6 decimals, $2 each.
	got := amountToUSD(big.NewInt(1_500_000), 6, 2.0)
	if math.Abs(got-3.0) > 1e-9 {
		t.Fatalf("amountToUSD = %f, want 3", got)
	}
}
