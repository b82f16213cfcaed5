// Package solver contains the orchestration engine: order intake, the
// per-order fulfillment pipeline, and startup recovery.
package solver

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftgate/solverbot/internal/domain"
	"github.com/driftgate/solverbot/internal/retry"
)

// CursorName is the cursor under which the source-ledger scan position is
// persisted. The order source and the recovery pass share it.
const CursorName = "source_orders"

// ProfitGate decides whether an order is worth fulfilling at a price.
type ProfitGate interface {
	Evaluate(ctx context.Context, o domain.Order, requiredAmount *big.Int) (float64, error)
}

// ReceiptChecker re-checks a submitted fulfillment transaction during
// recovery, when the engine died between submission and confirmation.
type ReceiptChecker interface {
	ReceiptConfirmed(ctx context.Context, txHash string) (bool, error)
}

// Alerter receives operator-facing lifecycle alerts.
type Alerter interface {
	OrderSettled(ctx context.Context, orderID, settleTx, profit string)
	OrderFailed(ctx context.Context, orderID, reason string)
	AttestationTimeout(ctx context.Context, orderID, fulfillTx string)
}

type noopAlerter struct{}

func (noopAlerter) OrderSettled(context.Context, string, string, string) {}
func (noopAlerter) OrderFailed(context.Context, string, string)          {}
func (noopAlerter) AttestationTimeout(context.Context, string, string)   {}

// Config carries the engine's timing and retry knobs.
type Config struct {
	// TimeUnit is the canonical unit of auction timestamps.
	TimeUnit domain.TimeUnit
	// RecheckInterval is how often open orders are re-evaluated; auctions
	// decay in the solver's favor, so skipped orders come back around.
	RecheckInterval time.Duration
	// ExpiryGrace is how long after an auction fully decays the engine keeps
	// trying before marking the order expired.
	ExpiryGrace time.Duration
	// LockTTL bounds how long a fill lock survives a crashed holder.
	LockTTL time.Duration
	// Transient is the retry schedule for transient pipeline failures.
	Transient retry.Policy
	// StartBlock is where the very first backlog scan begins when no cursor
	// has ever been stored.
	StartBlock uint64
	// Monitor disables fulfillment: orders are detected, priced, and logged,
	// but never paid.
	Monitor bool
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Orders       domain.OrderStore
	Fulfillments domain.FulfillmentStore
	Cursors      domain.CursorStore
	Source       domain.OrderSource
	Fulfiller    domain.FulfillmentExecutor
	Receipts     ReceiptChecker
	Attestor     domain.AttestationFetcher
	Settler      domain.SettlementExecutor
	Gate         ProfitGate
	Locks        domain.LockManager
	Clock        domain.Clock
	Alerts       Alerter
}

// Engine drives orders through the full lifecycle: detect, price, gate,
// fulfill, attest, settle. One pipeline goroutine per order; the stages
// within a pipeline are strictly sequential.
type Engine struct {
	cfg  Config
	deps Deps

	logger *slog.Logger

	mu       sync.Mutex
	inFlight map[domain.OrderID]struct{}
	wg       sync.WaitGroup
}

// New builds an engine. A nil Alerts falls back to a no-op.
func New(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	if deps.Alerts == nil {
		deps.Alerts = noopAlerter{}
	}
	return &Engine{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With(slog.String("component", "engine")),
		inFlight: make(map[domain.OrderID]struct{}),
	}
}

// Run recovers persisted state, then watches for new orders and re-evaluates
// open ones until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Recover(ctx); err != nil {
		return err
	}

	events := make(chan domain.OrderEvent, 64)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := e.deps.Source.Watch(ctx, events)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		e.intakeLoop(ctx, events)
		return nil
	})
	g.Go(func() error {
		e.recheckLoop(ctx)
		return nil
	})

	err := g.Wait()
	e.wg.Wait()
	return err
}

func (e *Engine) intakeLoop(ctx context.Context, events <-chan domain.OrderEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			e.accept(ctx, ev)
		}
	}
}

// accept persists a detected order and starts its pipeline. Re-delivered
// events (poll/subscribe overlap, reorg replays) are deduplicated against the
// store: anything past Open is already being handled.
func (e *Engine) accept(ctx context.Context, ev domain.OrderEvent) {
	o := ev.Order
	if err := o.Validate(); err != nil {
		e.logger.Warn("rejecting invalid order", slog.String("error", err.Error()))
		return
	}

	existing, err := e.deps.Orders.GetByID(ctx, o.ID)
	switch {
	case err == nil:
		if existing.State != domain.StateOpen {
			return
		}
	case errors.Is(err, domain.ErrNotFound):
		if err := e.deps.Orders.Upsert(ctx, o); err != nil {
			e.logger.Error("persisting new order failed",
				slog.String("order_id", o.ID.Hex()),
				slog.String("error", err.Error()),
			)
			return
		}
		e.logger.Info("order detected",
			slog.String("order_id", o.ID.Hex()),
			slog.String("input_amount", o.InputAmount.String()),
			slog.Uint64("block", ev.BlockNumber),
		)
	default:
		e.logger.Error("order lookup failed",
			slog.String("order_id", o.ID.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}

	e.spawn(ctx, o.ID, func(ctx context.Context) { e.processOpen(ctx, o.ID) })
}

// recheckLoop re-evaluates open orders on a fixed cadence.
func (e *Engine) recheckLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RecheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			open, err := e.deps.Orders.ListByState(ctx, domain.StateOpen, domain.ListOpts{Limit: 200})
			if err != nil {
				e.logger.Error("listing open orders failed", slog.String("error", err.Error()))
				continue
			}
			for _, o := range open {
				id := o.ID
				e.spawn(ctx, id, func(ctx context.Context) { e.processOpen(ctx, id) })
			}
		}
	}
}

// spawn runs fn in a pipeline goroutine unless the order already has one.
func (e *Engine) spawn(ctx context.Context, id domain.OrderID, fn func(ctx context.Context)) {
	e.mu.Lock()
	if _, busy := e.inFlight[id]; busy {
		e.mu.Unlock()
		return
	}
	e.inFlight[id] = struct{}{}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.inFlight, id)
			e.mu.Unlock()
		}()
		fn(ctx)
	}()
}

func (e *Engine) markFailed(ctx context.Context, id domain.OrderID, reason string) {
	if err := e.deps.Orders.UpdateState(ctx, id, domain.StateFailed, reason); err != nil {
		e.logger.Error("marking order failed failed",
			slog.String("order_id", id.Hex()),
			slog.String("error", err.Error()),
		)
	}
	e.deps.Alerts.OrderFailed(ctx, id.Hex(), reason)
}
