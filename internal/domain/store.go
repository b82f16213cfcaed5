package domain

import (
	"context"
	"math/big"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// OrderStore persists the engine's local order cache. The cache is rebuilt
// from a backlog scan at startup and is never the source of truth; the
// on-chain contract status is.
type OrderStore interface {
	Upsert(ctx context.Context, o Order) error
	UpdateState(ctx context.Context, id OrderID, state LifecycleState, failReason string) error
	IncrementRetry(ctx context.Context, id OrderID) error
	GetByID(ctx context.Context, id OrderID) (Order, error)
	ListByState(ctx context.Context, state LifecycleState, opts ListOpts) ([]Order, error)
	ListFinishedBefore(ctx context.Context, before time.Time, opts ListOpts) ([]Order, error)
	Delete(ctx context.Context, id OrderID) error
}

// FulfillmentStore persists fulfillment records and, once parsed, the
// attestation handle belonging to each.
type FulfillmentStore interface {
	Create(ctx context.Context, rec FulfillmentRecord) error
	MarkConfirmed(ctx context.Context, id OrderID) error
	SetHandle(ctx context.Context, id OrderID, h AttestationHandle) error
	GetByOrder(ctx context.Context, id OrderID) (FulfillmentRecord, *AttestationHandle, error)
}

// CursorStore persists the last block scanned by an OrderSource so recovery
// after a disconnect or restart is a pure function of stored state.
type CursorStore interface {
	Get(ctx context.Context, name string) (uint64, error)
	Set(ctx context.Context, name string, block uint64) error
}

// PriceCache caches asset prices by symbol.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// LockManager provides distributed locks; the engine takes one per order
// before fulfilling so a restarted or duplicate instance cannot pay twice.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// OrderSource produces order creation events from the source ledger.
type OrderSource interface {
	// ScanBacklog queries all creation events from fromBlock to the current
	// head and returns them with the head block number.
	ScanBacklog(ctx context.Context, fromBlock uint64) ([]OrderEvent, uint64, error)
	// Watch delivers live creation events on out until ctx is cancelled.
	// Subscription failures fall back to polling internally.
	Watch(ctx context.Context, out chan<- OrderEvent) error
}

// FulfillmentExecutor submits the payment transaction on the destination
// ledger and blocks until it is confirmed.
type FulfillmentExecutor interface {
	Fulfill(ctx context.Context, o Order, amount *big.Int) (FulfillmentRecord, error)
}

// AttestationFetcher resolves a confirmed fulfillment transaction into a
// signed attestation.
type AttestationFetcher interface {
	// HandleFor parses the cross-chain message emitted by the order's
	// fulfillment transaction and verifies the message body names this order,
	// its recipient, and the amount actually paid.
	HandleFor(ctx context.Context, o Order, rec FulfillmentRecord) (AttestationHandle, error)
	// Fetch polls the guardian network until the signed proof is available or
	// the configured timeout elapses (ErrAttestationTimeout).
	Fetch(ctx context.Context, h AttestationHandle) (Attestation, error)
}

// SettlementExecutor submits the attestation to the source ledger's settle
// entry point, collecting payment. Terminal rejections are returned as the
// domain sentinel errors.
type SettlementExecutor interface {
	Settle(ctx context.Context, id OrderID, att Attestation) (txHash string, err error)
}

// PriceReference provides a live (or static) USD price per asset symbol for
// profitability estimation.
type PriceReference interface {
	Price(ctx context.Context, symbol string) (float64, error)
}
