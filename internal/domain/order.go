// Package domain defines the core types of the solver engine: orders, their
// lifecycle, fulfillment records, attestation handles, and the store and
// executor interfaces the rest of the codebase is wired through.
package domain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// OrderID is the opaque 32-byte identifier assigned by the source ledger's
// order contract.
type OrderID [32]byte

// ParseOrderID decodes a hex order id (with or without 0x prefix).
func ParseOrderID(s string) (OrderID, error) {
	var id OrderID
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return id, fmt.Errorf("domain: parse order id %q: %w", s, err)
	}
	if len(raw) != 32 {
		return id, fmt.Errorf("domain: order id must be 32 bytes, got %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// Hex returns the 0x-prefixed hex encoding of the order id.
func (id OrderID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id OrderID) String() string { return id.Hex() }

// LifecycleState tracks where an order sits in the solver pipeline. The
// on-chain contracts hold the authoritative status; this state is the engine's
// local cache of it.
type LifecycleState string

const (
	StateOpen                LifecycleState = "open"
	StateFulfilling          LifecycleState = "fulfilling"
	StateAwaitingAttestation LifecycleState = "awaiting_attestation"
	StateSettled             LifecycleState = "settled"
	StateFailed              LifecycleState = "failed"
	StateExpired             LifecycleState = "expired"
)

// Order is one user intent: collateral locked on the source ledger with an
// attached Dutch auction paid out on the destination ledger. All fields except
// State and the stage timestamps are immutable once created.
type Order struct {
	ID          OrderID
	Depositor   string // source-ledger address
	Recipient   string // destination-ledger address
	InputAmount *big.Int
	StartPrice  *big.Int // destination-ledger denomination
	FloorPrice  *big.Int
	StartTime   uint64 // auction window, in the deployment's canonical time unit
	Duration    uint64

	State        LifecycleState
	CreatedBlock uint64
	FailReason   string
	RetryCount   int

	AcceptedAt  *time.Time
	FulfilledAt *time.Time
	AttestedAt  *time.Time
	SettledAt   *time.Time
	FailedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks the auction invariants: floorPrice <= startPrice and a
// positive duration.
func (o Order) Validate() error {
	if o.InputAmount == nil || o.StartPrice == nil || o.FloorPrice == nil {
		return fmt.Errorf("domain: order %s: missing amounts", o.ID)
	}
	if o.FloorPrice.Cmp(o.StartPrice) > 0 {
		return fmt.Errorf("domain: order %s: floor price exceeds start price", o.ID)
	}
	if o.Duration == 0 {
		return fmt.Errorf("domain: order %s: duration must be positive", o.ID)
	}
	return nil
}

// OrderEvent is one OrderCreated event as delivered by an OrderSource.
type OrderEvent struct {
	Order       Order
	BlockNumber uint64
	TxHash      string
}

// FulfillmentRecord is the engine's durable record of one destination-ledger
// payment transaction. Immutable after confirmation.
type FulfillmentRecord struct {
	OrderID     OrderID
	TxHash      string
	AmountPaid  *big.Int
	SubmittedAt time.Time
	Confirmed   bool
}

// AttestationHandle identifies one cross-chain message emitted by a
// fulfillment transaction. It is the lookup key for the guardian network.
type AttestationHandle struct {
	EmitterChain   uint16
	EmitterAddress [32]byte
	Sequence       uint64
}

// EmitterHex returns the hex encoding of the emitter address without prefix,
// as expected by the guardian REST API.
func (h AttestationHandle) EmitterHex() string {
	return hex.EncodeToString(h.EmitterAddress[:])
}

// Attestation is the opaque signed proof returned by the guardian network.
// Fetched once, submitted once, then discarded; the source contract's replay
// table is the durable record.
type Attestation []byte
