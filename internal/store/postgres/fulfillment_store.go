package postgres

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftgate/solverbot/internal/domain"
)

// FulfillmentStore implements domain.FulfillmentStore using PostgreSQL.
type FulfillmentStore struct {
	pool *pgxpool.Pool
}

var _ domain.FulfillmentStore = (*FulfillmentStore)(nil)

// NewFulfillmentStore creates a FulfillmentStore backed by the given pool.
func NewFulfillmentStore(pool *pgxpool.Pool) *FulfillmentStore {
	return &FulfillmentStore{pool: pool}
}

// Create records a submitted fulfillment. One row per order; a second submit
// for the same order is a bug upstream, so the conflict surfaces as an error.
func (s *FulfillmentStore) Create(ctx context.Context, rec domain.FulfillmentRecord) error {
	const query = `
		INSERT INTO fulfillments (order_id, tx_hash, amount_paid, submitted_at, confirmed)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, query,
		rec.OrderID.Hex(), rec.TxHash, rec.AmountPaid.String(), rec.SubmittedAt, rec.Confirmed,
	)
	if err != nil {
		return fmt.Errorf("postgres: create fulfillment %s: %w", rec.OrderID, err)
	}
	return nil
}

// MarkConfirmed flags the fulfillment transaction as mined.
func (s *FulfillmentStore) MarkConfirmed(ctx context.Context, id domain.OrderID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fulfillments SET confirmed = TRUE, updated_at = NOW() WHERE order_id = $1`,
		id.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: confirm fulfillment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetHandle stores the parsed attestation handle alongside the fulfillment.
func (s *FulfillmentStore) SetHandle(ctx context.Context, id domain.OrderID, h domain.AttestationHandle) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fulfillments SET emitter_chain = $1, emitter_address = $2, sequence = $3, updated_at = NOW()
		 WHERE order_id = $4`,
		int(h.EmitterChain), h.EmitterHex(), h.Sequence, id.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: set attestation handle %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByOrder fetches the fulfillment record for an order; the handle is nil
// until SetHandle has run.
func (s *FulfillmentStore) GetByOrder(ctx context.Context, id domain.OrderID) (domain.FulfillmentRecord, *domain.AttestationHandle, error) {
	const query = `
		SELECT order_id, tx_hash, amount_paid, submitted_at, confirmed,
		       emitter_chain, emitter_address, sequence
		FROM fulfillments WHERE order_id = $1`

	var rec domain.FulfillmentRecord
	var idHex, amountPaid string
	var emitterChain *int
	var emitterAddr *string
	var sequence *uint64

	err := s.pool.QueryRow(ctx, query, id.Hex()).Scan(
		&idHex, &rec.TxHash, &amountPaid, &rec.SubmittedAt, &rec.Confirmed,
		&emitterChain, &emitterAddr, &sequence,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, nil, domain.ErrNotFound
	}
	if err != nil {
		return rec, nil, fmt.Errorf("postgres: get fulfillment %s: %w", id, err)
	}

	oid, err := domain.ParseOrderID(idHex)
	if err != nil {
		return rec, nil, err
	}
	rec.OrderID = oid

	var ok bool
	if rec.AmountPaid, ok = new(big.Int).SetString(amountPaid, 10); !ok {
		return rec, nil, fmt.Errorf("postgres: bad amount_paid %q", amountPaid)
	}

	if emitterChain == nil || emitterAddr == nil || sequence == nil {
		return rec, nil, nil
	}

	raw, err := hex.DecodeString(*emitterAddr)
	if err != nil || len(raw) != 32 {
		return rec, nil, fmt.Errorf("postgres: bad emitter_address %q", *emitterAddr)
	}
	h := &domain.AttestationHandle{
		EmitterChain: uint16(*emitterChain),
		Sequence:     *sequence,
	}
	copy(h.EmitterAddress[:], raw)
	return rec, h, nil
}
