package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftgate/solverbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Upsert inserts the order or refreshes its mutable columns. The immutable
// auction parameters are written once; a conflicting insert from a rescanned
// backlog leaves them untouched.
func (s *OrderStore) Upsert(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, depositor, recipient, input_amount, start_price, floor_price,
			start_time, duration, state, created_block, fail_reason, retry_count,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			fail_reason = EXCLUDED.fail_reason,
			retry_count = EXCLUDED.retry_count,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		o.ID.Hex(), o.Depositor, o.Recipient,
		o.InputAmount.String(), o.StartPrice.String(), o.FloorPrice.String(),
		int64(o.StartTime), int64(o.Duration),
		string(o.State), int64(o.CreatedBlock), o.FailReason, o.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateState transitions an order and stamps the matching lifecycle column.
func (s *OrderStore) UpdateState(ctx context.Context, id domain.OrderID, state domain.LifecycleState, failReason string) error {
	var query string
	switch state {
	case domain.StateFulfilling:
		query = `UPDATE orders SET state = $1, fail_reason = $2, accepted_at = NOW(), updated_at = NOW() WHERE id = $3`
	case domain.StateAwaitingAttestation:
		query = `UPDATE orders SET state = $1, fail_reason = $2, fulfilled_at = NOW(), updated_at = NOW() WHERE id = $3`
	case domain.StateSettled:
		query = `UPDATE orders SET state = $1, fail_reason = $2, settled_at = NOW(), updated_at = NOW() WHERE id = $3`
	case domain.StateFailed, domain.StateExpired:
		query = `UPDATE orders SET state = $1, fail_reason = $2, failed_at = NOW(), updated_at = NOW() WHERE id = $3`
	default:
		query = `UPDATE orders SET state = $1, fail_reason = $2, updated_at = NOW() WHERE id = $3`
	}

	tag, err := s.pool.Exec(ctx, query, string(state), failReason, id.Hex())
	if err != nil {
		return fmt.Errorf("postgres: update order state %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// IncrementRetry bumps the order's retry counter.
func (s *OrderStore) IncrementRetry(ctx context.Context, id domain.OrderID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET retry_count = retry_count + 1, updated_at = NOW() WHERE id = $1`,
		id.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: increment retry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `id, depositor, recipient, input_amount, start_price, floor_price,
	start_time, duration, state, created_block, fail_reason, retry_count,
	accepted_at, fulfilled_at, attested_at, settled_at, failed_at, created_at, updated_at`

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var idHex, state string
	var inputAmount, startPrice, floorPrice string
	var startTime, duration, createdBlock int64

	err := scanner.Scan(
		&idHex, &o.Depositor, &o.Recipient,
		&inputAmount, &startPrice, &floorPrice,
		&startTime, &duration, &state, &createdBlock,
		&o.FailReason, &o.RetryCount,
		&o.AcceptedAt, &o.FulfilledAt, &o.AttestedAt, &o.SettledAt, &o.FailedAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	id, err := domain.ParseOrderID(idHex)
	if err != nil {
		return domain.Order{}, err
	}
	o.ID = id
	o.State = domain.LifecycleState(state)
	o.StartTime = uint64(startTime)
	o.Duration = uint64(duration)
	o.CreatedBlock = uint64(createdBlock)

	var ok bool
	if o.InputAmount, ok = new(big.Int).SetString(inputAmount, 10); !ok {
		return domain.Order{}, fmt.Errorf("postgres: bad input_amount %q", inputAmount)
	}
	if o.StartPrice, ok = new(big.Int).SetString(startPrice, 10); !ok {
		return domain.Order{}, fmt.Errorf("postgres: bad start_price %q", startPrice)
	}
	if o.FloorPrice, ok = new(big.Int).SetString(floorPrice, 10); !ok {
		return domain.Order{}, fmt.Errorf("postgres: bad floor_price %q", floorPrice)
	}
	return o, nil
}

// GetByID fetches a single order.
func (s *OrderStore) GetByID(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`,
		id.Hex(),
	)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListByState returns orders in the given state, oldest first.
func (s *OrderStore) ListByState(ctx context.Context, state domain.LifecycleState, opts domain.ListOpts) ([]domain.Order, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE state = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		string(state), limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by state %s: %w", state, err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListFinishedBefore returns settled, failed, and expired orders last touched
// before the cutoff. Used by the archiver.
func (s *OrderStore) ListFinishedBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.Order, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE state IN ($1, $2, $3) AND updated_at < $4
		 ORDER BY updated_at ASC LIMIT $5 OFFSET $6`,
		string(domain.StateSettled), string(domain.StateFailed), string(domain.StateExpired),
		before, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list finished orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// Delete removes an order; the fulfillment row cascades.
func (s *OrderStore) Delete(ctx context.Context, id domain.OrderID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id.Hex())
	if err != nil {
		return fmt.Errorf("postgres: delete order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate orders: %w", err)
	}
	return out, nil
}
