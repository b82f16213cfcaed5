package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/driftgate/solverbot/internal/domain"
)

// maxScanRange bounds a single eth_getLogs query; most providers reject
// wider ranges.
const maxScanRange = 10_000

// OrderSource watches the source-ledger order contract for OrderCreated
// events. It prefers a WS log subscription and falls back to HTTP polling
// when no subscription can be held. The last processed block is persisted
// through the cursor store so a restart resumes exactly where it left off.
type OrderSource struct {
	client       *Client
	contract     common.Address
	cursors      domain.CursorStore
	cursorName   string
	startBlock   uint64
	pollInterval time.Duration
	logger       *slog.Logger
}

var _ domain.OrderSource = (*OrderSource)(nil)

// NewOrderSource wires an order source for the given contract. Until a cursor
// is persisted, scans start from startBlock (the contract's deployment block).
func NewOrderSource(client *Client, contract string, cursors domain.CursorStore, cursorName string, startBlock uint64, pollInterval time.Duration, logger *slog.Logger) *OrderSource {
	return &OrderSource{
		client:       client,
		contract:     common.HexToAddress(contract),
		cursors:      cursors,
		cursorName:   cursorName,
		startBlock:   startBlock,
		pollInterval: pollInterval,
		logger:       logger.With(slog.String("component", "order_source")),
	}
}

func (s *OrderSource) filterQuery(from, to uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{{orderCreatedTopic}},
	}
}

// ScanBacklog queries every OrderCreated event from fromBlock to the current
// head, in bounded chunks, and advances the persisted cursor as it goes.
func (s *OrderSource) ScanBacklog(ctx context.Context, fromBlock uint64) ([]domain.OrderEvent, uint64, error) {
	head, err := s.client.HTTP().BlockNumber(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("evm: fetch head block: %w", err)
	}
	if fromBlock > head {
		return nil, head, nil
	}

	var events []domain.OrderEvent
	for from := fromBlock; from <= head; from += maxScanRange {
		to := from + maxScanRange - 1
		if to > head {
			to = head
		}

		logs, err := s.client.HTTP().FilterLogs(ctx, s.filterQuery(from, to))
		if err != nil {
			return nil, 0, fmt.Errorf("evm: filter logs [%d,%d]: %w", from, to, err)
		}
		for _, lg := range logs {
			ev, err := decodeOrderCreated(lg)
			if err != nil {
				// Malformed order params (floor > start etc). Skip, the
				// contract enforces these so this indicates a foreign log.
				s.logger.Warn("skipping undecodable order log",
					slog.String("tx", lg.TxHash.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			events = append(events, ev)
		}

		if err := s.cursors.Set(ctx, s.cursorName, to); err != nil {
			return nil, 0, fmt.Errorf("evm: persist cursor: %w", err)
		}
	}

	s.logger.Info("backlog scan complete",
		slog.Uint64("from_block", fromBlock),
		slog.Uint64("head", head),
		slog.Int("events", len(events)),
	)
	return events, head, nil
}

// Watch delivers live OrderCreated events on out until ctx is cancelled. A
// broken or unavailable subscription degrades to cursor-driven polling and the
// subscription is retried on the next loop iteration.
func (s *OrderSource) Watch(ctx context.Context, out chan<- domain.OrderEvent) error {
	for {
		if ws := s.client.WS(); ws != nil {
			if err := s.runSubscription(ctx, out); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("log subscription lost, polling until reconnect",
					slog.String("error", err.Error()),
				)
			}
		}

		// One polling pass, then retry the subscription.
		if err := s.pollOnce(ctx, out); err != nil {
			s.logger.Warn("poll pass failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

func (s *OrderSource) runSubscription(ctx context.Context, out chan<- domain.OrderEvent) error {
	head, err := s.client.HTTP().BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("evm: fetch head block: %w", err)
	}

	logs := make(chan types.Log, 64)
	q := ethereum.FilterQuery{
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{{orderCreatedTopic}},
	}
	sub, err := s.client.WS().SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return fmt.Errorf("evm: subscribe logs: %w", err)
	}
	defer sub.Unsubscribe()

	s.logger.Info("log subscription established", slog.Uint64("head", head))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("evm: subscription: %w", err)
		case lg := <-logs:
			if lg.Removed {
				continue
			}
			ev, err := decodeOrderCreated(lg)
			if err != nil {
				s.logger.Warn("skipping undecodable order log",
					slog.String("tx", lg.TxHash.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := s.cursors.Set(ctx, s.cursorName, lg.BlockNumber); err != nil {
				s.logger.Error("persisting cursor failed", slog.String("error", err.Error()))
			}
		}
	}
}

// startCursor returns the block scanning resumes after. Before any cursor has
// been persisted it falls back to the configured start block.
func (s *OrderSource) startCursor(ctx context.Context) (uint64, error) {
	cursor, err := s.cursors.Get(ctx, s.cursorName)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		cursor = s.startBlock
		if cursor > 0 {
			cursor--
		}
	case err != nil:
		return 0, fmt.Errorf("evm: read cursor: %w", err)
	}
	return cursor, nil
}

// pollOnce scans from the persisted cursor to the head and emits anything new.
func (s *OrderSource) pollOnce(ctx context.Context, out chan<- domain.OrderEvent) error {
	cursor, err := s.startCursor(ctx)
	if err != nil {
		return err
	}

	events, _, err := s.ScanBacklog(ctx, cursor+1)
	if err != nil {
		return err
	}
	for _, ev := range events {
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
