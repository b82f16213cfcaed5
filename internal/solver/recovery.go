package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/driftgate/solverbot/internal/domain"
)

// Recover rebuilds runtime state from what is persisted: rescan the ledger
// from the stored cursor, then resume every in-flight order at the stage it
// reached. Recovery is a pure function of the stores plus the chain; running
// it twice produces the same outcome.
func (e *Engine) Recover(ctx context.Context) error {
	cursor, err := e.deps.Cursors.Get(ctx, CursorName)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		cursor = e.cfg.StartBlock
		if cursor > 0 {
			cursor--
		}
	case err != nil:
		return fmt.Errorf("solver: reading cursor: %w", err)
	}

	events, head, err := e.deps.Source.ScanBacklog(ctx, cursor+1)
	if err != nil {
		return fmt.Errorf("solver: backlog scan: %w", err)
	}
	e.logger.Info("recovery scan finished",
		slog.Uint64("from_block", cursor+1),
		slog.Uint64("head", head),
		slog.Int("events", len(events)),
	)

	for _, ev := range events {
		e.accept(ctx, ev)
	}

	// Monitor mode carries no signer, so in-flight orders cannot be resumed;
	// they stay put until a solving instance picks them up.
	if e.cfg.Monitor {
		return nil
	}

	if err := e.resumeFulfilling(ctx); err != nil {
		return err
	}
	return e.resumeAwaiting(ctx)
}

// resumeFulfilling handles orders interrupted mid-fulfillment. A confirmed
// receipt on chain means the payment landed and the pipeline resumes at
// attestation; anything else goes to the operator, because resubmitting a
// possibly-in-flight payment risks paying twice.
func (e *Engine) resumeFulfilling(ctx context.Context) error {
	stuck, err := e.deps.Orders.ListByState(ctx, domain.StateFulfilling, domain.ListOpts{Limit: 200})
	if err != nil {
		return fmt.Errorf("solver: listing fulfilling orders: %w", err)
	}

	for _, o := range stuck {
		rec, _, err := e.deps.Fulfillments.GetByOrder(ctx, o.ID)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && rec.TxHash == "") {
			// Interrupted before anything reached the chain.
			e.reopen(ctx, o.ID)
			continue
		}
		if err != nil {
			return fmt.Errorf("solver: fulfillment for %s: %w", o.ID, err)
		}

		confirmed := rec.Confirmed
		if !confirmed && e.deps.Receipts != nil {
			confirmed, err = e.deps.Receipts.ReceiptConfirmed(ctx, rec.TxHash)
			if err != nil {
				e.markFailed(ctx, o.ID, fmt.Sprintf("fulfillment %s unverifiable after restart: %v", rec.TxHash, err))
				continue
			}
		}
		if !confirmed {
			// Receipt exists with a revert status: no funds moved, but the
			// persisted record still points at the dead transaction, so the
			// order goes to the operator rather than silently refilling.
			e.markFailed(ctx, o.ID, fmt.Sprintf("fulfillment %s reverted on chain", rec.TxHash))
			continue
		}

		if err := e.deps.Fulfillments.MarkConfirmed(ctx, o.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("solver: confirming fulfillment %s: %w", o.ID, err)
		}
		if err := e.deps.Orders.UpdateState(ctx, o.ID, domain.StateAwaitingAttestation, ""); err != nil {
			return fmt.Errorf("solver: advancing order %s: %w", o.ID, err)
		}

		id, txHash := o.ID, rec.TxHash
		e.logger.Info("resuming interrupted fulfillment at attestation",
			slog.String("order_id", id.Hex()),
			slog.String("tx", txHash),
		)
		e.spawn(ctx, id, func(ctx context.Context) { e.attestAndSettle(ctx, id, txHash, 0) })
	}
	return nil
}

// resumeAwaiting restarts attestation polling for orders that were paid but
// not yet settled. The payment is never repeated.
func (e *Engine) resumeAwaiting(ctx context.Context) error {
	waiting, err := e.deps.Orders.ListByState(ctx, domain.StateAwaitingAttestation, domain.ListOpts{Limit: 200})
	if err != nil {
		return fmt.Errorf("solver: listing awaiting orders: %w", err)
	}

	for _, o := range waiting {
		rec, _, err := e.deps.Fulfillments.GetByOrder(ctx, o.ID)
		if err != nil {
			e.markFailed(ctx, o.ID, fmt.Sprintf("awaiting attestation without fulfillment record: %v", err))
			continue
		}

		id, txHash := o.ID, rec.TxHash
		e.logger.Info("resuming attestation polling",
			slog.String("order_id", id.Hex()),
			slog.String("tx", txHash),
		)
		e.spawn(ctx, id, func(ctx context.Context) { e.attestAndSettle(ctx, id, txHash, 0) })
	}
	return nil
}
