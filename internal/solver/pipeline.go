package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/driftgate/solverbot/internal/auction"
	"github.com/driftgate/solverbot/internal/domain"
)

// processOpen runs the front half of the pipeline for one open order: expiry
// check, pricing, profitability gate, then fulfillment under the distributed
// fill lock. Economic skips leave the order open for the next recheck.
func (e *Engine) processOpen(ctx context.Context, id domain.OrderID) {
	o, err := e.deps.Orders.GetByID(ctx, id)
	if err != nil {
		e.logger.Error("loading order failed",
			slog.String("order_id", id.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	if o.State != domain.StateOpen {
		return
	}

	params := auction.Params{
		StartPrice: o.StartPrice,
		FloorPrice: o.FloorPrice,
		StartTime:  o.StartTime,
		Duration:   o.Duration,
	}
	now := e.cfg.TimeUnit.Timestamp(e.deps.Clock.Now())

	if params.Ended(now) && now-o.StartTime-o.Duration > e.cfg.TimeUnit.Units(e.cfg.ExpiryGrace) {
		if err := e.deps.Orders.UpdateState(ctx, id, domain.StateExpired, "auction expired unfilled"); err != nil {
			e.logger.Error("marking order expired failed",
				slog.String("order_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	required := params.At(now)
	profit, err := e.deps.Gate.Evaluate(ctx, o, required)
	if err != nil {
		if errors.Is(err, domain.ErrUnprofitable) {
			e.logger.Debug("order skipped as unprofitable",
				slog.String("order_id", id.Hex()),
				slog.String("required", required.String()),
				slog.Float64("profit_usd", profit),
			)
		} else {
			e.logger.Warn("profit evaluation failed",
				slog.String("order_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if e.cfg.Monitor {
		e.logger.Info("profitable order observed (monitor mode)",
			slog.String("order_id", id.Hex()),
			slog.String("required", required.String()),
			slog.Float64("profit_usd", profit),
		)
		return
	}

	unlock, err := e.deps.Locks.Acquire(ctx, "fill:"+id.Hex(), e.cfg.LockTTL)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			e.logger.Error("acquiring fill lock failed",
				slog.String("order_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	defer unlock()

	// Re-read under the lock: another instance may have advanced the order
	// between our evaluation and the acquire.
	o, err = e.deps.Orders.GetByID(ctx, id)
	if err != nil || o.State != domain.StateOpen {
		return
	}

	rec, ok := e.fulfillStage(ctx, o, params, profit)
	if !ok {
		return
	}
	e.attestAndSettle(ctx, o.ID, rec.TxHash, profit)
}

// fulfillStage submits and confirms the payment. It returns the confirmed
// record and whether the pipeline should continue.
func (e *Engine) fulfillStage(ctx context.Context, o domain.Order, params auction.Params, profit float64) (domain.FulfillmentRecord, bool) {
	id := o.ID

	if err := e.deps.Orders.UpdateState(ctx, id, domain.StateFulfilling, ""); err != nil {
		e.logger.Error("marking order fulfilling failed",
			slog.String("order_id", id.Hex()),
			slog.String("error", err.Error()),
		)
		return domain.FulfillmentRecord{}, false
	}

	// Reprice with a fresh timestamp so the amount is never below what the
	// contract computes when the attestation lands.
	amount := params.At(e.cfg.TimeUnit.Timestamp(e.deps.Clock.Now()))

	rec, err := e.deps.Fulfiller.Fulfill(ctx, o, amount)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnprofitable):
			// Balance drifted below the required amount: no funds at risk,
			// release the order for the next recheck.
			e.reopen(ctx, id)
			e.logger.Warn("fulfillment skipped, balance below required",
				slog.String("order_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		case rec.TxHash == "":
			// Nothing reached the chain. Count the attempt and reopen.
			_ = e.deps.Orders.IncrementRetry(ctx, id)
			e.reopen(ctx, id)
			e.logger.Warn("fulfillment submission failed",
				slog.String("order_id", id.Hex()),
				slog.String("error", err.Error()),
			)
		case errors.Is(err, domain.ErrFulfillReverted):
			// Mined but reverted: the contract kept nothing, so no payment is
			// in flight. Count the attempt and reopen.
			_ = e.deps.Orders.IncrementRetry(ctx, id)
			e.reopen(ctx, id)
			e.logger.Warn("fulfillment reverted, order reopened",
				slog.String("order_id", id.Hex()),
				slog.String("tx", rec.TxHash),
			)
		default:
			// Submitted but not confirmed: funds may be in flight, never
			// resubmit. Persist what we know and surface to the operator.
			if createErr := e.deps.Fulfillments.Create(ctx, rec); createErr != nil {
				e.logger.Error("persisting unconfirmed fulfillment failed",
					slog.String("order_id", id.Hex()),
					slog.String("error", createErr.Error()),
				)
			}
			e.markFailed(ctx, id, fmt.Sprintf("fulfillment %s not confirmed: %v", rec.TxHash, err))
		}
		return rec, false
	}

	if err := e.deps.Fulfillments.Create(ctx, rec); err != nil {
		e.logger.Error("persisting fulfillment failed",
			slog.String("order_id", id.Hex()),
			slog.String("error", err.Error()),
		)
	}
	if err := e.deps.Fulfillments.MarkConfirmed(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.Error("confirming fulfillment record failed",
			slog.String("order_id", id.Hex()),
			slog.String("error", err.Error()),
		)
	}
	if err := e.deps.Orders.UpdateState(ctx, id, domain.StateAwaitingAttestation, ""); err != nil {
		e.logger.Error("marking order awaiting attestation failed",
			slog.String("order_id", id.Hex()),
			slog.String("error", err.Error()),
		)
	}

	e.logger.Info("order fulfilled",
		slog.String("order_id", id.Hex()),
		slog.String("tx", rec.TxHash),
		slog.String("amount", rec.AmountPaid.String()),
		slog.Float64("profit_usd", profit),
	)
	return rec, true
}

// attestAndSettle runs the back half of the pipeline: parse the message
// handle, fetch the signed proof, settle on the source ledger. The payment is
// already irreversible, so every failure here either waits or goes to the
// operator; nothing re-enters fulfillment.
func (e *Engine) attestAndSettle(ctx context.Context, id domain.OrderID, fulfillTx string, profit float64) {
	handle, err := e.handleFor(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a failure: the order stays AwaitingAttestation
			// and recovery resumes it on the next start.
			return
		}
		e.markFailed(ctx, id, fmt.Sprintf("parsing attestation handle: %v", err))
		return
	}

	att, err := e.deps.Attestor.Fetch(ctx, handle)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, domain.ErrAttestationTimeout) {
			e.markFailed(ctx, id, err.Error())
			e.deps.Alerts.AttestationTimeout(ctx, id.Hex(), fulfillTx)
			return
		}
		e.markFailed(ctx, id, fmt.Sprintf("fetching attestation: %v", err))
		return
	}

	var settleTx string
	err = e.cfg.Transient.Do(ctx, func(ctx context.Context) error {
		tx, err := e.deps.Settler.Settle(ctx, id, att)
		if err != nil {
			return err
		}
		settleTx = tx
		return nil
	})
	if err != nil {
		// A proof the contract has already consumed means an earlier settle
		// of ours (or a twin instance's) landed: the order is done.
		if errors.Is(err, domain.ErrAlreadySettled) || errors.Is(err, domain.ErrReplayDetected) {
			e.logger.Info("order settled by an earlier submission",
				slog.String("order_id", id.Hex()),
			)
			e.markSettled(ctx, id, "", profit)
			return
		}
		if ctx.Err() != nil {
			return
		}
		e.markFailed(ctx, id, fmt.Sprintf("settlement: %v", err))
		return
	}

	e.markSettled(ctx, id, settleTx, profit)
}

// handleFor returns the attestation handle for an order, reusing a persisted
// one before parsing and verifying the fulfillment receipt.
func (e *Engine) handleFor(ctx context.Context, id domain.OrderID) (domain.AttestationHandle, error) {
	rec, stored, err := e.deps.Fulfillments.GetByOrder(ctx, id)
	if err != nil {
		return domain.AttestationHandle{}, fmt.Errorf("loading fulfillment record: %w", err)
	}
	if stored != nil {
		return *stored, nil
	}

	o, err := e.deps.Orders.GetByID(ctx, id)
	if err != nil {
		return domain.AttestationHandle{}, fmt.Errorf("loading order: %w", err)
	}

	handle, err := e.deps.Attestor.HandleFor(ctx, o, rec)
	if err != nil {
		return handle, err
	}
	if err := e.deps.Fulfillments.SetHandle(ctx, id, handle); err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.logger.Error("persisting attestation handle failed",
			slog.String("order_id", id.Hex()),
			slog.String("error", err.Error()),
		)
	}
	return handle, nil
}

func (e *Engine) markSettled(ctx context.Context, id domain.OrderID, settleTx string, profit float64) {
	if err := e.deps.Orders.UpdateState(ctx, id, domain.StateSettled, ""); err != nil {
		e.logger.Error("marking order settled failed",
			slog.String("order_id", id.Hex()),
			slog.String("error", err.Error()),
		)
	}
	e.logger.Info("order settled",
		slog.String("order_id", id.Hex()),
		slog.String("tx", settleTx),
		slog.Float64("profit_usd", profit),
	)
	e.deps.Alerts.OrderSettled(ctx, id.Hex(), settleTx, fmt.Sprintf("$%.2f", profit))
}

func (e *Engine) reopen(ctx context.Context, id domain.OrderID) {
	if err := e.deps.Orders.UpdateState(ctx, id, domain.StateOpen, ""); err != nil {
		e.logger.Error("reopening order failed",
			slog.String("order_id", id.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// Quote returns the amount required to fill o right now. Used by the
// operator API.
func (e *Engine) Quote(o domain.Order) *big.Int {
	return auction.RequiredAmount(
		o.StartPrice, o.FloorPrice, o.StartTime, o.Duration,
		e.cfg.TimeUnit.Timestamp(e.deps.Clock.Now()),
	)
}
