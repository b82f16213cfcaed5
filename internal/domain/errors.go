package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")

	// Terminal on-chain rejections. The contract's decision is authoritative;
	// none of these are ever retried.
	ErrAlreadySettled  = errors.New("order already settled")
	ErrInsufficientBid = errors.New("bid below required amount")
	ErrReplayDetected  = errors.New("attestation already consumed")

	// ErrAttestationTimeout marks an order that was paid but whose proof never
	// arrived within the configured window. The fulfillment is not reversible;
	// the order is surfaced for manual operator retry.
	ErrAttestationTimeout = errors.New("attestation polling timed out")

	// ErrUnprofitable is the economic rejection: price moved before submission.
	// No funds at risk, the order is simply skipped.
	ErrUnprofitable = errors.New("fill is not profitable")

	// ErrFulfillReverted marks a payment transaction that mined but reverted.
	// A reverted call moved no funds, so the order may be retried.
	ErrFulfillReverted = errors.New("fulfillment transaction reverted")
)

// IsTerminal reports whether err is a permanent on-chain rejection that must
// move the order to Failed without retry.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrAlreadySettled) ||
		errors.Is(err, ErrInsufficientBid) ||
		errors.Is(err, ErrReplayDetected)
}
