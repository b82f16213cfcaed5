// Package auction implements the Dutch auction price decay. The computation
// mirrors the settlement contract's integer arithmetic exactly: the engine
// must never quote less than the contract will recompute at attestation time,
// or settlement reverts.
package auction

import "math/big"

// RequiredAmount returns the counter-asset amount a solver must pay at time
// now for an auction decaying linearly from startPrice to floorPrice over
// duration. All arithmetic is integer with truncating division; no floating
// point anywhere on this path.
//
//	now <= startTime             -> startPrice
//	now >= startTime + duration  -> floorPrice
//	otherwise                    -> startPrice - (startPrice-floorPrice)*(now-startTime)/duration
func RequiredAmount(startPrice, floorPrice *big.Int, startTime, duration, now uint64) *big.Int {
	if now <= startTime {
		return new(big.Int).Set(startPrice)
	}
	elapsed := now - startTime
	if elapsed >= duration {
		return new(big.Int).Set(floorPrice)
	}

	spread := new(big.Int).Sub(startPrice, floorPrice)
	decay := spread.Mul(spread, new(big.Int).SetUint64(elapsed))
	decay.Quo(decay, new(big.Int).SetUint64(duration))
	return new(big.Int).Sub(startPrice, decay)
}

// Params bundles one auction's immutable pricing inputs.
type Params struct {
	StartPrice *big.Int
	FloorPrice *big.Int
	StartTime  uint64
	Duration   uint64
}

// At returns the required amount for these params at time now.
func (p Params) At(now uint64) *big.Int {
	return RequiredAmount(p.StartPrice, p.FloorPrice, p.StartTime, p.Duration, now)
}

// Ended reports whether the auction has fully decayed to the floor at now.
func (p Params) Ended(now uint64) bool {
	return now >= p.StartTime+p.Duration
}
