// Package health computes the synthetic solvency metric for an agent from
// the price feed. The function is pure and deterministic: the off-chain
// liquidation signal must track the independent on-chain check, so identical
// inputs always produce identical outputs.
package health

import "math"

const (
	// decayFactor scales health loss on an unfavorable move.
	decayFactor = 2.0

	// recoveryFactor scales health gain on a favorable move. Recovery is
	// slower than decay: asymmetric risk.
	recoveryFactor = 0.5

	// recoveryDeadband is the minimum favorable move that counts as
	// recovery; smaller moves are treated as near-zero.
	recoveryDeadband = 0.001

	// highLeverageCutoff enables funding-pressure decay at extreme leverage.
	highLeverageCutoff = 30

	// highLeverageFloor is the level near-zero decay converges to.
	highLeverageFloor = 98.0

	// highLeverageDecayStep is the per-evaluation decay at extreme leverage.
	highLeverageDecayStep = 0.1
)

// Input for one health evaluation.
type Input struct {
	EntryPrice   float64
	CurrentPrice float64
	Leverage     int64
	Long         bool
	PriorHealth  float64
	Collateral   int64 // quote cents
}

// Result of one health evaluation. Liquidated is true when this evaluation
// drove health to zero; the caller owns the once-only alive→dead latch.
type Result struct {
	Health     float64
	PnL        int64 // quote cents
	Liquidated bool
}

// Compute evaluates health and PnL for one agent at the current price.
// A non-positive entry or current price yields the prior state unchanged.
func Compute(in Input) Result {
	if in.EntryPrice <= 0 || in.CurrentPrice <= 0 {
		return Result{Health: clamp(in.PriorHealth, 0, 100)}
	}

	// Positive move = favorable for this agent's side.
	move := (in.CurrentPrice - in.EntryPrice) / in.EntryPrice
	if !in.Long {
		move = -move
	}
	movePct := move * 100

	lev := float64(in.Leverage)
	var h float64

	switch {
	case move < 0:
		h = clamp(100-math.Abs(movePct)*lev*decayFactor, 0, 100)
	case move > recoveryDeadband:
		h = clamp(in.PriorHealth+movePct*lev*recoveryFactor, 0, 100)
	default:
		// Near-zero move: extreme leverage bleeds slowly toward the floor,
		// modeling funding pressure; lower leverage holds steady.
		h = clamp(in.PriorHealth, 0, 100)
		if in.Leverage > highLeverageCutoff {
			h = math.Max(highLeverageFloor, h-highLeverageDecayStep)
		}
	}

	return Result{
		Health:     h,
		PnL:        int64(math.Round(float64(in.Collateral) * lev * move)),
		Liquidated: move < 0 && h <= 0,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
