package syncer

import (
	"fmt"
	"math"

	"github.com/hiiliketocode/polycopy-sub006/models"
)

// ReductionDecision is the outcome of comparing the stored trader position
// baseline to a fresh reading.
type ReductionDecision struct {
	ShouldClose   bool
	CloseFraction float64 // in (0, 1] when ShouldClose
	NewBaseline   float64 // value to store as trader_position_size
	SkipReason    string  // set when ShouldClose is false
}

// ComputeReduction decides, from two position-size readings, what fraction
// of the follower's matching position should now be closed.
//
// The follower's own holding differs from the trader's (different entry
// timing and sizing), so reductions are expressed as a proportion of the
// trader's change and applied to the follower's current holding, never
// copied as an absolute size.
//
// This is a pure function for easy testing.
func ComputeReduction(priorSize *float64, currentSize float64) ReductionDecision {
	if math.IsNaN(currentSize) || math.IsInf(currentSize, 0) || currentSize < 0 {
		currentSize = 0
	}

	// First observation: record the baseline and take no action, unless
	// the trader already has no position, which is a full close.
	if priorSize == nil {
		if currentSize == 0 {
			return ReductionDecision{ShouldClose: true, CloseFraction: 1, NewBaseline: 0}
		}
		return ReductionDecision{
			NewBaseline: currentSize,
			SkipReason:  "first observation, baseline recorded",
		}
	}

	prior := *priorSize
	if currentSize >= prior {
		return ReductionDecision{
			NewBaseline: currentSize,
			SkipReason:  fmt.Sprintf("trader position unchanged or grew (%.4f -> %.4f)", prior, currentSize),
		}
	}

	fraction := (prior - currentSize) / prior
	if math.IsNaN(fraction) || math.IsInf(fraction, 0) || fraction <= 0 {
		return ReductionDecision{
			NewBaseline: currentSize,
			SkipReason:  "no actionable reduction",
		}
	}
	if fraction > 1 {
		fraction = 1
	}

	return ReductionDecision{
		ShouldClose:   true,
		CloseFraction: fraction,
		NewBaseline:   currentSize,
	}
}

// CloseSize returns the follower's close size for a reduction fraction,
// floored to the given step. Never exceeds the follower's position.
func CloseSize(followerSize, fraction, step float64) float64 {
	size := followerSize * fraction
	if size > followerSize {
		size = followerSize
	}
	return FloorToStep(size, step)
}

// ClosePrice returns the slippage-adjusted, tick-snapped limit price for a
// close order. The shift is against the follower (selling below market,
// buying above market) so the non-resting order has fill priority.
func ClosePrice(marketPrice float64, originalSide models.Side, slippagePct, tick float64) float64 {
	var price float64
	if originalSide == models.SideBuy {
		// Original BUY closes with a SELL below market
		price = marketPrice * (1 - slippagePct/100)
	} else {
		// Original SELL closes with a BUY above market
		price = marketPrice * (1 + slippagePct/100)
	}

	price = RoundToTick(price, tick)

	// Keep the price inside the market's valid range
	if price < tick {
		price = tick
	}
	if price > 1-tick {
		price = 1 - tick
	}
	return price
}

// RoundToTick snaps a price to the nearest tick multiple, rounding halves
// away from zero. Exact parity with the exchange's internal rounding is
// not derivable, so half-away-from-zero is the documented choice here.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}

// FloorToStep floors a size to a step multiple. A small epsilon absorbs
// float artifacts so 0.30000000000000004 still floors to 0.30.
func FloorToStep(size, step float64) float64 {
	if step <= 0 {
		return size
	}
	return math.Floor(size/step+1e-9) * step
}
