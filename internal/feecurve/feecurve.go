// Package feecurve implements the dynamic basis-point fee that nudges the
// pool toward its target asset allocation.
//
// Each whitelisted token has a target share of the total stable-unit backing
// (weight / sum of weights). Moving a token's backing further above its
// target is surcharged, moving it back toward target is rebated, symmetric
// on the low side. The surcharge/rebate is linear in the midpoint distance
// from target, clamped at one full target width so the fee stays bounded at
// extreme imbalance.
//
// All monetary values use shopspring/decimal, never float64.
package feecurve

import (
	"github.com/shopspring/decimal"
)

// BasisPointsDivisor is the denominator for all basis-point arithmetic.
const BasisPointsDivisor int64 = 10_000

var two = decimal.NewFromInt(2)

// BasisPoints prices one leg of a pool rebalancing move.
//
//   - current: USD value of stable units currently issued against the token
//   - target: USD value the token should back at its configured weight
//   - usdDelta: USD value being added (increment) or removed (!increment)
//   - baseBps / taxBps: flat fee and maximum imbalance surcharge
//
// When target is zero (no stable units outstanding, or zero weight) the
// curve degenerates to the flat base fee.
func BasisPoints(current, target, usdDelta decimal.Decimal, baseBps, taxBps int64, increment bool) int64 {
	if !target.IsPositive() {
		return baseBps
	}

	next := current.Add(usdDelta)
	if !increment {
		next = current.Sub(usdDelta)
		if next.IsNegative() {
			next = decimal.Zero
		}
	}

	// Midpoint distance from target, clamped to one target width so the
	// surcharge never exceeds taxBps.
	average := current.Add(next).Div(two)
	diff := average.Sub(target)

	if increment {
		if next.LessThanOrEqual(target) {
			return baseBps
		}
		// The signed midpoint carries through: an increment crossing target
		// from below has a negative diff and is discounted below base for
		// the distance it closed. Floored at zero like the decrement side.
		fee := baseBps + taxShare(diff, target, taxBps)
		if fee < 0 {
			return 0
		}
		return fee
	}

	// Decrement: a midpoint above target means the withdrawal moves the
	// pool toward target (rebate, floored at zero); below target means it
	// moves away (surcharge).
	if diff.Sign() >= 0 {
		fee := baseBps - taxShare(diff, target, taxBps)
		if fee < 0 {
			return 0
		}
		return fee
	}
	return baseBps + taxShare(diff.Neg(), target, taxBps)
}

// taxShare returns taxBps scaled by diff/target, preserving diff's sign,
// with |diff| clamped at target. Integer truncation matches basis-point
// arithmetic elsewhere in the engine.
func taxShare(diff, target decimal.Decimal, taxBps int64) int64 {
	if diff.Abs().GreaterThan(target) {
		diff = target.Mul(decimal.NewFromInt(int64(diff.Sign())))
	}
	return decimal.NewFromInt(taxBps).Mul(diff).Div(target).IntPart()
}

// TargetBacking returns the USD value of stable units the token should back:
// weight * totalSupply / totalWeight. Zero weight or zero supply yields zero.
func TargetBacking(weight, totalWeight int64, stableUnitSupply decimal.Decimal) decimal.Decimal {
	if weight <= 0 || totalWeight <= 0 {
		return decimal.Zero
	}
	return stableUnitSupply.Mul(decimal.NewFromInt(weight)).Div(decimal.NewFromInt(totalWeight))
}

// SwapBasisPoints prices a swap as the worse of its two legs: the incoming
// token's backing increases while the outgoing token's decreases, and the
// higher of the two leg fees applies to the whole swap.
func SwapBasisPoints(currentIn, targetIn, currentOut, targetOut, usdDelta decimal.Decimal, baseBps, taxBps int64) int64 {
	feeIn := BasisPoints(currentIn, targetIn, usdDelta, baseBps, taxBps, true)
	feeOut := BasisPoints(currentOut, targetOut, usdDelta, baseBps, taxBps, false)
	if feeIn > feeOut {
		return feeIn
	}
	return feeOut
}

// ApplyBasisPoints deducts feeBps from amount, returning the post-fee amount
// and the fee taken. The split is exact: afterFee + fee == amount.
func ApplyBasisPoints(amount decimal.Decimal, feeBps int64) (afterFee, fee decimal.Decimal) {
	afterFee = amount.
		Mul(decimal.NewFromInt(BasisPointsDivisor - feeBps)).
		Div(decimal.NewFromInt(BasisPointsDivisor))
	return afterFee, amount.Sub(afterFee)
}
