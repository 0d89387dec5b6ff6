// Package position holds the pure arithmetic of leveraged positions:
// unrealized PnL with the min-profit gate, the continuity-preserving
// average-price formula, funding and margin fees, and the liquidation
// predicate. Nothing in this package mutates state; the ledger owns that.
//
// All monetary values use shopspring/decimal, never float64.
package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/feecurve"
)

// FundingPrecision scales integer cumulative funding rates: a rate of
// 1_000_000 over a position's lifetime charges 100% of its size.
const FundingPrecision int64 = 1_000_000

// LiquidationReason classifies the outcome of the liquidation predicate.
type LiquidationReason int

const (
	// ReasonNone: the position is healthy.
	ReasonNone LiquidationReason = iota

	// ReasonUnderwater: losses plus fees meet or exceed collateral; the
	// pool keeps the remaining collateral value.
	ReasonUnderwater

	// ReasonMaxLeverageBreach: collateral still covers losses and fees but
	// leverage exceeds the maximum; the position is force-closed with the
	// standard margin fee only.
	ReasonMaxLeverageBreach
)

func (r LiquidationReason) String() string {
	switch r {
	case ReasonUnderwater:
		return "underwater"
	case ReasonMaxLeverageBreach:
		return "max_leverage_breach"
	default:
		return "none"
	}
}

// Delta computes a position's unrealized PnL at markPrice.
//
// The min-profit gate: a price move only counts as profit once it exceeds
// minProfitBps of the average price, or once minProfitTime has elapsed since
// the last increase. This blocks opening and immediately closing a position
// to capture noise-level moves. Losses are always reported in full.
func Delta(size, averagePrice, markPrice decimal.Decimal, isLong bool,
	minProfitBps int64, minProfitTime time.Duration, lastIncrease, now time.Time,
) (hasProfit bool, delta decimal.Decimal) {
	if !averagePrice.IsPositive() || size.IsZero() {
		return false, decimal.Zero
	}

	priceDelta := averagePrice.Sub(markPrice).Abs()
	delta = size.Mul(priceDelta).Div(averagePrice)

	if isLong {
		hasProfit = markPrice.GreaterThan(averagePrice)
	} else {
		hasProfit = markPrice.LessThan(averagePrice)
	}

	if hasProfit && now.Before(lastIncrease.Add(minProfitTime)) {
		threshold := averagePrice.Mul(decimal.NewFromInt(minProfitBps))
		if priceDelta.Mul(decimal.NewFromInt(feecurve.BasisPointsDivisor)).LessThanOrEqual(threshold) {
			delta = decimal.Zero
		}
	}
	return hasProfit, delta
}

// NextAveragePrice returns the reference price after growing a position (or
// the aggregate short book) by sizeDelta at markPrice.
//
// The divisor folds the current unrealized PnL into the new size so that PnL
// marked at markPrice immediately after the increase equals PnL immediately
// before; growing a position never manufactures or destroys PnL.
func NextAveragePrice(size, averagePrice, markPrice, sizeDelta decimal.Decimal, isLong bool,
	hasProfit bool, delta decimal.Decimal,
) decimal.Decimal {
	nextSize := size.Add(sizeDelta)

	var divisor decimal.Decimal
	if isLong == hasProfit {
		// Long in profit or short in loss: value grew with price.
		divisor = nextSize.Add(delta)
	} else {
		divisor = nextSize.Sub(delta)
	}
	return markPrice.Mul(nextSize).Div(divisor)
}

// FundingFee is the carrying cost accrued between entryRate and the current
// cumulative rate, charged against the position's full size.
func FundingFee(size decimal.Decimal, cumulativeRate, entryRate int64) decimal.Decimal {
	if size.IsZero() || cumulativeRate == entryRate {
		return decimal.Zero
	}
	return size.
		Mul(decimal.NewFromInt(cumulativeRate - entryRate)).
		Div(decimal.NewFromInt(FundingPrecision))
}

// MarginFee is the flat basis-point fee on a size change.
func MarginFee(sizeDelta decimal.Decimal, marginFeeBps int64) decimal.Decimal {
	if sizeDelta.IsZero() {
		return decimal.Zero
	}
	afterFee, _ := feecurve.ApplyBasisPoints(sizeDelta, marginFeeBps)
	return sizeDelta.Sub(afterFee)
}

// LeverageBps returns size/collateral in basis points (10000 = 1x).
func LeverageBps(size, collateral decimal.Decimal) int64 {
	if !collateral.IsPositive() {
		return 0
	}
	return size.
		Mul(decimal.NewFromInt(feecurve.BasisPointsDivisor)).
		Div(collateral).
		IntPart()
}

// CheckLiquidation is the pure liquidation predicate used both by the
// liquidation entry point and by read-only dry-run inspection.
//
// remaining = collateral + (profit ? delta : -delta) - marginFee.
// remaining < 0            → Underwater
// size*10000/remaining > maxLeverage → MaxLeverageBreach
func CheckLiquidation(size, collateral, averagePrice, markPrice decimal.Decimal, isLong bool,
	entryFundingRate, cumulativeFundingRate int64,
	marginFeeBps, maxLeverageBps, minProfitBps int64,
	minProfitTime time.Duration, lastIncrease, now time.Time,
) (LiquidationReason, decimal.Decimal) {
	marginFee := MarginFee(size, marginFeeBps).
		Add(FundingFee(size, cumulativeFundingRate, entryFundingRate))

	hasProfit, delta := Delta(size, averagePrice, markPrice, isLong,
		minProfitBps, minProfitTime, lastIncrease, now)

	remaining := collateral.Sub(marginFee)
	if hasProfit {
		remaining = remaining.Add(delta)
	} else {
		remaining = remaining.Sub(delta)
	}

	if remaining.IsNegative() {
		return ReasonUnderwater, marginFee
	}
	if remaining.IsZero() && size.IsPositive() {
		// Leverage is unbounded with zero remaining collateral.
		return ReasonMaxLeverageBreach, marginFee
	}
	if LeverageBps(size, remaining) > maxLeverageBps {
		return ReasonMaxLeverageBreach, marginFee
	}
	return ReasonNone, marginFee
}
