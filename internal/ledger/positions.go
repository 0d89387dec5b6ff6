package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/model"
	"github.com/synthpool/margin-engine/internal/position"
)

// IncreaseReceipt reports a committed position increase.
type IncreaseReceipt struct {
	Account         string          `json:"account"`
	CollateralToken string          `json:"collateral_token"`
	IndexToken      string          `json:"index_token"`
	Side            model.Side      `json:"side"`
	SizeDelta       decimal.Decimal `json:"size_delta"`
	CollateralIn    decimal.Decimal `json:"collateral_in_usd"`
	FeeUsd          decimal.Decimal `json:"fee_usd"`
	Price           decimal.Decimal `json:"price"`
	Size            decimal.Decimal `json:"size"`
	Collateral      decimal.Decimal `json:"collateral"`
	AveragePrice    decimal.Decimal `json:"average_price"`
	LeverageBps     int64           `json:"leverage_bps"`
}

// DecreaseReceipt reports a committed position decrease or close.
type DecreaseReceipt struct {
	Account         string          `json:"account"`
	CollateralToken string          `json:"collateral_token"`
	IndexToken      string          `json:"index_token"`
	Side            model.Side      `json:"side"`
	SizeDelta       decimal.Decimal `json:"size_delta"`
	AmountOut       decimal.Decimal `json:"amount_out"` // collateral-token units
	RealizedPnl     decimal.Decimal `json:"realized_pnl"`
	FeeUsd          decimal.Decimal `json:"fee_usd"`
	Price           decimal.Decimal `json:"price"`
	Closed          bool            `json:"closed"`
}

// LiquidationReceipt reports a committed liquidation.
type LiquidationReceipt struct {
	Reason          position.LiquidationReason `json:"-"`
	ReasonText      string                     `json:"reason"`
	Account         string                     `json:"account"`
	CollateralToken string                     `json:"collateral_token"`
	IndexToken      string                     `json:"index_token"`
	Side            model.Side                 `json:"side"`
	Size            decimal.Decimal            `json:"size"`
	FeeUsd          decimal.Decimal            `json:"fee_usd"`
	LiquidatorFee   decimal.Decimal            `json:"liquidator_fee"` // collateral-token units
	Price           decimal.Decimal            `json:"price"`
}

// validateTokens enforces the collateral/index pairing rules: longs use the
// index token itself as collateral and it must not be a stable asset; shorts
// post stable collateral against a shortable, non-stable index.
func validateTokens(cfgCollateral, cfgIndex model.AssetConfig, side model.Side) error {
	if side.IsLong() {
		if cfgCollateral.Symbol != cfgIndex.Symbol {
			return fmt.Errorf("%w: long collateral must match index", ErrInvalidTokens)
		}
		if cfgCollateral.IsStable {
			return fmt.Errorf("%w: long collateral must not be stable", ErrInvalidTokens)
		}
		return nil
	}
	if !cfgCollateral.IsStable {
		return fmt.Errorf("%w: short collateral must be stable", ErrInvalidTokens)
	}
	if cfgIndex.IsStable {
		return fmt.Errorf("%w: short index must not be stable", ErrInvalidTokens)
	}
	if !cfgIndex.IsShortable {
		return fmt.Errorf("%w: %s", ErrTokenNotShortable, cfgIndex.Symbol)
	}
	return nil
}

// IncreasePosition opens or grows a leveraged position. Collateral must have
// been transferred to the custodian beforehand; the measured surplus is the
// deposit. A sizeDelta of zero is a pure collateral top-up.
func (l *Ledger) IncreasePosition(ctx context.Context, account, collateralToken, indexToken string,
	side model.Side, sizeDelta decimal.Decimal,
) (IncreaseReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !side.Valid() {
		return IncreaseReceipt{}, fmt.Errorf("%w: side %q", ErrInvalidAmount, side)
	}
	if sizeDelta.IsNegative() {
		return IncreaseReceipt{}, fmt.Errorf("%w: negative size delta", ErrInvalidAmount)
	}
	cfgC, err := l.config(collateralToken)
	if err != nil {
		return IncreaseReceipt{}, err
	}
	cfgI, err := l.config(indexToken)
	if err != nil {
		return IncreaseReceipt{}, err
	}
	if err := validateTokens(cfgC, cfgI, side); err != nil {
		return IncreaseReceipt{}, err
	}

	t := l.begin()
	now := l.now()

	amountIn, err := t.transferIn(collateralToken)
	if err != nil {
		return IncreaseReceipt{}, err
	}
	if err := t.updateFunding(collateralToken, now); err != nil {
		return IncreaseReceipt{}, err
	}

	markPrice, err := l.price(ctx, indexToken, side.IsLong())
	if err != nil {
		return IncreaseReceipt{}, err
	}
	priceCMin, err := l.price(ctx, collateralToken, false)
	if err != nil {
		return IncreaseReceipt{}, err
	}
	priceCMax, err := l.price(ctx, collateralToken, true)
	if err != nil {
		return IncreaseReceipt{}, err
	}

	aC, err := t.asset(collateralToken)
	if err != nil {
		return IncreaseReceipt{}, err
	}
	pos := t.position(account, collateralToken, indexToken, side)

	if pos.Size.IsZero() {
		if !sizeDelta.IsPositive() {
			return IncreaseReceipt{}, fmt.Errorf("%w: zero size", ErrInvalidAmount)
		}
		pos.AveragePrice = markPrice
	} else if sizeDelta.IsPositive() {
		hasProfit, delta := position.Delta(pos.Size, pos.AveragePrice, markPrice, side.IsLong(),
			cfgI.MinProfitBps, l.params.MinProfitTime, pos.LastIncreaseTime, now)
		pos.AveragePrice = position.NextAveragePrice(pos.Size, pos.AveragePrice, markPrice,
			sizeDelta, side.IsLong(), hasProfit, delta)
	}

	// Funding is charged on the old size before it changes.
	fundingFee := position.FundingFee(pos.Size, aC.CumulativeFundingRate, pos.EntryFundingRate)
	marginFee := position.MarginFee(sizeDelta, l.params.MarginFeeBps).Add(fundingFee)
	pos.EntryFundingRate = aC.CumulativeFundingRate

	collateralUsd := tokenToUsdMin(amountIn, priceCMin)
	pos.Collateral = pos.Collateral.Add(collateralUsd)
	if pos.Collateral.LessThan(marginFee) {
		return IncreaseReceipt{}, fmt.Errorf("%w: fee %s > collateral %s",
			ErrInsufficientFeeCover, marginFee, pos.Collateral)
	}
	pos.Collateral = pos.Collateral.Sub(marginFee)
	pos.Size = pos.Size.Add(sizeDelta)
	pos.LastIncreaseTime = now
	if pos.Size.LessThan(pos.Collateral) {
		return IncreaseReceipt{}, fmt.Errorf("%w: size %s < collateral %s",
			ErrSizeBelowCollateral, pos.Size, pos.Collateral)
	}

	feeTokens := usdToTokenMin(marginFee, priceCMax)
	aC.FeeReserve = aC.FeeReserve.Add(feeTokens)

	// Token units the pool must hold against this exposure.
	reserveDelta := usdToTokenMax(sizeDelta, priceCMin)
	pos.ReserveAmount = pos.ReserveAmount.Add(reserveDelta)
	aC.ReservedAmount = aC.ReservedAmount.Add(reserveDelta)

	if side.IsLong() {
		// The pool guarantees the position's full size beyond its own
		// collateral; fees reduce that collateral.
		aC.GuaranteedUsd = aC.GuaranteedUsd.Add(sizeDelta).Add(marginFee).Sub(collateralUsd)
		aC.PoolAmount = aC.PoolAmount.Add(amountIn).Sub(feeTokens)
		if aC.PoolAmount.IsNegative() {
			return IncreaseReceipt{}, fmt.Errorf("%w: %s", ErrInsufficientPool, collateralToken)
		}
	} else {
		aI, err := t.asset(indexToken)
		if err != nil {
			return IncreaseReceipt{}, err
		}
		if err := increaseGlobalShort(aI, cfgI, markPrice, sizeDelta); err != nil {
			return IncreaseReceipt{}, err
		}
	}

	if aC.ReservedAmount.GreaterThan(aC.PoolAmount) {
		return IncreaseReceipt{}, fmt.Errorf("%w: %s reserved %s > pool %s",
			ErrReserveExceedsPool, collateralToken, aC.ReservedAmount, aC.PoolAmount)
	}

	// The resulting position must be healthy at the closing mark.
	closePrice, err := l.price(ctx, indexToken, !side.IsLong())
	if err != nil {
		return IncreaseReceipt{}, err
	}
	reason, _ := position.CheckLiquidation(pos.Size, pos.Collateral, pos.AveragePrice, closePrice,
		side.IsLong(), pos.EntryFundingRate, aC.CumulativeFundingRate,
		l.params.MarginFeeBps, l.params.MaxLeverageBps,
		cfgI.MinProfitBps, l.params.MinProfitTime, pos.LastIncreaseTime, now)
	switch reason {
	case position.ReasonUnderwater:
		return IncreaseReceipt{}, fmt.Errorf("%w: position would be underwater", ErrLossesExceedCollateral)
	case position.ReasonMaxLeverageBreach:
		return IncreaseReceipt{}, fmt.Errorf("%w: leverage %d bps > max %d",
			ErrMaxLeverageExceeded, position.LeverageBps(pos.Size, pos.Collateral), l.params.MaxLeverageBps)
	}

	if err := t.commit(); err != nil {
		return IncreaseReceipt{}, err
	}
	return IncreaseReceipt{
		Account: account, CollateralToken: collateralToken, IndexToken: indexToken, Side: side,
		SizeDelta: sizeDelta, CollateralIn: collateralUsd, FeeUsd: marginFee, Price: markPrice,
		Size: pos.Size, Collateral: pos.Collateral, AveragePrice: pos.AveragePrice,
		LeverageBps: position.LeverageBps(pos.Size, pos.Collateral),
	}, nil
}

// DecreasePosition reduces size and/or withdraws collateral, realizing PnL
// proportionally. The payout goes to receiver in collateral-token units,
// rounded down; the fractional remainder stays in the pool.
func (l *Ledger) DecreasePosition(ctx context.Context, account, collateralToken, indexToken string,
	side model.Side, collateralDelta, sizeDelta decimal.Decimal, receiver string,
) (DecreaseReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decreaseLocked(ctx, account, collateralToken, indexToken, side, collateralDelta, sizeDelta, receiver)
}

func (l *Ledger) decreaseLocked(ctx context.Context, account, collateralToken, indexToken string,
	side model.Side, collateralDelta, sizeDelta decimal.Decimal, receiver string,
) (DecreaseReceipt, error) {
	cfgC, err := l.config(collateralToken)
	if err != nil {
		return DecreaseReceipt{}, err
	}
	cfgI, err := l.config(indexToken)
	if err != nil {
		return DecreaseReceipt{}, err
	}
	if collateralDelta.IsNegative() || sizeDelta.IsNegative() {
		return DecreaseReceipt{}, fmt.Errorf("%w: negative delta", ErrInvalidAmount)
	}
	if collateralDelta.IsZero() && sizeDelta.IsZero() {
		return DecreaseReceipt{}, fmt.Errorf("%w: nothing to decrease", ErrInvalidAmount)
	}

	key := model.PositionKey(account, collateralToken, indexToken, side)
	live, ok := l.positions[key]
	if !ok || !live.Size.IsPositive() {
		return DecreaseReceipt{}, fmt.Errorf("%w: %s", ErrEmptyPosition, key)
	}
	if sizeDelta.GreaterThan(live.Size) {
		return DecreaseReceipt{}, fmt.Errorf("%w: size delta %s > size %s",
			ErrInvalidAmount, sizeDelta, live.Size)
	}

	t := l.begin()
	now := l.now()
	if err := t.updateFunding(collateralToken, now); err != nil {
		return DecreaseReceipt{}, err
	}

	closePrice, err := l.price(ctx, indexToken, !side.IsLong())
	if err != nil {
		return DecreaseReceipt{}, err
	}
	priceCMax, err := l.price(ctx, collateralToken, true)
	if err != nil {
		return DecreaseReceipt{}, err
	}

	aC, err := t.asset(collateralToken)
	if err != nil {
		return DecreaseReceipt{}, err
	}
	pos := t.position(account, collateralToken, indexToken, side)
	collateralBefore := pos.Collateral
	pnlBefore := pos.RealizedPnl
	fullClose := sizeDelta.Equal(pos.Size)

	if sizeDelta.IsPositive() {
		reserveDelta := pos.ReserveAmount.Mul(sizeDelta).Div(pos.Size)
		pos.ReserveAmount = pos.ReserveAmount.Sub(reserveDelta)
		aC.ReservedAmount = aC.ReservedAmount.Sub(reserveDelta)
		if aC.ReservedAmount.IsNegative() {
			aC.ReservedAmount = decimal.Zero
		}
	}

	usdOut, usdOutAfterFee, fee, err := t.reduceCollateral(pos, aC, cfgI,
		closePrice, priceCMax, collateralDelta, sizeDelta, fullClose, now)
	if err != nil {
		return DecreaseReceipt{}, err
	}

	if fullClose {
		if side.IsLong() {
			aC.GuaranteedUsd = aC.GuaranteedUsd.Add(collateralBefore).Sub(sizeDelta)
		}
		t.deletePosition(key)
	} else {
		pos.EntryFundingRate = aC.CumulativeFundingRate
		pos.Size = pos.Size.Sub(sizeDelta)
		if pos.Size.LessThan(pos.Collateral) {
			return DecreaseReceipt{}, fmt.Errorf("%w: size %s < collateral %s",
				ErrSizeBelowCollateral, pos.Size, pos.Collateral)
		}
		reason, _ := position.CheckLiquidation(pos.Size, pos.Collateral, pos.AveragePrice, closePrice,
			side.IsLong(), pos.EntryFundingRate, aC.CumulativeFundingRate,
			l.params.MarginFeeBps, l.params.MaxLeverageBps,
			cfgI.MinProfitBps, l.params.MinProfitTime, pos.LastIncreaseTime, now)
		switch reason {
		case position.ReasonUnderwater:
			return DecreaseReceipt{}, fmt.Errorf("%w: remaining position underwater", ErrLossesExceedCollateral)
		case position.ReasonMaxLeverageBreach:
			return DecreaseReceipt{}, fmt.Errorf("%w: remaining position over-levered", ErrMaxLeverageExceeded)
		}
		if side.IsLong() {
			aC.GuaranteedUsd = aC.GuaranteedUsd.
				Add(collateralBefore.Sub(pos.Collateral)).
				Sub(sizeDelta)
		}
	}

	if !side.IsLong() && sizeDelta.IsPositive() {
		aI, err := t.asset(indexToken)
		if err != nil {
			return DecreaseReceipt{}, err
		}
		decreaseGlobalShort(aI, sizeDelta)
	}

	var paid decimal.Decimal
	if usdOut.IsPositive() {
		tokensOut := usdToTokenMin(usdOut, priceCMax)
		if side.IsLong() {
			if tokensOut.GreaterThan(aC.PoolAmount) {
				return DecreaseReceipt{}, fmt.Errorf("%w: %s", ErrInsufficientPool, collateralToken)
			}
			aC.PoolAmount = aC.PoolAmount.Sub(tokensOut)
		}
		tokensAfterFee := usdToTokenMin(usdOutAfterFee, priceCMax)
		paid = floorToDecimals(tokensAfterFee, cfgC.Decimals)
		// Sub-precision remainder stays in the pool.
		aC.PoolAmount = aC.PoolAmount.Add(tokensAfterFee.Sub(paid))
		t.transferOut(collateralToken, receiver, paid)
	}

	realized := pos.RealizedPnl.Sub(pnlBefore)
	if err := t.commit(); err != nil {
		return DecreaseReceipt{}, err
	}
	return DecreaseReceipt{
		Account: account, CollateralToken: collateralToken, IndexToken: indexToken, Side: side,
		SizeDelta: sizeDelta, AmountOut: paid, RealizedPnl: realized,
		FeeUsd: fee, Price: closePrice, Closed: fullClose,
	}, nil
}

// reduceCollateral realizes proportional PnL and charges fees against the
// staged position. It returns the gross USD owed to the receiver, the net
// after fees, and the fee charged. The payout can never go negative: a fee
// shortfall is taken from remaining collateral or the operation fails.
func (t *txn) reduceCollateral(pos *model.Position, aC *model.AssetState, cfgI model.AssetConfig,
	closePrice, priceCMax, collateralDelta, sizeDelta decimal.Decimal, fullClose bool, now time.Time,
) (usdOut, usdOutAfterFee, fee decimal.Decimal, err error) {
	isLong := pos.Side.IsLong()

	fee = position.MarginFee(sizeDelta, t.l.params.MarginFeeBps).
		Add(position.FundingFee(pos.Size, aC.CumulativeFundingRate, pos.EntryFundingRate))
	aC.FeeReserve = aC.FeeReserve.Add(usdToTokenMin(fee, priceCMax))

	hasProfit, delta := position.Delta(pos.Size, pos.AveragePrice, closePrice, isLong,
		cfgI.MinProfitBps, t.l.params.MinProfitTime, pos.LastIncreaseTime, now)

	var adjusted decimal.Decimal
	if sizeDelta.IsPositive() && delta.IsPositive() {
		adjusted = delta.Mul(sizeDelta).Div(pos.Size)
	}

	if adjusted.IsPositive() {
		if hasProfit {
			usdOut = adjusted
			pos.RealizedPnl = pos.RealizedPnl.Add(adjusted)
			if !isLong {
				// Short profit is paid from the pool.
				payoutTokens := usdToTokenMin(adjusted, priceCMax)
				if payoutTokens.GreaterThan(aC.PoolAmount) {
					return decimal.Zero, decimal.Zero, fee,
						fmt.Errorf("%w: %s", ErrInsufficientPool, pos.CollateralToken)
				}
				aC.PoolAmount = aC.PoolAmount.Sub(payoutTokens)
			}
		} else {
			if adjusted.GreaterThan(pos.Collateral) {
				return decimal.Zero, decimal.Zero, fee,
					fmt.Errorf("%w: loss %s > collateral %s", ErrLossesExceedCollateral, adjusted, pos.Collateral)
			}
			pos.Collateral = pos.Collateral.Sub(adjusted)
			pos.RealizedPnl = pos.RealizedPnl.Sub(adjusted)
			if !isLong {
				// Short loss accrues to the pool.
				aC.PoolAmount = aC.PoolAmount.Add(usdToTokenMin(adjusted, priceCMax))
			}
		}
	}

	if collateralDelta.IsPositive() {
		if collateralDelta.GreaterThan(pos.Collateral) {
			return decimal.Zero, decimal.Zero, fee,
				fmt.Errorf("%w: withdrawal %s > collateral %s", ErrInvalidAmount, collateralDelta, pos.Collateral)
		}
		usdOut = usdOut.Add(collateralDelta)
		pos.Collateral = pos.Collateral.Sub(collateralDelta)
	}

	if fullClose {
		usdOut = usdOut.Add(pos.Collateral)
		pos.Collateral = decimal.Zero
	}

	usdOutAfterFee = usdOut
	if usdOut.GreaterThanOrEqual(fee) {
		usdOutAfterFee = usdOut.Sub(fee)
	} else {
		shortfall := fee.Sub(usdOut)
		if shortfall.GreaterThan(pos.Collateral) {
			return decimal.Zero, decimal.Zero, fee,
				fmt.Errorf("%w: fee %s exceeds payout and collateral", ErrInsufficientFeeCover, fee)
		}
		pos.Collateral = pos.Collateral.Sub(shortfall)
		usdOutAfterFee = decimal.Zero
		if isLong {
			// Long collateral lives in the pool; the shortfall moves
			// from pool to fee reserve.
			aC.PoolAmount = aC.PoolAmount.Sub(usdToTokenMin(shortfall, priceCMax))
			if aC.PoolAmount.IsNegative() {
				return decimal.Zero, decimal.Zero, fee,
					fmt.Errorf("%w: %s", ErrInsufficientPool, pos.CollateralToken)
			}
		}
	}
	return usdOut, usdOutAfterFee, fee, nil
}

// LiquidatePosition force-closes an unhealthy position. Underwater positions
// forfeit remaining collateral to the pool and pay the flat liquidation fee
// to feeReceiver; max-leverage breaches are closed as a standard decrease
// with any remainder returned to the account itself.
func (l *Ledger) LiquidatePosition(ctx context.Context, account, collateralToken, indexToken string,
	side model.Side, feeReceiver string,
) (LiquidationReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfgC, err := l.config(collateralToken)
	if err != nil {
		return LiquidationReceipt{}, err
	}
	cfgI, err := l.config(indexToken)
	if err != nil {
		return LiquidationReceipt{}, err
	}

	key := model.PositionKey(account, collateralToken, indexToken, side)
	live, ok := l.positions[key]
	if !ok || !live.Size.IsPositive() {
		return LiquidationReceipt{}, fmt.Errorf("%w: %s", ErrEmptyPosition, key)
	}

	t := l.begin()
	now := l.now()
	if err := t.updateFunding(collateralToken, now); err != nil {
		return LiquidationReceipt{}, err
	}

	closePrice, err := l.price(ctx, indexToken, !side.IsLong())
	if err != nil {
		return LiquidationReceipt{}, err
	}
	priceCMax, err := l.price(ctx, collateralToken, true)
	if err != nil {
		return LiquidationReceipt{}, err
	}

	aC, err := t.asset(collateralToken)
	if err != nil {
		return LiquidationReceipt{}, err
	}
	pos := t.position(account, collateralToken, indexToken, side)

	reason, marginFee := position.CheckLiquidation(pos.Size, pos.Collateral, pos.AveragePrice, closePrice,
		side.IsLong(), pos.EntryFundingRate, aC.CumulativeFundingRate,
		l.params.MarginFeeBps, l.params.MaxLeverageBps,
		cfgI.MinProfitBps, l.params.MinProfitTime, pos.LastIncreaseTime, now)

	switch reason {
	case position.ReasonNone:
		return LiquidationReceipt{}, fmt.Errorf("%w: %s", ErrCannotLiquidate, key)

	case position.ReasonMaxLeverageBreach:
		// Automatic de-leveraging stop: a standard full close, standard
		// margin fee only, remainder back to the account.
		size := pos.Size
		dec, err := l.decreaseLocked(ctx, account, collateralToken, indexToken, side,
			decimal.Zero, size, account)
		if err != nil {
			return LiquidationReceipt{}, err
		}
		return LiquidationReceipt{
			Reason: reason, ReasonText: reason.String(),
			Account: account, CollateralToken: collateralToken, IndexToken: indexToken, Side: side,
			Size: size, FeeUsd: dec.FeeUsd, Price: closePrice,
		}, nil
	}

	// Underwater: the pool keeps all remaining collateral value.
	feeTokens := usdToTokenMin(marginFee, priceCMax)
	aC.FeeReserve = aC.FeeReserve.Add(feeTokens)
	aC.ReservedAmount = aC.ReservedAmount.Sub(pos.ReserveAmount)
	if aC.ReservedAmount.IsNegative() {
		aC.ReservedAmount = decimal.Zero
	}

	if side.IsLong() {
		aC.GuaranteedUsd = aC.GuaranteedUsd.Sub(pos.Size.Sub(pos.Collateral))
		aC.PoolAmount = aC.PoolAmount.Sub(feeTokens)
		if aC.PoolAmount.IsNegative() {
			return LiquidationReceipt{}, fmt.Errorf("%w: %s", ErrInsufficientPool, collateralToken)
		}
	} else {
		if marginFee.LessThan(pos.Collateral) {
			remaining := pos.Collateral.Sub(marginFee)
			aC.PoolAmount = aC.PoolAmount.Add(usdToTokenMin(remaining, priceCMax))
		}
		aI, err := t.asset(indexToken)
		if err != nil {
			return LiquidationReceipt{}, err
		}
		decreaseGlobalShort(aI, pos.Size)
	}

	size := pos.Size
	t.deletePosition(key)

	// Flat liquidation fee paid from the pool to the liquidator.
	liqFee := floorToDecimals(usdToTokenMin(l.params.LiquidationFeeUsd, priceCMax), cfgC.Decimals)
	if liqFee.IsPositive() {
		if liqFee.GreaterThan(aC.PoolAmount) {
			return LiquidationReceipt{}, fmt.Errorf("%w: %s", ErrInsufficientPool, collateralToken)
		}
		aC.PoolAmount = aC.PoolAmount.Sub(liqFee)
		t.transferOut(collateralToken, feeReceiver, liqFee)
	}

	if err := t.commit(); err != nil {
		return LiquidationReceipt{}, err
	}
	return LiquidationReceipt{
		Reason: reason, ReasonText: reason.String(),
		Account: account, CollateralToken: collateralToken, IndexToken: indexToken, Side: side,
		Size: size, FeeUsd: marginFee, LiquidatorFee: liqFee, Price: closePrice,
	}, nil
}
