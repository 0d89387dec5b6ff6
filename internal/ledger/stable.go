package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/feecurve"
)

// BuyReceipt reports a committed stable-unit mint. The external share-token
// collaborator mints Minted units to Receiver.
type BuyReceipt struct {
	Token     string          `json:"token"`
	Receiver  string          `json:"receiver"`
	AmountIn  decimal.Decimal `json:"amount_in"`
	Minted    decimal.Decimal `json:"minted"`
	FeeBps    int64           `json:"fee_bps"`
	FeeTokens decimal.Decimal `json:"fee_tokens"`
	Price     decimal.Decimal `json:"price"`
}

// SellReceipt reports a committed stable-unit redemption.
type SellReceipt struct {
	Token     string          `json:"token"`
	Burned    decimal.Decimal `json:"burned"`
	AmountOut decimal.Decimal `json:"amount_out"`
	FeeBps    int64           `json:"fee_bps"`
	FeeTokens decimal.Decimal `json:"fee_tokens"`
	Price     decimal.Decimal `json:"price"`
}

// SwapReceipt reports a committed pool swap.
type SwapReceipt struct {
	TokenIn   string          `json:"token_in"`
	TokenOut  string          `json:"token_out"`
	AmountIn  decimal.Decimal `json:"amount_in"`
	AmountOut decimal.Decimal `json:"amount_out"`
	FeeBps    int64           `json:"fee_bps"`
	FeeTokens decimal.Decimal `json:"fee_tokens"`
}

// BuyStableUnit mints stable units against tokens already transferred to the
// custodian. The deposit is measured by reconciliation, never taken from the
// request. The imbalance fee prices the mint: depositing an over-weighted
// asset costs more than base.
func (l *Ledger) BuyStableUnit(ctx context.Context, token, receiver string) (BuyReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := l.config(token)
	if err != nil {
		return BuyReceipt{}, err
	}

	t := l.begin()
	amountIn, err := t.transferIn(token)
	if err != nil {
		return BuyReceipt{}, err
	}
	if !amountIn.IsPositive() {
		return BuyReceipt{}, fmt.Errorf("%w: no %s received", ErrInvalidAmount, token)
	}
	if err := t.updateFunding(token, l.now()); err != nil {
		return BuyReceipt{}, err
	}

	price, err := l.price(ctx, token, false)
	if err != nil {
		return BuyReceipt{}, err
	}

	a, err := t.asset(token)
	if err != nil {
		return BuyReceipt{}, err
	}

	usdValue := tokenToUsdMin(amountIn, price)
	target := feecurve.TargetBacking(cfg.Weight, l.totalWeight, l.stableUnitSupply)
	feeBps := feecurve.BasisPoints(a.StableUnitsIssued, target, usdValue,
		l.params.MintBurnFeeBps, l.params.TaxBps, true)

	afterFee, feeTokens := feecurve.ApplyBasisPoints(amountIn, feeBps)
	minted := afterFee.Mul(price)

	a.StableUnitsIssued = a.StableUnitsIssued.Add(minted)
	if cfg.MaxStableUnitIssuance.IsPositive() &&
		a.StableUnitsIssued.GreaterThan(cfg.MaxStableUnitIssuance) {
		return BuyReceipt{}, fmt.Errorf("%w: %s issuance %s > %s",
			ErrMaxIssuanceExceeded, token, a.StableUnitsIssued, cfg.MaxStableUnitIssuance)
	}
	a.PoolAmount = a.PoolAmount.Add(afterFee)
	a.FeeReserve = a.FeeReserve.Add(feeTokens)
	t.supplyDelta = minted

	if err := t.commit(); err != nil {
		return BuyReceipt{}, err
	}
	return BuyReceipt{
		Token: token, Receiver: receiver, AmountIn: amountIn, Minted: minted,
		FeeBps: feeBps, FeeTokens: feeTokens, Price: price,
	}, nil
}

// SellStableUnit redeems stable units for the underlying token at the
// conservative low quote. Redemption must not draw the pool below its
// configured buffer nor below what open positions have reserved.
func (l *Ledger) SellStableUnit(ctx context.Context, token string, stableUnits decimal.Decimal, receiver string) (SellReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := l.config(token)
	if err != nil {
		return SellReceipt{}, err
	}
	if !stableUnits.IsPositive() {
		return SellReceipt{}, fmt.Errorf("%w: non-positive redemption", ErrInvalidAmount)
	}

	t := l.begin()
	if err := t.updateFunding(token, l.now()); err != nil {
		return SellReceipt{}, err
	}

	price, err := l.price(ctx, token, false)
	if err != nil {
		return SellReceipt{}, err
	}

	a, err := t.asset(token)
	if err != nil {
		return SellReceipt{}, err
	}

	redemption := stableUnits.Div(price)
	if redemption.GreaterThan(a.PoolAmount) {
		return SellReceipt{}, fmt.Errorf("%w: redemption %s > pool %s",
			ErrInsufficientPool, redemption, a.PoolAmount)
	}
	remaining := a.PoolAmount.Sub(redemption)
	if remaining.LessThan(a.ReservedAmount) {
		return SellReceipt{}, fmt.Errorf("%w: %s free balance below reserves",
			ErrReserveExceedsPool, token)
	}
	if remaining.LessThan(cfg.BufferAmount) {
		return SellReceipt{}, fmt.Errorf("%w: %s pool %s < buffer %s",
			ErrPoolBelowBuffer, token, remaining, cfg.BufferAmount)
	}

	target := feecurve.TargetBacking(cfg.Weight, l.totalWeight, l.stableUnitSupply)
	feeBps := feecurve.BasisPoints(a.StableUnitsIssued, target, stableUnits,
		l.params.MintBurnFeeBps, l.params.TaxBps, false)

	a.StableUnitsIssued = a.StableUnitsIssued.Sub(stableUnits)
	if a.StableUnitsIssued.IsNegative() {
		a.StableUnitsIssued = decimal.Zero
	}
	a.PoolAmount = remaining
	t.supplyDelta = stableUnits.Neg()

	afterFee, feeTokens := feecurve.ApplyBasisPoints(redemption, feeBps)
	paid := floorToDecimals(afterFee, cfg.Decimals)
	if !paid.IsPositive() {
		return SellReceipt{}, fmt.Errorf("%w: redemption rounds to zero", ErrInvalidAmount)
	}
	a.FeeReserve = a.FeeReserve.Add(feeTokens)
	// Fractional remainder below token precision stays in the pool.
	a.PoolAmount = a.PoolAmount.Add(afterFee.Sub(paid))

	t.transferOut(token, receiver, paid)
	if err := t.commit(); err != nil {
		return SellReceipt{}, err
	}
	return SellReceipt{
		Token: token, Burned: stableUnits, AmountOut: paid,
		FeeBps: feeBps, FeeTokens: feeTokens, Price: price,
	}, nil
}

// Swap exchanges one pool asset for another, moving the stable-unit debt
// between them. The fee is the worse of the two rebalancing legs; the
// outgoing pool must keep its buffer and reserves intact.
func (l *Ledger) Swap(ctx context.Context, tokenIn, tokenOut, receiver string) (SwapReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tokenIn == tokenOut {
		return SwapReceipt{}, fmt.Errorf("%w: swap %s for itself", ErrInvalidTokens, tokenIn)
	}
	cfgIn, err := l.config(tokenIn)
	if err != nil {
		return SwapReceipt{}, err
	}
	cfgOut, err := l.config(tokenOut)
	if err != nil {
		return SwapReceipt{}, err
	}

	t := l.begin()
	amountIn, err := t.transferIn(tokenIn)
	if err != nil {
		return SwapReceipt{}, err
	}
	if !amountIn.IsPositive() {
		return SwapReceipt{}, fmt.Errorf("%w: no %s received", ErrInvalidAmount, tokenIn)
	}
	now := l.now()
	if err := t.updateFunding(tokenIn, now); err != nil {
		return SwapReceipt{}, err
	}
	if err := t.updateFunding(tokenOut, now); err != nil {
		return SwapReceipt{}, err
	}

	priceIn, err := l.price(ctx, tokenIn, false)
	if err != nil {
		return SwapReceipt{}, err
	}
	priceOut, err := l.price(ctx, tokenOut, true)
	if err != nil {
		return SwapReceipt{}, err
	}

	aIn, err := t.asset(tokenIn)
	if err != nil {
		return SwapReceipt{}, err
	}
	aOut, err := t.asset(tokenOut)
	if err != nil {
		return SwapReceipt{}, err
	}

	usdValue := tokenToUsdMin(amountIn, priceIn)
	amountOut := amountIn.Mul(priceIn).Div(priceOut)

	bothStable := cfgIn.IsStable && cfgOut.IsStable
	baseBps, taxBps := l.params.SwapFeeBps, l.params.TaxBps
	if bothStable {
		baseBps, taxBps = l.params.StableSwapFeeBps, l.params.StableTaxBps
	}
	targetIn := feecurve.TargetBacking(cfgIn.Weight, l.totalWeight, l.stableUnitSupply)
	targetOut := feecurve.TargetBacking(cfgOut.Weight, l.totalWeight, l.stableUnitSupply)
	feeBps := feecurve.SwapBasisPoints(
		aIn.StableUnitsIssued, targetIn,
		aOut.StableUnitsIssued, targetOut,
		usdValue, baseBps, taxBps)

	aIn.StableUnitsIssued = aIn.StableUnitsIssued.Add(usdValue)
	if cfgIn.MaxStableUnitIssuance.IsPositive() &&
		aIn.StableUnitsIssued.GreaterThan(cfgIn.MaxStableUnitIssuance) {
		return SwapReceipt{}, fmt.Errorf("%w: %s issuance %s > %s",
			ErrMaxIssuanceExceeded, tokenIn, aIn.StableUnitsIssued, cfgIn.MaxStableUnitIssuance)
	}
	aOut.StableUnitsIssued = aOut.StableUnitsIssued.Sub(usdValue)
	if aOut.StableUnitsIssued.IsNegative() {
		aOut.StableUnitsIssued = decimal.Zero
	}

	aIn.PoolAmount = aIn.PoolAmount.Add(amountIn)
	if amountOut.GreaterThan(aOut.PoolAmount) {
		return SwapReceipt{}, fmt.Errorf("%w: out %s > pool %s",
			ErrInsufficientPool, amountOut, aOut.PoolAmount)
	}
	aOut.PoolAmount = aOut.PoolAmount.Sub(amountOut)
	if aOut.PoolAmount.LessThan(aOut.ReservedAmount) {
		return SwapReceipt{}, fmt.Errorf("%w: %s free balance below reserves",
			ErrReserveExceedsPool, tokenOut)
	}
	if aOut.PoolAmount.LessThan(cfgOut.BufferAmount) {
		return SwapReceipt{}, fmt.Errorf("%w: %s pool %s < buffer %s",
			ErrPoolBelowBuffer, tokenOut, aOut.PoolAmount, cfgOut.BufferAmount)
	}

	afterFee, feeTokens := feecurve.ApplyBasisPoints(amountOut, feeBps)
	paid := floorToDecimals(afterFee, cfgOut.Decimals)
	if !paid.IsPositive() {
		return SwapReceipt{}, fmt.Errorf("%w: swap output rounds to zero", ErrInvalidAmount)
	}
	aOut.FeeReserve = aOut.FeeReserve.Add(feeTokens)
	aOut.PoolAmount = aOut.PoolAmount.Add(afterFee.Sub(paid))

	t.transferOut(tokenOut, receiver, paid)
	if err := t.commit(); err != nil {
		return SwapReceipt{}, err
	}
	return SwapReceipt{
		TokenIn: tokenIn, TokenOut: tokenOut,
		AmountIn: amountIn, AmountOut: paid,
		FeeBps: feeBps, FeeTokens: feeTokens,
	}, nil
}

// WithdrawFees drains a token's accrued fee reserve to a receiver.
func (l *Ledger) WithdrawFees(token, receiver string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := l.config(token)
	if err != nil {
		return decimal.Zero, err
	}

	t := l.begin()
	a, err := t.asset(token)
	if err != nil {
		return decimal.Zero, err
	}
	paid := floorToDecimals(a.FeeReserve, cfg.Decimals)
	if !paid.IsPositive() {
		return decimal.Zero, nil
	}
	a.FeeReserve = a.FeeReserve.Sub(paid)

	t.transferOut(token, receiver, paid)
	if err := t.commit(); err != nil {
		return decimal.Zero, err
	}
	return paid, nil
}
