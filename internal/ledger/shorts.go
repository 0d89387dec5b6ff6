package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/model"
	"github.com/synthpool/margin-engine/internal/position"
)

// increaseGlobalShort folds a new short entry into the index token's
// aggregate short tracker, maintaining a volume-weighted average entry price
// with the same continuity rule individual positions use.
func increaseGlobalShort(aI *model.AssetState, cfgI model.AssetConfig,
	markPrice, sizeDelta decimal.Decimal,
) error {
	if aI.GlobalShortSize.IsZero() {
		aI.GlobalShortAveragePrice = markPrice
	} else {
		hasProfit := markPrice.LessThan(aI.GlobalShortAveragePrice)
		delta := aI.GlobalShortSize.
			Mul(aI.GlobalShortAveragePrice.Sub(markPrice).Abs()).
			Div(aI.GlobalShortAveragePrice)
		aI.GlobalShortAveragePrice = position.NextAveragePrice(aI.GlobalShortSize,
			aI.GlobalShortAveragePrice, markPrice, sizeDelta, false, hasProfit, delta)
	}
	aI.GlobalShortSize = aI.GlobalShortSize.Add(sizeDelta)
	if cfgI.MaxGlobalShortSize.IsPositive() && aI.GlobalShortSize.GreaterThan(cfgI.MaxGlobalShortSize) {
		return fmt.Errorf("%w: %s shorts %s > cap %s",
			ErrMaxShortsExceeded, cfgI.Symbol, aI.GlobalShortSize, cfgI.MaxGlobalShortSize)
	}
	return nil
}

// decreaseGlobalShort releases closed short size. The average price is left
// untouched; it only describes remaining open interest.
func decreaseGlobalShort(aI *model.AssetState, sizeDelta decimal.Decimal) {
	aI.GlobalShortSize = aI.GlobalShortSize.Sub(sizeDelta)
	if aI.GlobalShortSize.IsNegative() {
		aI.GlobalShortSize = decimal.Zero
	}
}

// GlobalShortDelta reports the aggregate unrealized PnL of all open shorts on
// a token at the maximized price: (hasProfit, |usd delta|). Shorts profit
// when the price falls below their average entry.
func (l *Ledger) GlobalShortDelta(ctx context.Context, token string) (bool, decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.assets[token]
	if !ok {
		return false, decimal.Decimal{}, fmt.Errorf("%w: %s", ErrTokenNotWhitelisted, token)
	}
	if a.GlobalShortSize.IsZero() || !a.GlobalShortAveragePrice.IsPositive() {
		return false, decimal.Zero, nil
	}
	markPrice, err := l.price(ctx, token, true)
	if err != nil {
		return false, decimal.Decimal{}, err
	}
	delta := a.GlobalShortSize.
		Mul(a.GlobalShortAveragePrice.Sub(markPrice).Abs()).
		Div(a.GlobalShortAveragePrice)
	return markPrice.LessThan(a.GlobalShortAveragePrice), delta, nil
}
