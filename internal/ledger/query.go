package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/feecurve"
	"github.com/synthpool/margin-engine/internal/model"
	"github.com/synthpool/margin-engine/internal/position"
)

// GetPosition returns a copy of the position, or ErrEmptyPosition.
func (l *Ledger) GetPosition(account, collateralToken, indexToken string, side model.Side) (model.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := model.PositionKey(account, collateralToken, indexToken, side)
	p, ok := l.positions[key]
	if !ok || !p.Size.IsPositive() {
		return model.Position{}, fmt.Errorf("%w: %s", ErrEmptyPosition, key)
	}
	return *p, nil
}

// Positions returns copies of every open position for an account, or all open
// positions when account is empty.
func (l *Ledger) Positions(account string) []model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.Position, 0)
	for _, p := range l.positions {
		if account != "" && p.Account != account {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// PositionDelta reports the unrealized PnL of a position at the closing mark,
// with the min-profit gate applied.
func (l *Ledger) PositionDelta(ctx context.Context, account, collateralToken, indexToken string,
	side model.Side,
) (bool, decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := model.PositionKey(account, collateralToken, indexToken, side)
	p, ok := l.positions[key]
	if !ok || !p.Size.IsPositive() {
		return false, decimal.Decimal{}, fmt.Errorf("%w: %s", ErrEmptyPosition, key)
	}
	cfgI, err := l.config(indexToken)
	if err != nil {
		return false, decimal.Decimal{}, err
	}
	markPrice, err := l.price(ctx, indexToken, !side.IsLong())
	if err != nil {
		return false, decimal.Decimal{}, err
	}
	hasProfit, delta := position.Delta(p.Size, p.AveragePrice, markPrice, side.IsLong(),
		cfgI.MinProfitBps, l.params.MinProfitTime, p.LastIncreaseTime, l.now())
	return hasProfit, delta, nil
}

// PositionLeverage returns the position's leverage in basis points.
func (l *Ledger) PositionLeverage(account, collateralToken, indexToken string, side model.Side) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := model.PositionKey(account, collateralToken, indexToken, side)
	p, ok := l.positions[key]
	if !ok || !p.Size.IsPositive() {
		return 0, fmt.Errorf("%w: %s", ErrEmptyPosition, key)
	}
	return position.LeverageBps(p.Size, p.Collateral), nil
}

// ValidateLiquidation is the dry-run used by keepers to scan for liquidatable
// positions. It never mutates state and never errors on healthy positions;
// the reason tells the caller whether LiquidatePosition would succeed.
func (l *Ledger) ValidateLiquidation(ctx context.Context, account, collateralToken, indexToken string,
	side model.Side,
) (position.LiquidationReason, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := model.PositionKey(account, collateralToken, indexToken, side)
	p, ok := l.positions[key]
	if !ok || !p.Size.IsPositive() {
		return position.ReasonNone, fmt.Errorf("%w: %s", ErrEmptyPosition, key)
	}
	cfgI, err := l.config(indexToken)
	if err != nil {
		return position.ReasonNone, err
	}
	a, ok := l.assets[collateralToken]
	if !ok {
		return position.ReasonNone, fmt.Errorf("%w: %s", ErrTokenNotWhitelisted, collateralToken)
	}
	markPrice, err := l.price(ctx, indexToken, !side.IsLong())
	if err != nil {
		return position.ReasonNone, err
	}
	reason, _ := position.CheckLiquidation(p.Size, p.Collateral, p.AveragePrice, markPrice,
		side.IsLong(), p.EntryFundingRate, a.CumulativeFundingRate,
		l.params.MarginFeeBps, l.params.MaxLeverageBps,
		cfgI.MinProfitBps, l.params.MinProfitTime, p.LastIncreaseTime, l.now())
	return reason, nil
}

// AssetState returns a copy of a token's pool-side accounting.
func (l *Ledger) AssetState(token string) (model.AssetState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.assets[token]
	if !ok {
		return model.AssetState{}, fmt.Errorf("%w: %s", ErrTokenNotWhitelisted, token)
	}
	out := *a
	out.RecordedBalance = l.balances[token]
	return out, nil
}

// AssetConfig returns a token's whitelist entry.
func (l *Ledger) AssetConfig(token string) (model.AssetConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config(token)
}

// StableUnitSupply returns total outstanding stable units.
func (l *Ledger) StableUnitSupply() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stableUnitSupply
}

// TargetBacking returns the USD value of stable-unit debt a token should
// carry given its weight.
func (l *Ledger) TargetBacking(token string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := l.config(token)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return feecurve.TargetBacking(cfg.Weight, l.totalWeight, l.stableUnitSupply), nil
}

// Snapshot captures every whitelisted token's state for reporting and
// persistence, sorted by symbol.
func (l *Ledger) Snapshot() []model.PoolSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.PoolSnapshot, 0, len(l.assets))
	for sym, a := range l.assets {
		out = append(out, model.PoolSnapshot{
			Symbol:                  sym,
			Config:                  l.configs[sym],
			PoolAmount:              a.PoolAmount,
			ReservedAmount:          a.ReservedAmount,
			FeeReserve:              a.FeeReserve,
			GuaranteedUsd:           a.GuaranteedUsd,
			StableUnitsIssued:       a.StableUnitsIssued,
			CumulativeFundingRate:   a.CumulativeFundingRate,
			GlobalShortSize:         a.GlobalShortSize,
			GlobalShortAveragePrice: a.GlobalShortAveragePrice,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// PoolValueUsd prices the whole pool in USD: the guaranteed size of longs
// plus the non-reserved pool balance at the chosen price bound, minus the
// aggregate unrealized short PnL owed to (or from) short holders.
func (l *Ledger) PoolValueUsd(ctx context.Context, maximize bool) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := decimal.Zero
	for sym, a := range l.assets {
		p, err := l.price(ctx, sym, maximize)
		if err != nil {
			return decimal.Decimal{}, err
		}
		free := a.PoolAmount.Sub(a.ReservedAmount)
		val := a.GuaranteedUsd.Add(free.Mul(p))
		if a.GlobalShortSize.IsPositive() && a.GlobalShortAveragePrice.IsPositive() {
			delta := a.GlobalShortSize.
				Mul(a.GlobalShortAveragePrice.Sub(p).Abs()).
				Div(a.GlobalShortAveragePrice)
			if p.LessThan(a.GlobalShortAveragePrice) {
				val = val.Sub(delta) // shorts in profit, owed from pool
			} else {
				val = val.Add(delta)
			}
		}
		total = total.Add(val)
	}
	return total, nil
}
