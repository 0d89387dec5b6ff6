package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/model"
)

// Restore replaces the ledger's state wholesale from persisted records. The
// recorded custodian balance for each token comes from the persisted
// RecordedBalance, which includes off-pool short collateral; anything the
// custodian holds beyond that becomes the next operation's measured input.
// Rows persisted without a recorded balance fall back to pool plus fee
// reserve, the floor the recorded balance can never sit below. Called once
// at startup before serving.
func (l *Ledger) Restore(configs []model.AssetConfig, states []model.AssetState,
	positions []model.Position, supply decimal.Decimal,
) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.configs = make(map[string]model.AssetConfig, len(configs))
	l.assets = make(map[string]*model.AssetState, len(states))
	l.positions = make(map[string]*model.Position, len(positions))
	l.balances = make(map[string]decimal.Decimal, len(states))
	l.totalWeight = 0

	for _, cfg := range configs {
		l.configs[cfg.Symbol] = cfg
		l.totalWeight += cfg.Weight
		l.assets[cfg.Symbol] = &model.AssetState{Symbol: cfg.Symbol}
	}
	for _, a := range states {
		st := a
		// The balances map is the live copy; AssetState re-derives it.
		st.RecordedBalance = decimal.Zero
		l.assets[a.Symbol] = &st
		recorded := a.RecordedBalance
		if floor := a.PoolAmount.Add(a.FeeReserve); recorded.LessThan(floor) {
			recorded = floor
		}
		l.balances[a.Symbol] = recorded
	}
	for _, p := range positions {
		pos := p
		l.positions[p.Key()] = &pos
	}
	l.stableUnitSupply = supply
}
