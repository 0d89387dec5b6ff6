package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// SolvencyReport describes one token's accounting against the custodian.
type SolvencyReport struct {
	Token      string          `json:"token"`
	Held       decimal.Decimal `json:"held"`     // measured custodian balance
	Recorded   decimal.Decimal `json:"recorded"` // pool + fee reserve
	Surplus    decimal.Decimal `json:"surplus"`  // held - recorded, unattributed inflow
	PoolAmount decimal.Decimal `json:"pool_amount"`
	Reserved   decimal.Decimal `json:"reserved"`
	Solvent    bool            `json:"solvent"`
}

// CheckSolvency verifies, for every whitelisted token, that the custodian
// holds at least what the books record (pool plus fee reserve) and that
// reserved never exceeds pool. A violation means value left the system
// outside an operation and is returned as an error alongside the full report.
func (l *Ledger) CheckSolvency() ([]SolvencyReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reports := make([]SolvencyReport, 0, len(l.assets))
	var firstErr error
	for sym, a := range l.assets {
		held := l.custodian.Balance(sym)
		recorded := a.PoolAmount.Add(a.FeeReserve)
		r := SolvencyReport{
			Token:      sym,
			Held:       held,
			Recorded:   recorded,
			Surplus:    held.Sub(recorded),
			PoolAmount: a.PoolAmount,
			Reserved:   a.ReservedAmount,
			Solvent:    true,
		}
		if recorded.GreaterThan(held) {
			r.Solvent = false
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s recorded %s > held %s",
					ErrBalanceDeficit, sym, recorded, held)
			}
		}
		if a.ReservedAmount.GreaterThan(a.PoolAmount) {
			r.Solvent = false
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s reserved %s > pool %s",
					ErrReserveExceedsPool, sym, a.ReservedAmount, a.PoolAmount)
			}
		}
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Token < reports[j].Token })
	return reports, firstErr
}
