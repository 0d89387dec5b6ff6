package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// updateFunding accrues the cumulative funding rate on the staged state of
// one token. The per-interval rate is proportional to reserve utilization:
// factor * reserved / pool. Only whole elapsed intervals accrue; the
// remainder carries to the next accrual.
func (t *txn) updateFunding(token string, now time.Time) error {
	a, err := t.asset(token)
	if err != nil {
		return err
	}

	interval := t.l.params.FundingInterval
	if interval <= 0 {
		return nil
	}
	if a.LastFundingTime.IsZero() {
		a.LastFundingTime = now.Truncate(interval)
		return nil
	}
	if now.Before(a.LastFundingTime.Add(interval)) {
		return nil
	}

	intervals := int64(now.Sub(a.LastFundingTime) / interval)

	factor := t.l.params.FundingRateFactor
	if cfg, ok := t.l.configs[token]; ok && cfg.IsStable {
		factor = t.l.params.StableFundingRateFactor
	}

	if a.PoolAmount.IsPositive() {
		rate := decimal.NewFromInt(factor).
			Mul(a.ReservedAmount).
			Mul(decimal.NewFromInt(intervals)).
			Div(a.PoolAmount).
			IntPart()
		a.CumulativeFundingRate += rate
	}
	a.LastFundingTime = a.LastFundingTime.Add(time.Duration(intervals) * interval)
	return nil
}

// UpdateFunding accrues funding for one token and commits. The scheduler
// calls this periodically; position operations also accrue inline so rates
// are current before fees are charged.
func (l *Ledger) UpdateFunding(token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.begin()
	if err := t.updateFunding(token, l.now()); err != nil {
		return err
	}
	return t.commit()
}

// UpdateAllFunding accrues funding for every whitelisted token.
func (l *Ledger) UpdateAllFunding() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.begin()
	now := l.now()
	for sym := range l.configs {
		if err := t.updateFunding(sym, now); err != nil {
			return err
		}
	}
	return t.commit()
}
