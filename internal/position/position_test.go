package position_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/position"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Past the min-profit window relative to t0.
	tLater = t0.Add(2 * time.Hour)
)

func TestDelta_LongProfitAndLoss(t *testing.T) {
	// $90 long at average price 40000.
	size, avg := d(90), d(40000)

	hasProfit, delta := position.Delta(size, avg, d(44000), true, 0, 0, t0, t0)
	if !hasProfit {
		t.Fatal("expected profit with price above average")
	}
	if !delta.Equal(d(9)) {
		t.Errorf("expected delta 9, got %s", delta)
	}

	hasProfit, delta = position.Delta(size, avg, d(36000), true, 0, 0, t0, t0)
	if hasProfit {
		t.Fatal("expected loss with price below average")
	}
	if !delta.Equal(d(9)) {
		t.Errorf("expected delta 9, got %s", delta)
	}
}

func TestDelta_ShortDirection(t *testing.T) {
	size, avg := d(100), d(40000)

	hasProfit, _ := position.Delta(size, avg, d(39000), false, 0, 0, t0, t0)
	if !hasProfit {
		t.Error("short should profit when price falls")
	}
	hasProfit, _ = position.Delta(size, avg, d(41000), false, 0, 0, t0, t0)
	if hasProfit {
		t.Error("short should lose when price rises")
	}
}

// Example scenario from the design review: a $90 long at 40000 marked at
// 41000 is ~$2.25 of profit, but 1000/40000 = 250bps of movement is below a
// 300bps min-profit threshold, so the gate reports zero until minProfitTime
// elapses. Losses are never gated.
func TestDelta_MinProfitGate(t *testing.T) {
	size, avg := d(90), d(40000)
	const minProfitBps = 300
	minProfitTime := time.Hour

	hasProfit, delta := position.Delta(size, avg, d(41000), true,
		minProfitBps, minProfitTime, t0, t0.Add(time.Minute))
	if !hasProfit {
		t.Fatal("direction is still profitable")
	}
	if !delta.IsZero() {
		t.Errorf("gated profit should be zero, got %s", delta)
	}

	// After minProfitTime the same move is reported in full.
	_, delta = position.Delta(size, avg, d(41000), true,
		minProfitBps, minProfitTime, t0, tLater)
	if !delta.Equal(d(2.25)) {
		t.Errorf("expected 2.25 after window, got %s", delta)
	}

	// A loss of the same magnitude is never gated.
	hasProfit, delta = position.Delta(size, avg, d(39000), true,
		minProfitBps, minProfitTime, t0, t0.Add(time.Minute))
	if hasProfit {
		t.Fatal("expected loss")
	}
	if !delta.Equal(d(2.25)) {
		t.Errorf("loss should be reported in full, got %s", delta)
	}
}

func TestDelta_GateOpensAboveThreshold(t *testing.T) {
	// 400bps move > 300bps threshold: profit reported even inside window.
	_, delta := position.Delta(d(90), d(40000), d(41600), true,
		300, time.Hour, t0, t0.Add(time.Minute))
	if delta.IsZero() {
		t.Error("move above threshold should not be gated")
	}
}

// Average-price continuity: PnL marked at the same price immediately after
// an increase must equal PnL immediately before.
func TestNextAveragePrice_Continuity(t *testing.T) {
	cases := []struct {
		name      string
		isLong    bool
		size      decimal.Decimal
		avg       decimal.Decimal
		mark      decimal.Decimal
		sizeDelta decimal.Decimal
	}{
		{"long in profit", true, d(1000), d(40000), d(44000), d(500)},
		{"long in loss", true, d(1000), d(40000), d(36000), d(250)},
		{"short in profit", false, d(800), d(40000), d(37000), d(400)},
		{"short in loss", false, d(800), d(40000), d(43000), d(1600)},
		{"tiny increase", true, d(90), d(40000), d(41000), d(1)},
	}

	tolerance := d(0.000001)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hasProfit, delta := position.Delta(tc.size, tc.avg, tc.mark, tc.isLong, 0, 0, t0, tLater)
			next := position.NextAveragePrice(tc.size, tc.avg, tc.mark, tc.sizeDelta, tc.isLong, hasProfit, delta)

			nextSize := tc.size.Add(tc.sizeDelta)
			afterProfit, afterDelta := position.Delta(nextSize, next, tc.mark, tc.isLong, 0, 0, t0, tLater)

			if !afterDelta.IsZero() && afterProfit != hasProfit {
				t.Fatalf("profit direction flipped: before=%v after=%v", hasProfit, afterProfit)
			}
			if afterDelta.Sub(delta).Abs().GreaterThan(tolerance) {
				t.Errorf("PnL not preserved: before=%s after=%s (next avg %s)",
					delta, afterDelta, next)
			}
		})
	}
}

func TestFundingFee(t *testing.T) {
	// 1000 USD position, 600 rate points = 600/1e6 = 0.06%.
	fee := position.FundingFee(d(1000), 1600, 1000)
	if !fee.Equal(d(0.6)) {
		t.Errorf("expected funding fee 0.6, got %s", fee)
	}
	if !position.FundingFee(d(1000), 1000, 1000).IsZero() {
		t.Error("no accrual between identical rates")
	}
	if !position.FundingFee(decimal.Zero, 1600, 1000).IsZero() {
		t.Error("no funding on zero size")
	}
}

func TestMarginFee(t *testing.T) {
	fee := position.MarginFee(d(1000), 10)
	if !fee.Equal(d(1)) {
		t.Errorf("expected margin fee 1, got %s", fee)
	}
}

func TestLeverageBps(t *testing.T) {
	if got := position.LeverageBps(d(900), d(10)); got != 900_000 {
		t.Errorf("expected 90x = 900000 bps, got %d", got)
	}
	if got := position.LeverageBps(d(900), decimal.Zero); got != 0 {
		t.Errorf("zero collateral guards to 0, got %d", got)
	}
}

func TestCheckLiquidation_Underwater(t *testing.T) {
	// $1000 long at 40000, $20 collateral, price falls 4% → $40 loss.
	reason, _ := position.CheckLiquidation(
		d(1000), d(20), d(40000), d(38400), true,
		0, 0, 10, 500_000, 0, 0, t0, tLater)
	if reason != position.ReasonUnderwater {
		t.Errorf("expected Underwater, got %s", reason)
	}
}

func TestCheckLiquidation_MaxLeverageBreach(t *testing.T) {
	// $1000 long, $15 collateral, small loss: remaining ≈ 14 - fee, still
	// positive, but leverage > 50x.
	reason, _ := position.CheckLiquidation(
		d(1000), d(15), d(40000), d(39960), true,
		0, 0, 10, 500_000, 0, 0, t0, tLater)
	if reason != position.ReasonMaxLeverageBreach {
		t.Errorf("expected MaxLeverageBreach, got %s", reason)
	}
}

func TestCheckLiquidation_Healthy(t *testing.T) {
	reason, fee := position.CheckLiquidation(
		d(1000), d(100), d(40000), d(40400), true,
		0, 0, 10, 500_000, 0, 0, t0, tLater)
	if reason != position.ReasonNone {
		t.Errorf("expected None, got %s", reason)
	}
	if !fee.Equal(d(1)) {
		t.Errorf("expected margin fee 1, got %s", fee)
	}
}

// Exhaustive threshold check over randomized (size, collateral, price)
// triples: the reason must follow sign(remaining) and the leverage bound
// exactly.
func TestCheckLiquidation_RandomizedThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const (
		marginFeeBps   = 10
		maxLeverageBps = 500_000 // 50x
	)
	avg := d(40000)

	for i := 0; i < 2000; i++ {
		size := d(float64(rng.Intn(100_000)+1) / 10)
		collateral := d(float64(rng.Intn(20_000)+1) / 10)
		mark := d(float64(rng.Intn(40_000) + 20_000))

		reason, marginFee := position.CheckLiquidation(
			size, collateral, avg, mark, true,
			0, 0, marginFeeBps, maxLeverageBps, 0, 0, t0, tLater)

		hasProfit, delta := position.Delta(size, avg, mark, true, 0, 0, t0, tLater)
		remaining := collateral.Sub(marginFee)
		if hasProfit {
			remaining = remaining.Add(delta)
		} else {
			remaining = remaining.Sub(delta)
		}

		var want position.LiquidationReason
		switch {
		case remaining.IsNegative():
			want = position.ReasonUnderwater
		case remaining.IsZero(),
			position.LeverageBps(size, remaining) > maxLeverageBps:
			want = position.ReasonMaxLeverageBreach
		default:
			want = position.ReasonNone
		}

		if reason != want {
			t.Fatalf("case %d: size=%s collateral=%s mark=%s remaining=%s: got %s want %s",
				i, size, collateral, mark, remaining, reason, want)
		}
	}
}
