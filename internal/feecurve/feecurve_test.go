package feecurve_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/feecurve"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestBasisPoints_ZeroTargetReturnsBase(t *testing.T) {
	got := feecurve.BasisPoints(d(1000), decimal.Zero, d(100), 30, 50, true)
	if got != 30 {
		t.Errorf("expected base fee 30 with zero target, got %d", got)
	}
}

func TestBasisPoints_IncreaseBelowTargetIsBase(t *testing.T) {
	// current 100, target 1000, adding 100 stays well below target.
	got := feecurve.BasisPoints(d(100), d(1000), d(100), 30, 50, true)
	if got != 30 {
		t.Errorf("expected base fee 30, got %d", got)
	}
}

func TestBasisPoints_IncreaseAboveTargetSurcharged(t *testing.T) {
	// current 1000 == target, adding 500: average 1250, diff 250.
	// surcharge = 50 * 250 / 1000 = 12.
	got := feecurve.BasisPoints(d(1000), d(1000), d(500), 30, 50, true)
	if got != 42 {
		t.Errorf("expected 42 bps, got %d", got)
	}
}

func TestBasisPoints_SurchargeClampedAtTaxBps(t *testing.T) {
	// Extreme imbalance: diff far beyond target is clamped to one target
	// width, so the fee tops out at base + tax.
	got := feecurve.BasisPoints(d(10000), d(1000), d(5000), 30, 50, true)
	if got != 80 {
		t.Errorf("expected clamped fee 80 bps, got %d", got)
	}
}

func TestBasisPoints_IncreaseCrossingTargetDiscounted(t *testing.T) {
	// current 100, target 1000, adding 1000: next 1100 is past target but
	// the midpoint 600 sits below it, diff -400.
	// fee = 30 + 50 * -400 / 1000 = 10.
	got := feecurve.BasisPoints(d(100), d(1000), d(1000), 30, 50, true)
	if got != 10 {
		t.Errorf("expected discounted fee 10 bps, got %d", got)
	}
}

func TestBasisPoints_IncreaseDiscountFlooredAtZero(t *testing.T) {
	// Steep tax: the crossing discount would push the fee negative.
	got := feecurve.BasisPoints(d(0), d(1000), d(1001), 30, 100, true)
	if got != 0 {
		t.Errorf("expected floor 0, got %d", got)
	}
}

func TestBasisPoints_DecreaseOverweightRebated(t *testing.T) {
	// current 2000, target 1000: withdrawing moves toward target.
	got := feecurve.BasisPoints(d(2000), d(1000), d(500), 30, 50, false)
	if got >= 30 {
		t.Errorf("expected rebate below base 30, got %d", got)
	}
}

func TestBasisPoints_RebateFlooredAtZero(t *testing.T) {
	// Deep overweight: rebate would exceed base, floor at 0.
	got := feecurve.BasisPoints(d(10000), d(1000), d(100), 30, 500, false)
	if got != 0 {
		t.Errorf("expected floor 0, got %d", got)
	}
}

func TestBasisPoints_DecreaseUnderweightSurcharged(t *testing.T) {
	// current 500, target 1000: withdrawing moves further from target.
	got := feecurve.BasisPoints(d(500), d(1000), d(200), 30, 50, false)
	if got <= 30 {
		t.Errorf("expected surcharge above base 30, got %d", got)
	}
}

// Fee curve monotonicity: increasing an over-target asset's allocation is
// priced at >= base; decreasing it is priced at <= base as long as the
// withdrawal does not overshoot below target (overshooting is moving away
// from target again and is legitimately surcharged).
func TestBasisPoints_Monotonicity(t *testing.T) {
	target := d(1000)
	for _, current := range []decimal.Decimal{d(1000), d(1200), d(1500), d(2500), d(9000)} {
		for _, delta := range []decimal.Decimal{d(1), d(100), d(800)} {
			up := feecurve.BasisPoints(current, target, delta, 30, 50, true)
			if up < 30 {
				t.Errorf("current=%s delta=%s: increase fee %d below base", current, delta, up)
			}
			if current.Sub(delta).GreaterThanOrEqual(target) {
				down := feecurve.BasisPoints(current, target, delta, 30, 50, false)
				if down > 30 {
					t.Errorf("current=%s delta=%s: decrease fee %d above base", current, delta, down)
				}
			}
		}
	}
}

func TestTargetBacking(t *testing.T) {
	got := feecurve.TargetBacking(25, 100, d(40000))
	if !got.Equal(d(10000)) {
		t.Errorf("expected target 10000, got %s", got)
	}
	if !feecurve.TargetBacking(0, 100, d(40000)).IsZero() {
		t.Error("zero weight should yield zero target")
	}
	if !feecurve.TargetBacking(25, 0, d(40000)).IsZero() {
		t.Error("zero total weight should yield zero target")
	}
}

func TestSwapBasisPoints_TakesWorseLeg(t *testing.T) {
	// Incoming token already overweight (surcharge), outgoing token also
	// overweight (rebate): the surcharge leg wins.
	fee := feecurve.SwapBasisPoints(d(2000), d(1000), d(2000), d(1000), d(500), 30, 50)
	in := feecurve.BasisPoints(d(2000), d(1000), d(500), 30, 50, true)
	if fee != in {
		t.Errorf("expected worse leg %d, got %d", in, fee)
	}
}

func TestApplyBasisPoints_ExactSplit(t *testing.T) {
	amount := d(100)
	after, fee := feecurve.ApplyBasisPoints(amount, 30)
	if !after.Add(fee).Equal(amount) {
		t.Errorf("split not exact: %s + %s != %s", after, fee, amount)
	}
	if !fee.Equal(d(0.03)) {
		t.Errorf("expected fee 0.03, got %s", fee)
	}
}
