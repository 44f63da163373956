package health_test

import (
	"testing"

	"BattleArena/internal/health"
)

// ============================================================================
// Test: unfavorable moves (decay)
// ============================================================================

func TestCompute_LongFivePercentDropAt10x(t *testing.T) {
	// entry=2000, current=1900 is a -5% move; at 10x with decay 2.0 the
	// health hits exactly zero and the agent liquidates.
	res := health.Compute(health.Input{
		EntryPrice:   2000,
		CurrentPrice: 1900,
		Leverage:     10,
		Long:         true,
		PriorHealth:  100,
		Collateral:   100_000,
	})

	if res.Health != 0 {
		t.Errorf("health: got %f, want 0", res.Health)
	}
	if !res.Liquidated {
		t.Error("expected liquidation at health 0")
	}
	if res.PnL != -50_000 {
		t.Errorf("pnl: got %d, want -50000", res.PnL)
	}
}

func TestCompute_DecayFromFullBaseNotPrior(t *testing.T) {
	// Decay is computed from the 100 base, so prior health does not
	// soften an unfavorable move.
	res := health.Compute(health.Input{
		EntryPrice:   2000,
		CurrentPrice: 1980,
		Leverage:     5,
		Long:         true,
		PriorHealth:  40,
	})

	// -1% * 5x * 2.0 = 10 points off the base
	if res.Health != 90 {
		t.Errorf("health: got %f, want 90", res.Health)
	}
	if res.Liquidated {
		t.Error("should not liquidate at health 90")
	}
}

func TestCompute_ShortSideDecaysOnRise(t *testing.T) {
	// A 0.5% rise hurts the short: 0.5 * 5x * 2.0 = 5 points off the base.
	res := health.Compute(health.Input{
		EntryPrice:   2000,
		CurrentPrice: 2010,
		Leverage:     5,
		Long:         false,
		PriorHealth:  100,
	})

	if res.Health != 95 {
		t.Errorf("health: got %f, want 95", res.Health)
	}
	if res.Liquidated {
		t.Error("should not liquidate at health 95")
	}
}

func TestCompute_ShortSideGainsOnDrop(t *testing.T) {
	res := health.Compute(health.Input{
		EntryPrice:   2000,
		CurrentPrice: 1900,
		Leverage:     10,
		Long:         false,
		PriorHealth:  50,
		Collateral:   100_000,
	})

	// +5% favorable * 10x * 0.5 = +25 from prior
	if res.Health != 75 {
		t.Errorf("health: got %f, want 75", res.Health)
	}
	if res.PnL != 50_000 {
		t.Errorf("pnl: got %d, want 50000", res.PnL)
	}
}

func TestCompute_HealthClampedToZero(t *testing.T) {
	res := health.Compute(health.Input{
		EntryPrice:   2000,
		CurrentPrice: 1000,
		Leverage:     50,
		Long:         true,
		PriorHealth:  100,
	})

	if res.Health != 0 {
		t.Errorf("health: got %f, want 0 (clamped)", res.Health)
	}
	if !res.Liquidated {
		t.Error("expected liquidation")
	}
}

// ============================================================================
// Test: favorable moves (recovery)
// ============================================================================

func TestCompute_RecoveryScalesFromPrior(t *testing.T) {
	// +2% favorable at 10x with recovery 0.5 adds 10 points to prior.
	res := health.Compute(health.Input{
		EntryPrice:   2000,
		CurrentPrice: 2040,
		Leverage:     10,
		Long:         true,
		PriorHealth:  60,
	})

	if res.Health != 70 {
		t.Errorf("health: got %f, want 70", res.Health)
	}
	if res.Liquidated {
		t.Error("favorable move must never liquidate")
	}
}

func TestCompute_RecoveryClampedToHundred(t *testing.T) {
	res := health.Compute(health.Input{
		EntryPrice:   2000,
		CurrentPrice: 2400,
		Leverage:     50,
		Long:         true,
		PriorHealth:  95,
	})

	if res.Health != 100 {
		t.Errorf("health: got %f, want 100 (clamped)", res.Health)
	}
}

// ============================================================================
// Test: near-zero moves (deadband)
// ============================================================================

func TestCompute_DeadbandHoldsLowLeverage(t *testing.T) {
	// +0.05% sits inside the deadband; at 20x nothing changes.
	res := health.Compute(health.Input{
		EntryPrice:   2000,
		CurrentPrice: 2001,
		Leverage:     20,
		Long:         true,
		PriorHealth:  80,
	})

	if res.Health != 80 {
		t.Errorf("health: got %f, want 80 (deadband hold)", res.Health)
	}
}

func TestCompute_DeadbandBleedsHighLeverage(t *testing.T) {
	res := health.Compute(health.Input{
		EntryPrice:   2000,
		CurrentPrice: 2001,
		Leverage:     50,
		Long:         true,
		PriorHealth:  100,
	})

	if res.Health != 99.9 {
		t.Errorf("health: got %f, want 99.9 (funding bleed)", res.Health)
	}
}

func TestCompute_DeadbandBleedStopsAtFloor(t *testing.T) {
	res := health.Compute(health.Input{
		EntryPrice:   2000,
		CurrentPrice: 2001,
		Leverage:     50,
		Long:         true,
		PriorHealth:  98.05,
	})

	if res.Health != 98 {
		t.Errorf("health: got %f, want 98 (floor)", res.Health)
	}
}

// ============================================================================
// Test: degenerate inputs and determinism
// ============================================================================

func TestCompute_NonPositivePricesKeepPrior(t *testing.T) {
	for _, in := range []health.Input{
		{EntryPrice: 0, CurrentPrice: 2000, Leverage: 10, Long: true, PriorHealth: 55},
		{EntryPrice: 2000, CurrentPrice: 0, Leverage: 10, Long: true, PriorHealth: 55},
		{EntryPrice: -1, CurrentPrice: -1, Leverage: 10, Long: true, PriorHealth: 55},
	} {
		res := health.Compute(in)
		if res.Health != 55 {
			t.Errorf("health: got %f, want prior 55 for input %+v", res.Health, in)
		}
		if res.Liquidated {
			t.Error("degenerate input must not liquidate")
		}
	}
}

func TestCompute_Deterministic(t *testing.T) {
	in := health.Input{
		EntryPrice:   1234.56,
		CurrentPrice: 1200.01,
		Leverage:     20,
		Long:         true,
		PriorHealth:  87.3,
		Collateral:   250_000,
	}

	first := health.Compute(in)
	for i := 0; i < 1000; i++ {
		if got := health.Compute(in); got != first {
			t.Fatalf("iteration %d: got %+v, want %+v", i, got, first)
		}
	}
}
