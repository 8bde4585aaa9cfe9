package calculators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yieldloop/internal/domain"
	"yieldloop/internal/ports"
)

func f(v float64) *float64 { return &v }

// marketRow builds a healthy snapshot row; tests mutate individual fields to
// exercise edge cases.
func marketRow(venue, token string, lendAPR, borrowAPR float64) *domain.RateRow {
	return &domain.RateRow{
		Timestamp:            1000,
		Venue:                venue,
		Token:                token,
		TokenContract:        "0x" + token + "@" + venue,
		LendAPR:              f(lendAPR),
		BorrowAPR:            f(borrowAPR),
		PriceUSD:             1.0,
		CollateralRatio:      0.80,
		LiquidationThreshold: 0.75,
		BorrowWeight:         1.0,
		BorrowFee:            f(0.0),
		AvailableBorrowUSD:   nil,
	}
}

func TestRegistry(t *testing.T) {
	for _, typ := range []domain.StrategyType{
		domain.StrategySingleLeg,
		domain.StrategyLinear,
		domain.StrategyRecursiveLoop,
	} {
		c, err := ForType(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, c.Type())
	}

	_, err := ForType(domain.StrategyType("delta_neutral"))
	assert.ErrorIs(t, err, ports.ErrUnknownStrategy)
}

func TestSingleLeg(t *testing.T) {
	calc := &SingleLeg{}

	t.Run("analyze", func(t *testing.T) {
		in := Inputs{CollateralA: marketRow("aave", "USDC", 0.05, 0.08)}
		res, err := calc.Analyze(in)
		require.NoError(t, err)

		assert.Equal(t, domain.Multipliers{LendA: 1}, res.Multipliers)
		assert.InDelta(t, 0.05, res.NetAPR, 1e-12)
		assert.True(t, math.IsInf(res.LiquidationDistance, 1))
		assert.True(t, math.IsInf(res.MaxDeployableUSD, 1))
		assert.True(t, res.Valid)
	})

	t.Run("missing lend APR is a hard failure", func(t *testing.T) {
		row := marketRow("aave", "USDC", 0, 0)
		row.LendAPR = nil
		_, err := calc.Analyze(Inputs{CollateralA: row})
		assert.ErrorIs(t, err, ports.ErrMissingRate)
	})

	t.Run("zero price skips the candidate", func(t *testing.T) {
		row := marketRow("aave", "USDC", 0.05, 0.08)
		row.PriceUSD = 0
		_, err := calc.Analyze(Inputs{CollateralA: row})
		assert.ErrorIs(t, err, ports.ErrDegenerateMarketData)
	})
}

func TestLinear(t *testing.T) {
	calc := &Linear{}

	collateral := marketRow("aave", "ETH", 0.03, 0.05)
	borrow := marketRow("aave", "USDC", 0.04, 0.09)
	borrow.BorrowFee = f(0.001)
	lendB := marketRow("morpho", "USDC", 0.12, 0.15)

	in := Inputs{
		SafetyMargin: 0.30,
		CollateralA:  collateral,
		BorrowA:      borrow,
		LendB:        lendB,
	}

	t.Run("multipliers", func(t *testing.T) {
		m, err := calc.Positions(in)
		require.NoError(t, err)

		// min(0.75, 0.80) / 1.30
		wantBorrow := 0.75 / 1.30
		assert.InDelta(t, 1.0, m.LendA, 1e-12)
		assert.InDelta(t, wantBorrow, m.BorrowA, 1e-12)
		assert.InDelta(t, wantBorrow, m.LendB, 1e-12)
		assert.Equal(t, 0.0, m.BorrowB)
	})

	t.Run("net APR", func(t *testing.T) {
		res, err := calc.Analyze(in)
		require.NoError(t, err)

		b := 0.75 / 1.30
		want := 1.0*0.03 + b*0.12 - b*(0.09+0.001)
		assert.InDelta(t, want, res.NetAPR, 1e-12)
		assert.Empty(t, res.Warnings)
	})

	t.Run("missing fee degrades to zero with a warning", func(t *testing.T) {
		noFee := *borrow
		noFee.BorrowFee = nil
		res, err := calc.Analyze(Inputs{SafetyMargin: 0.30, CollateralA: collateral, BorrowA: &noFee, LendB: lendB})
		require.NoError(t, err)

		b := 0.75 / 1.30
		want := 1.0*0.03 + b*0.12 - b*0.09
		assert.InDelta(t, want, res.NetAPR, 1e-12)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "borrow fee missing")
	})

	t.Run("missing borrow APR is a hard failure", func(t *testing.T) {
		noRate := *borrow
		noRate.BorrowAPR = nil
		_, err := calc.Analyze(Inputs{SafetyMargin: 0.30, CollateralA: collateral, BorrowA: &noRate, LendB: lendB})
		assert.ErrorIs(t, err, ports.ErrMissingRate)
	})

	t.Run("liquidity cap bounds deployable size", func(t *testing.T) {
		capped := *borrow
		capped.AvailableBorrowUSD = f(1_000_000)
		res, err := calc.Analyze(Inputs{SafetyMargin: 0.30, CollateralA: collateral, BorrowA: &capped, LendB: lendB})
		require.NoError(t, err)

		b := 0.75 / 1.30
		assert.InDelta(t, 1_000_000/b, res.MaxDeployableUSD, 1e-6)
	})

	t.Run("degenerate collateral skips candidate", func(t *testing.T) {
		bad := *collateral
		bad.LiquidationThreshold = 1e-12
		_, err := calc.Analyze(Inputs{SafetyMargin: 0.30, CollateralA: &bad, BorrowA: borrow, LendB: lendB})
		assert.ErrorIs(t, err, ports.ErrDegenerateMarketData)
	})
}

func TestRecursiveLoop_ConvergedMultipliers(t *testing.T) {
	calc := &RecursiveLoop{}

	// Concrete scenario: liq threshold 0.75 / weight 1.0 at venue A,
	// 0.19 / 1.0 at venue B, safety margin 0.30.
	collateralA := marketRow("navi", "SUI", 0.097, 0.12)
	collateralA.CollateralRatio = 0.80
	collateralA.LiquidationThreshold = 0.75

	borrowA := marketRow("navi", "USDC", 0.05, 0.195)
	lendB := marketRow("scallop", "USDC", 0.11, 0.17)
	lendB.CollateralRatio = 0.25
	lendB.LiquidationThreshold = 0.19
	borrowB := marketRow("scallop", "SUI", 0.04, 0.06)

	in := Inputs{
		SafetyMargin: 0.30,
		CollateralA:  collateralA,
		BorrowA:      borrowA,
		LendB:        lendB,
		BorrowB:      borrowB,
	}

	m, err := calc.Positions(in)
	require.NoError(t, err)

	rA := (0.75 / 1.0) / 1.30
	rB := (0.19 / 1.0) / 1.30

	// Closed-form identity of the geometric series.
	assert.InDelta(t, 1/(1-rA*rB), m.LendA, 1e-12)
	assert.InDelta(t, rA, m.BorrowA/m.LendA, 1e-12)
	assert.InDelta(t, rB, m.BorrowB/m.LendB, 1e-12)
	assert.Equal(t, m.BorrowA, m.LendB)

	// Reference values to three decimal places.
	assert.InDelta(t, 1.092, m.LendA, 1e-3)
	assert.InDelta(t, 0.630, m.BorrowA, 1e-3)
	assert.InDelta(t, 0.630, m.LendB, 1e-3)
	assert.InDelta(t, 0.092, m.BorrowB, 1e-3)
}

func TestRecursiveLoop_NetAPRAndLimits(t *testing.T) {
	calc := &RecursiveLoop{}

	collateralA := marketRow("navi", "SUI", 0.10, 0.12)
	borrowA := marketRow("navi", "USDC", 0.05, 0.06)
	borrowA.BorrowFee = f(0.002)
	borrowA.AvailableBorrowUSD = f(500_000)
	lendB := marketRow("scallop", "USDC", 0.09, 0.17)
	borrowB := marketRow("scallop", "SUI", 0.04, 0.03)
	borrowB.BorrowFee = f(0.001)
	borrowB.AvailableBorrowUSD = f(90_000)

	in := Inputs{
		SafetyMargin: 0.30,
		CollateralA:  collateralA,
		BorrowA:      borrowA,
		LendB:        lendB,
		BorrowB:      borrowB,
	}

	res, err := calc.Analyze(in)
	require.NoError(t, err)
	m := res.Multipliers

	want := (m.LendA*0.10 + m.LendB*0.09) - (m.BorrowA*0.06 + m.BorrowB*0.03) -
		(m.BorrowA*0.002 + m.BorrowB*0.001)
	assert.InDelta(t, want, res.NetAPR, 1e-12)

	// Both legs track liquidity, so the tighter one governs.
	wantMax := math.Min(500_000/m.BorrowA, 90_000/m.BorrowB)
	assert.InDelta(t, wantMax, res.MaxDeployableUSD, 1e-6)

	// With margin 0.30 on both venues the buffer is margin/(1+margin).
	assert.InDelta(t, 0.30/1.30, res.LiquidationDistance, 1e-9)
}

func TestRecursiveLoop_NonConvergent(t *testing.T) {
	calc := &RecursiveLoop{}

	// Thresholds high enough that r_A·r_B >= 1 with no safety margin.
	collateralA := marketRow("navi", "SUI", 0.10, 0.12)
	collateralA.CollateralRatio = 1.2
	collateralA.LiquidationThreshold = 1.1
	lendB := marketRow("scallop", "USDC", 0.09, 0.17)
	lendB.CollateralRatio = 1.2
	lendB.LiquidationThreshold = 1.1

	in := Inputs{
		SafetyMargin: 0.0,
		CollateralA:  collateralA,
		BorrowA:      marketRow("navi", "USDC", 0.05, 0.06),
		LendB:        lendB,
		BorrowB:      marketRow("scallop", "SUI", 0.04, 0.03),
	}

	_, err := calc.Positions(in)
	assert.ErrorIs(t, err, ports.ErrNotConvergent)

	_, err = calc.Analyze(in)
	assert.ErrorIs(t, err, ports.ErrNotConvergent)
}

func TestRecursiveLoop_LTVCapBuffer(t *testing.T) {
	calc := &RecursiveLoop{}

	// Naive r_A = (0.75/1.0)/1.0 = 0.75 exceeds the hard cap 0.70, so the
	// ratio must clamp to 0.70 × 0.995.
	collateralA := marketRow("navi", "SUI", 0.10, 0.12)
	collateralA.CollateralRatio = 0.70
	collateralA.LiquidationThreshold = 0.75
	lendB := marketRow("scallop", "USDC", 0.09, 0.17)
	lendB.CollateralRatio = 0.80
	lendB.LiquidationThreshold = 0.19

	in := Inputs{
		SafetyMargin: 0.0,
		CollateralA:  collateralA,
		BorrowA:      marketRow("navi", "USDC", 0.05, 0.06),
		LendB:        lendB,
		BorrowB:      marketRow("scallop", "SUI", 0.04, 0.03),
	}

	m, err := calc.Positions(in)
	require.NoError(t, err)

	rA := 0.70 * 0.995
	rB := 0.19
	assert.InDelta(t, 1/(1-rA*rB), m.LendA, 1e-12)
	assert.InDelta(t, rA, m.BorrowA/m.LendA, 1e-12)
}

func TestRecursiveLoop_MissingRateFailsLoudly(t *testing.T) {
	calc := &RecursiveLoop{}

	collateralA := marketRow("navi", "SUI", 0.10, 0.12)
	lendB := marketRow("scallop", "USDC", 0.09, 0.17)
	borrowB := marketRow("scallop", "SUI", 0.04, 0.03)
	borrowA := marketRow("navi", "USDC", 0.05, 0.06)
	borrowA.BorrowAPR = nil

	_, err := calc.Analyze(Inputs{
		SafetyMargin: 0.30,
		CollateralA:  collateralA,
		BorrowA:      borrowA,
		LendB:        lendB,
		BorrowB:      borrowB,
	})
	assert.ErrorIs(t, err, ports.ErrMissingRate)
}
