package calculators

import (
	"fmt"
	"math"

	"yieldloop/internal/domain"
	"yieldloop/internal/ports"
)

// defaultLTVCapBuffer tightens a borrow ratio that would breach the venue's
// hard collateral cap, when the caller does not supply a buffer.
const defaultLTVCapBuffer = 0.995

// RecursiveLoop is the four-leg self-reinforcing strategy: lend token1 at A,
// borrow token2 from A, lend token2 at B, borrow token1 from B, re-lend at A.
// Each iteration multiplies exposure by r_A·r_B, so the total converges as a
// geometric series when r_A·r_B < 1:
//
//	L_A = 1 / (1 − r_A·r_B)
//	B_A = L_A · r_A
//	L_B = B_A
//	B_B = L_B · r_B
type RecursiveLoop struct{}

func (r *RecursiveLoop) Type() domain.StrategyType { return domain.StrategyRecursiveLoop }

// loopRatio derives one venue's per-iteration borrow ratio from its
// liquidation threshold, then clamps it when the naive ratio would push
// effective LTV above the venue's hard collateral cap. Being safe against
// liquidation is not enough: the protocol refuses borrows past the cap.
func loopRatio(collateral *domain.RateRow, safetyMargin, capBuffer float64) float64 {
	if capBuffer <= 0 {
		capBuffer = defaultLTVCapBuffer
	}
	ratio := (collateral.LiquidationThreshold / collateral.BorrowWeight) / (1 + safetyMargin)
	hardCap := collateral.CollateralRatio / collateral.BorrowWeight
	if ratio > hardCap {
		ratio = hardCap * capBuffer
	}
	return ratio
}

func (r *RecursiveLoop) Positions(in Inputs) (domain.Multipliers, error) {
	if err := checkCollateralData(in.CollateralA); err != nil {
		return domain.Multipliers{}, err
	}
	if err := checkLegData(in.BorrowA); err != nil {
		return domain.Multipliers{}, err
	}
	if err := checkCollateralData(in.LendB); err != nil {
		return domain.Multipliers{}, err
	}
	if err := checkLegData(in.BorrowB); err != nil {
		return domain.Multipliers{}, err
	}

	rA := loopRatio(in.CollateralA, in.SafetyMargin, in.LTVCapBuffer)
	rB := loopRatio(in.LendB, in.SafetyMargin, in.LTVCapBuffer)

	if rA*rB >= 1 {
		return domain.Multipliers{}, fmt.Errorf("%w: r_A=%.4f r_B=%.4f", ports.ErrNotConvergent, rA, rB)
	}

	lendA := 1 / (1 - rA*rB)
	borrowA := lendA * rA
	lendB := borrowA
	borrowB := lendB * rB

	return domain.Multipliers{
		LendA:   lendA,
		BorrowA: borrowA,
		LendB:   lendB,
		BorrowB: borrowB,
	}, nil
}

func (r *RecursiveLoop) NetAPR(m domain.Multipliers, in Inputs) (float64, error) {
	apr, _, err := r.netAPRWithWarnings(m, in)
	return apr, err
}

func (r *RecursiveLoop) netAPRWithWarnings(m domain.Multipliers, in Inputs) (float64, []string, error) {
	lendA, err := requireLendAPR(in.CollateralA)
	if err != nil {
		return 0, nil, err
	}
	borrowA, err := requireBorrowAPR(in.BorrowA)
	if err != nil {
		return 0, nil, err
	}
	lendB, err := requireLendAPR(in.LendB)
	if err != nil {
		return 0, nil, err
	}
	borrowB, err := requireBorrowAPR(in.BorrowB)
	if err != nil {
		return 0, nil, err
	}

	var warnings []string
	feeA := optionalBorrowFee(in.BorrowA, &warnings)
	feeB := optionalBorrowFee(in.BorrowB, &warnings)

	gross := m.LendA*lendA + m.LendB*lendB
	costs := m.BorrowA*borrowA + m.BorrowB*borrowB
	fees := m.BorrowA*feeA + m.BorrowB*feeB

	return gross - costs - fees, warnings, nil
}

func (r *RecursiveLoop) Analyze(in Inputs) (*Result, error) {
	m, err := r.Positions(in)
	if err != nil {
		return nil, err
	}

	netAPR, warnings, err := r.netAPRWithWarnings(m, in)
	if err != nil {
		return nil, err
	}

	// The buffer to liquidation is the min over both borrow legs of how far
	// the held ratio sits below the liquidation ratio.
	distA := 1 - (m.BorrowA/m.LendA)*in.CollateralA.BorrowWeight/in.CollateralA.LiquidationThreshold
	distB := 1 - (m.BorrowB/m.LendB)*in.LendB.BorrowWeight/in.LendB.LiquidationThreshold
	liqDistance := math.Min(distA, distB)

	maxDeployable := math.Inf(1)
	if in.BorrowA.AvailableBorrowUSD != nil && m.BorrowA > 0 {
		maxDeployable = *in.BorrowA.AvailableBorrowUSD / m.BorrowA
	}
	if in.BorrowB.AvailableBorrowUSD != nil && m.BorrowB > 0 {
		maxDeployable = math.Min(maxDeployable, *in.BorrowB.AvailableBorrowUSD/m.BorrowB)
	}

	return &Result{
		Multipliers:         m,
		NetAPR:              netAPR,
		LiquidationDistance: liqDistance,
		MaxDeployableUSD:    maxDeployable,
		Valid:               true,
		Warnings:            warnings,
	}, nil
}
