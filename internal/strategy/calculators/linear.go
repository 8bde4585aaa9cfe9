package calculators

import (
	"math"

	"yieldloop/internal/domain"
)

// Linear lends token1 at venue A, borrows token2 against it once, and lends
// the proceeds at venue B. No loop back into A, so no convergence analysis
// is needed — the borrow ratio is applied a single time.
type Linear struct{}

func (l *Linear) Type() domain.StrategyType { return domain.StrategyLinear }

func (l *Linear) Positions(in Inputs) (domain.Multipliers, error) {
	if err := checkCollateralData(in.CollateralA); err != nil {
		return domain.Multipliers{}, err
	}
	if err := checkLegData(in.BorrowA); err != nil {
		return domain.Multipliers{}, err
	}
	if err := checkLegData(in.LendB); err != nil {
		return domain.Multipliers{}, err
	}

	// Borrow against the tighter of the liquidation threshold and the hard
	// collateral cap, backed off by the safety margin.
	ratio := math.Min(in.CollateralA.LiquidationThreshold, in.CollateralA.CollateralRatio)
	borrowA := ratio / (1 + in.SafetyMargin)

	return domain.Multipliers{
		LendA:   1,
		BorrowA: borrowA,
		LendB:   borrowA,
	}, nil
}

func (l *Linear) NetAPR(m domain.Multipliers, in Inputs) (float64, error) {
	lendA, err := requireLendAPR(in.CollateralA)
	if err != nil {
		return 0, err
	}
	borrowA, err := requireBorrowAPR(in.BorrowA)
	if err != nil {
		return 0, err
	}
	lendB, err := requireLendAPR(in.LendB)
	if err != nil {
		return 0, err
	}

	var warnings []string
	feeA := optionalBorrowFee(in.BorrowA, &warnings)

	return m.LendA*lendA + m.LendB*lendB - m.BorrowA*(borrowA+feeA), nil
}

func (l *Linear) Analyze(in Inputs) (*Result, error) {
	m, err := l.Positions(in)
	if err != nil {
		return nil, err
	}

	lendA, err := requireLendAPR(in.CollateralA)
	if err != nil {
		return nil, err
	}
	borrowA, err := requireBorrowAPR(in.BorrowA)
	if err != nil {
		return nil, err
	}
	lendB, err := requireLendAPR(in.LendB)
	if err != nil {
		return nil, err
	}

	var warnings []string
	feeA := optionalBorrowFee(in.BorrowA, &warnings)

	netAPR := m.LendA*lendA + m.LendB*lendB - m.BorrowA*(borrowA+feeA)

	// Distance between the target borrow ratio and the level that would
	// trigger liquidation.
	borrowCap := math.Min(in.CollateralA.LiquidationThreshold, in.CollateralA.CollateralRatio)
	liqDistance := 1 - m.BorrowA/borrowCap

	maxDeployable := math.Inf(1)
	if in.BorrowA.AvailableBorrowUSD != nil && m.BorrowA > 0 {
		maxDeployable = *in.BorrowA.AvailableBorrowUSD / m.BorrowA
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
