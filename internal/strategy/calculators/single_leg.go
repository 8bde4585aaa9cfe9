package calculators

import (
	"math"

	"yieldloop/internal/domain"
)

// SingleLeg lends one token at one venue. No borrow legs, so there is no
// liquidation risk and no tracked supply cap.
type SingleLeg struct{}

func (s *SingleLeg) Type() domain.StrategyType { return domain.StrategySingleLeg }

func (s *SingleLeg) Positions(in Inputs) (domain.Multipliers, error) {
	if err := checkLegData(in.CollateralA); err != nil {
		return domain.Multipliers{}, err
	}
	return domain.Multipliers{LendA: 1}, nil
}

func (s *SingleLeg) NetAPR(m domain.Multipliers, in Inputs) (float64, error) {
	lend, err := requireLendAPR(in.CollateralA)
	if err != nil {
		return 0, err
	}
	return m.LendA * lend, nil
}

func (s *SingleLeg) Analyze(in Inputs) (*Result, error) {
	m, err := s.Positions(in)
	if err != nil {
		return nil, err
	}
	apr, err := s.NetAPR(m, in)
	if err != nil {
		return nil, err
	}
	return &Result{
		Multipliers:         m,
		NetAPR:              apr,
		LiquidationDistance: math.Inf(1),
		MaxDeployableUSD:    math.Inf(1),
		Valid:               true,
	}, nil
}
