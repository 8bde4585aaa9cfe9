package analytics

import (
	"sort"

	"yieldloop/internal/domain"
)

// PerformanceMetrics holds aggregate performance metrics for a set of valued
// positions at one as-of instant
type PerformanceMetrics struct {
	// Basic Metrics
	TotalPositions    int
	ProfitablePosns   int
	LosingPosns       int
	FailedValuations  int
	TotalDeployedUSD  float64
	TotalValueUSD     float64
	TotalNetEarnings  float64
	TotalLendEarnings float64
	TotalBorrowCosts  float64
	TotalFees         float64

	// WeightedAPR is the realized APR weighted by deployed capital, so a
	// large flat position dilutes a small hot one.
	WeightedAPR float64

	// Advanced Metrics
	BestPosition  *domain.PositionValuation
	WorstPosition *domain.PositionValuation
	ByStrategy    map[domain.StrategyType]*StrategyBreakdown
}

// StrategyBreakdown aggregates metrics per strategy shape
type StrategyBreakdown struct {
	Positions    int
	DeployedUSD  float64
	NetEarnings  float64
	AverageAPR   float64
	totalAPRDays float64 // internal accumulator, capital-weighted
}

// AnalyzePerformance aggregates position valuations into portfolio-level
// metrics. Failed valuations are counted and otherwise skipped.
func AnalyzePerformance(valuations []*domain.PositionValuation) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		ByStrategy: make(map[domain.StrategyType]*StrategyBreakdown),
	}

	var weightedAPRSum float64
	for _, pv := range valuations {
		if pv.Err != nil {
			metrics.FailedValuations++
			continue
		}
		v := pv.Valuation
		metrics.TotalPositions++
		metrics.TotalDeployedUSD += v.DeploymentUSD
		metrics.TotalValueUSD += v.CurrentValue
		metrics.TotalNetEarnings += v.NetEarnings
		metrics.TotalLendEarnings += v.LendEarnings
		metrics.TotalBorrowCosts += v.BorrowCosts
		metrics.TotalFees += v.Fees

		if v.NetEarnings > 0 {
			metrics.ProfitablePosns++
		} else if v.NetEarnings < 0 {
			metrics.LosingPosns++
		}

		apr := v.RealizedAPR()
		weightedAPRSum += apr * v.DeploymentUSD

		bd := metrics.ByStrategy[pv.Position.Type]
		if bd == nil {
			bd = &StrategyBreakdown{}
			metrics.ByStrategy[pv.Position.Type] = bd
		}
		bd.Positions++
		bd.DeployedUSD += v.DeploymentUSD
		bd.NetEarnings += v.NetEarnings
		bd.totalAPRDays += apr * v.DeploymentUSD

		if metrics.BestPosition == nil || apr > metrics.BestPosition.Valuation.RealizedAPR() {
			metrics.BestPosition = pv
		}
		if metrics.WorstPosition == nil || apr < metrics.WorstPosition.Valuation.RealizedAPR() {
			metrics.WorstPosition = pv
		}
	}

	if metrics.TotalDeployedUSD > 0 {
		metrics.WeightedAPR = weightedAPRSum / metrics.TotalDeployedUSD
	}
	for _, bd := range metrics.ByStrategy {
		if bd.DeployedUSD > 0 {
			bd.AverageAPR = bd.totalAPRDays / bd.DeployedUSD
		}
	}
	return metrics
}

// RankByRealizedAPR returns the successfully valued positions sorted by
// realized APR descending. The input slice is not modified.
func RankByRealizedAPR(valuations []*domain.PositionValuation) []*domain.PositionValuation {
	ranked := make([]*domain.PositionValuation, 0, len(valuations))
	for _, pv := range valuations {
		if pv.Err == nil {
			ranked = append(ranked, pv)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Valuation.RealizedAPR() > ranked[j].Valuation.RealizedAPR()
	})
	return ranked
}
