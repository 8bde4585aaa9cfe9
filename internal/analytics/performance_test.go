package analytics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yieldloop/internal/domain"
)

func valued(id int64, strategy domain.StrategyType, deployUSD, netEarnings, holdingDays float64) *domain.PositionValuation {
	return &domain.PositionValuation{
		Position: &domain.Position{ID: id, Type: strategy, DeploymentUSD: deployUSD},
		Valuation: &domain.Valuation{
			DeploymentUSD: deployUSD,
			NetEarnings:   netEarnings,
			CurrentValue:  deployUSD + netEarnings,
			LendEarnings:  netEarnings,
			HoldingDays:   holdingDays,
		},
	}
}

func failed(id int64) *domain.PositionValuation {
	return &domain.PositionValuation{
		Position: &domain.Position{ID: id},
		Err:      errors.New("no rate history"),
	}
}

func TestAnalyzePerformance(t *testing.T) {
	// 10k at 10% APR and 30k at 5% APR, both held one year.
	valuations := []*domain.PositionValuation{
		valued(1, domain.StrategySingleLeg, 10_000, 1_000, 365),
		valued(2, domain.StrategyRecursiveLoop, 30_000, 1_500, 365),
		failed(3),
	}

	m := AnalyzePerformance(valuations)

	assert.Equal(t, 2, m.TotalPositions)
	assert.Equal(t, 1, m.FailedValuations)
	assert.Equal(t, 2, m.ProfitablePosns)
	assert.Equal(t, 0, m.LosingPosns)
	assert.InDelta(t, 40_000.0, m.TotalDeployedUSD, 1e-9)
	assert.InDelta(t, 2_500.0, m.TotalNetEarnings, 1e-9)
	assert.InDelta(t, 42_500.0, m.TotalValueUSD, 1e-9)

	// Capital-weighted: (0.10*10k + 0.05*30k) / 40k = 0.0625.
	assert.InDelta(t, 0.0625, m.WeightedAPR, 1e-9)

	require.NotNil(t, m.BestPosition)
	assert.Equal(t, int64(1), m.BestPosition.Position.ID)
	require.NotNil(t, m.WorstPosition)
	assert.Equal(t, int64(2), m.WorstPosition.Position.ID)

	require.Contains(t, m.ByStrategy, domain.StrategySingleLeg)
	require.Contains(t, m.ByStrategy, domain.StrategyRecursiveLoop)
	assert.Equal(t, 1, m.ByStrategy[domain.StrategySingleLeg].Positions)
	assert.InDelta(t, 0.10, m.ByStrategy[domain.StrategySingleLeg].AverageAPR, 1e-9)
	assert.InDelta(t, 0.05, m.ByStrategy[domain.StrategyRecursiveLoop].AverageAPR, 1e-9)
}

func TestAnalyzePerformance_Empty(t *testing.T) {
	m := AnalyzePerformance(nil)

	assert.Equal(t, 0, m.TotalPositions)
	assert.Zero(t, m.WeightedAPR)
	assert.Nil(t, m.BestPosition)
	assert.Nil(t, m.WorstPosition)
	assert.Empty(t, m.ByStrategy)
}

func TestAnalyzePerformance_LosingPosition(t *testing.T) {
	m := AnalyzePerformance([]*domain.PositionValuation{
		valued(1, domain.StrategyLinear, 10_000, -200, 365),
	})

	assert.Equal(t, 1, m.LosingPosns)
	assert.Equal(t, 0, m.ProfitablePosns)
	assert.InDelta(t, -0.02, m.WeightedAPR, 1e-9)
}

func TestRankByRealizedAPR(t *testing.T) {
	valuations := []*domain.PositionValuation{
		valued(1, domain.StrategySingleLeg, 10_000, 500, 365),  // 5%
		valued(2, domain.StrategyLinear, 10_000, 1_200, 365),   // 12%
		failed(3),
		valued(4, domain.StrategyRecursiveLoop, 10_000, 800, 365), // 8%
	}

	ranked := RankByRealizedAPR(valuations)

	require.Len(t, ranked, 3, "failed valuations are dropped")
	assert.Equal(t, int64(2), ranked[0].Position.ID)
	assert.Equal(t, int64(4), ranked[1].Position.ID)
	assert.Equal(t, int64(1), ranked[2].Position.ID)

	// Input order untouched.
	assert.Equal(t, int64(1), valuations[0].Position.ID)
}
