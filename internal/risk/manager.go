package risk

import (
	"context"
	"fmt"
	"math"

	"yieldloop/internal/domain"
	"yieldloop/internal/ports"
)

// RiskConfig holds configuration for deployment risk management
type RiskConfig struct {
	// MinLiquidationDistance is the smallest acceptable gap between a
	// candidate's held ratio and its liquidation boundary. Zero disables
	// the check.
	MinLiquidationDistance float64
	// MinNetAPR rejects candidates whose projected net APR is below the
	// floor. May be negative to allow hedging-style deployments.
	MinNetAPR float64
	// MaxDeploymentUSD caps the size of a single deployment. Zero disables.
	MaxDeploymentUSD float64
	// MaxOpenPositions caps concurrently active positions. Zero disables.
	MaxOpenPositions int
}

// RiskManager validates strategy deployments against configured limits
type RiskManager struct {
	config RiskConfig
}

// NewRiskManager creates a new risk manager instance
func NewRiskManager(config RiskConfig) *RiskManager {
	return &RiskManager{config: config}
}

// ValidateDeployment checks whether a candidate may be deployed at the given
// size while openCount positions are already active. Every violation wraps
// ports.ErrRiskLimitExceeded.
func (r *RiskManager) ValidateDeployment(ctx context.Context, cand *domain.StrategyCandidate, deploymentUSD float64, openCount int) error {
	if cand == nil {
		return fmt.Errorf("%w: candidate is required", ports.ErrInvalidRequest)
	}
	if deploymentUSD <= 0 {
		return fmt.Errorf("%w: deployment USD must be positive", ports.ErrInvalidRequest)
	}

	if r.config.MaxDeploymentUSD > 0 && deploymentUSD > r.config.MaxDeploymentUSD {
		return fmt.Errorf("deployment %.2f USD exceeds maximum %.2f: %w",
			deploymentUSD, r.config.MaxDeploymentUSD, ports.ErrRiskLimitExceeded)
	}

	if r.config.MaxOpenPositions > 0 && openCount >= r.config.MaxOpenPositions {
		return fmt.Errorf("open positions %d at maximum %d: %w",
			openCount, r.config.MaxOpenPositions, ports.ErrRiskLimitExceeded)
	}

	if cand.NetAPR < r.config.MinNetAPR {
		return fmt.Errorf("net APR %.4f below floor %.4f: %w",
			cand.NetAPR, r.config.MinNetAPR, ports.ErrRiskLimitExceeded)
	}

	// Single-leg candidates carry an infinite distance and always pass.
	if r.config.MinLiquidationDistance > 0 && cand.LiquidationDistance < r.config.MinLiquidationDistance {
		return fmt.Errorf("liquidation distance %.4f below minimum %.4f: %w",
			cand.LiquidationDistance, r.config.MinLiquidationDistance, ports.ErrRiskLimitExceeded)
	}

	// Venue liquidity caps the deployable size regardless of configuration.
	if !math.IsInf(cand.MaxDeployableUSD, 1) && deploymentUSD > cand.MaxDeployableUSD {
		return fmt.Errorf("deployment %.2f USD exceeds venue liquidity cap %.2f: %w",
			deploymentUSD, cand.MaxDeployableUSD, ports.ErrRiskLimitExceeded)
	}

	return nil
}

// MaxDeployable returns the largest deployment the limits permit for a
// candidate, accounting for both the configured cap and venue liquidity.
func (r *RiskManager) MaxDeployable(cand *domain.StrategyCandidate) float64 {
	max := cand.MaxDeployableUSD
	if r.config.MaxDeploymentUSD > 0 {
		max = math.Min(max, r.config.MaxDeploymentUSD)
	}
	return max
}
