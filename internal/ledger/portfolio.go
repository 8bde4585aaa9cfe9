package ledger

import (
	"context"
	"fmt"

	"yieldloop/internal/domain"
	"yieldloop/internal/ports"
)

// PortfolioValuation aggregates the valuations of a portfolio's constituent
// positions at one instant. A position whose valuation failed is carried
// with its error instead of aborting the batch; totals cover the successes.
type PortfolioValuation struct {
	Portfolio *domain.Portfolio
	AsOf      int64

	Positions []*domain.PositionValuation

	TotalDeployedUSD float64
	TotalValue       float64
	TotalNetEarnings float64
	FailedCount      int
}

// CreatePortfolio registers a grouping record for future deployments.
func (l *Ledger) CreatePortfolio(ctx context.Context, name string, entryTS int64, targetUSD float64) (*domain.Portfolio, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: portfolio name is required", ports.ErrInvalidRequest)
	}
	pf := &domain.Portfolio{Name: name, EntryTimestamp: entryTS, TargetUSD: targetUSD}
	id, err := l.portfolios.CreatePortfolio(ctx, pf)
	if err != nil {
		return nil, fmt.Errorf("failed to persist portfolio %q: %w", name, err)
	}
	pf.ID = id
	return pf, nil
}

// ValuePortfolio prices every constituent position at asOf and sums the
// survivors. Positions deployed after asOf are invisible, matching the
// ledger-wide temporal filter.
func (l *Ledger) ValuePortfolio(ctx context.Context, portfolioID int64, asOf int64) (*PortfolioValuation, error) {
	pf, err := l.portfolios.FindPortfolioByID(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio %d: %w", portfolioID, err)
	}
	if pf == nil {
		return nil, fmt.Errorf("portfolio %d: %w", portfolioID, ports.ErrNotFound)
	}

	positions, err := l.positions.FindPositionsByPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions for portfolio %d: %w", portfolioID, err)
	}

	out := &PortfolioValuation{Portfolio: pf, AsOf: asOf}
	for _, pos := range positions {
		if pos.EntryTimestamp > asOf {
			continue
		}
		out.Positions = append(out.Positions, l.valueOne(ctx, pos, asOf))
	}
	l.sumValuations(out)
	return out, nil
}

// ValueActivePositions prices all positions active at asOf, portfolio
// membership or not.
func (l *Ledger) ValueActivePositions(ctx context.Context, asOf int64) ([]*domain.PositionValuation, error) {
	positions, err := l.GetActivePositions(ctx, asOf)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.PositionValuation, 0, len(positions))
	for _, pos := range positions {
		out = append(out, l.valueOne(ctx, pos, asOf))
	}
	return out, nil
}

func (l *Ledger) valueOne(ctx context.Context, pos *domain.Position, asOf int64) *domain.PositionValuation {
	v, err := l.CalculateValue(ctx, pos, asOf)
	if err != nil {
		// One bad position fails its own valuation only.
		l.logger.Warn(ctx, "Position valuation failed", map[string]interface{}{
			"positionID": pos.ID,
			"asOf":       asOf,
			"error":      err.Error(),
		})
		return &domain.PositionValuation{Position: pos, Err: err}
	}
	return &domain.PositionValuation{Position: pos, Valuation: v}
}

func (l *Ledger) sumValuations(pv *PortfolioValuation) {
	for _, p := range pv.Positions {
		if p.Err != nil {
			pv.FailedCount++
			continue
		}
		pv.TotalDeployedUSD += p.Valuation.DeploymentUSD
		pv.TotalValue += p.Valuation.CurrentValue
		pv.TotalNetEarnings += p.Valuation.NetEarnings
	}
}
