package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"yieldloop/config"
	"yieldloop/internal/analytics"
	"yieldloop/internal/domain"
	"yieldloop/internal/ledger"
	"yieldloop/internal/ports"
	"yieldloop/internal/risk"
	"yieldloop/internal/strategy/analyzer"
	"yieldloop/internal/utils"
)

// Service orchestrates the analyze/deploy/value workflow. It owns no
// temporal state: every operation takes the as-of timestamp from the caller,
// so the same service instance serves live runs and historical replays alike.
type Service struct {
	cfg       *config.Config
	logger    ports.Logger
	analyzer  *analyzer.Analyzer
	ledger    *ledger.Ledger
	risk      *risk.RiskManager
	rates     ports.RateRepository
	priceFeed ports.PriceFeed // optional, ingestion-time price enrichment only
}

// Deps holds the dependencies for NewService.
type Deps struct {
	Cfg       *config.Config
	Logger    ports.Logger
	Analyzer  *analyzer.Analyzer
	Ledger    *ledger.Ledger
	Risk      *risk.RiskManager
	Rates     ports.RateRepository
	PriceFeed ports.PriceFeed // may be nil
}

// NewService creates a new application service instance.
func NewService(deps Deps) (*Service, error) {
	if deps.Cfg == nil || deps.Logger == nil || deps.Analyzer == nil || deps.Ledger == nil || deps.Risk == nil || deps.Rates == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}
	return &Service{
		cfg:       deps.Cfg,
		logger:    deps.Logger,
		analyzer:  deps.Analyzer,
		ledger:    deps.Ledger,
		risk:      deps.Risk,
		rates:     deps.Rates,
		priceFeed: deps.PriceFeed,
	}, nil
}

// IngestCSV loads collector-exported rate rows from a CSV file and appends
// them to the snapshot history. Rows with a zero USD price are enriched from
// the price feed when one is configured; without a feed they are kept as-is
// and will be excluded by the analyzer as degenerate.
func (s *Service) IngestCSV(ctx context.Context, path string) (int, error) {
	rows, err := utils.ReadRateRowsFromCSV(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read rate CSV %s: %w", path, err)
	}
	if len(rows) == 0 {
		s.logger.Warn(ctx, "Rate CSV contained no rows", map[string]interface{}{"path": path})
		return 0, nil
	}

	if s.priceFeed != nil {
		s.enrichPrices(ctx, rows)
	}

	if err := s.rates.InsertRateRows(ctx, rows); err != nil {
		return 0, fmt.Errorf("failed to persist rate rows from %s: %w", path, err)
	}
	s.logger.Info(ctx, "Rate rows ingested", map[string]interface{}{"path": path, "count": len(rows)})
	return len(rows), nil
}

// enrichPrices fills zero USD prices from the spot feed. Failures downgrade
// to a warning; the row stays degenerate and the analyzer will skip it.
func (s *Service) enrichPrices(ctx context.Context, rows []*domain.RateRow) {
	for _, row := range rows {
		if row.PriceUSD > 0 {
			continue
		}
		symbol := strings.ToUpper(row.Token) + "USDT"
		price, err := s.priceFeed.GetTickerPrice(ctx, symbol)
		if err != nil {
			s.logger.Warn(ctx, "Failed to enrich price from feed", map[string]interface{}{
				"token": row.Token, "venue": row.Venue, "symbol": symbol, "error": err.Error(),
			})
			continue
		}
		row.PriceUSD = price
	}
}

// Analyze runs the full combinatorial analysis against the snapshot valid at
// asOf and returns the ranked candidates.
func (s *Service) Analyze(ctx context.Context, asOf int64) ([]*domain.StrategyCandidate, error) {
	snap, err := s.rates.SnapshotAt(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot at %d: %w", asOf, err)
	}
	cands, err := s.analyzer.AnalyzeAllCombinations(ctx, snap)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "Analysis complete", map[string]interface{}{
		"asOf": asOf, "markets": len(snap.Rows), "candidates": len(cands),
	})
	return cands, nil
}

// DeployBest analyzes the snapshot at asOf and deploys the highest-ranked
// candidate that clears every risk limit. Candidates failing a limit are
// skipped, not fatal: the next one in rank order gets its chance.
func (s *Service) DeployBest(ctx context.Context, asOf int64, deploymentUSD float64, portfolioID *int64) (*domain.Position, error) {
	cands, err := s.Analyze(ctx, asOf)
	if err != nil {
		return nil, err
	}

	active, err := s.ledger.GetActivePositions(ctx, asOf)
	if err != nil {
		return nil, err
	}

	snap, err := s.rates.SnapshotAt(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot at %d: %w", asOf, err)
	}

	for _, cand := range cands {
		if err := s.risk.ValidateDeployment(ctx, cand, deploymentUSD, len(active)); err != nil {
			if errors.Is(err, ports.ErrRiskLimitExceeded) {
				s.logger.Debug(ctx, "Candidate rejected by risk limits", map[string]interface{}{
					"strategyType": cand.Type, "venueA": cand.VenueA, "netAPR": cand.NetAPR, "reason": err.Error(),
				})
				continue
			}
			return nil, err
		}
		return s.ledger.Deploy(ctx, cand, snap, deploymentUSD, asOf, portfolioID)
	}
	return nil, fmt.Errorf("no candidate at %d clears the configured risk limits: %w", asOf, ports.ErrRiskLimitExceeded)
}

// Report values every active position at asOf and aggregates the results.
func (s *Service) Report(ctx context.Context, asOf int64) (*analytics.PerformanceMetrics, []*domain.PositionValuation, error) {
	valuations, err := s.ledger.ValueActivePositions(ctx, asOf)
	if err != nil {
		return nil, nil, err
	}
	metrics := analytics.AnalyzePerformance(valuations)
	s.logger.Info(ctx, "Portfolio report generated", map[string]interface{}{
		"asOf":        asOf,
		"positions":   metrics.TotalPositions,
		"failed":      metrics.FailedValuations,
		"deployedUSD": metrics.TotalDeployedUSD,
		"weightedAPR": metrics.WeightedAPR,
	})
	return metrics, valuations, nil
}

// ExportCandidates writes ranked candidates to a CSV file for review.
func (s *Service) ExportCandidates(ctx context.Context, cands []*domain.StrategyCandidate, path string) error {
	if err := utils.WriteStrategiesToCSV(cands, path); err != nil {
		return fmt.Errorf("failed to export candidates to %s: %w", path, err)
	}
	s.logger.Info(ctx, "Candidates exported", map[string]interface{}{"path": path, "count": len(cands)})
	return nil
}
