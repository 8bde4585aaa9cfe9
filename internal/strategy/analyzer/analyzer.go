package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"yieldloop/internal/domain"
	"yieldloop/internal/ports"
	"yieldloop/internal/strategy/calculators"
)

// Config holds parameters for the rate analyzer.
type Config struct {
	SafetyMargin float64
	// LTVCapBuffer is passed through to the recursive-loop calculator.
	LTVCapBuffer float64
	// APRTieTolerance is the net-APR band within which two candidates are
	// considered equal and the lower-risk shape wins. Defaults to 1e-6.
	APRTieTolerance float64
	Logger          ports.Logger
}

// Analyzer enumerates every venue/token combination in a snapshot, dispatches
// each candidate to the matching calculator variant, and ranks the survivors.
type Analyzer struct {
	cfg Config
}

// New creates an analyzer. A logger is required: dropped candidates with
// data-quality warnings must be surfaced, not swallowed.
func New(cfg Config) (*Analyzer, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for analyzer", ports.ErrConfigurationError)
	}
	if cfg.SafetyMargin < 0 {
		return nil, fmt.Errorf("%w: safety margin cannot be negative", ports.ErrConfigurationError)
	}
	if cfg.APRTieTolerance <= 0 {
		cfg.APRTieTolerance = 1e-6
	}
	return &Analyzer{cfg: cfg}, nil
}

// AnalyzeAllCombinations builds one candidate per venue-pair × token-pair
// per registered strategy shape, discards infeasible or degenerate entries,
// and returns the survivors sorted by net APR descending. The enumeration is
// O(venues² × tokens²), which is fine at the observed cardinality (a handful
// of venues, dozens of tokens); the only pruning is the early skip on
// missing or degenerate data.
func (a *Analyzer) AnalyzeAllCombinations(ctx context.Context, snap *domain.Snapshot) ([]*domain.StrategyCandidate, error) {
	if snap == nil || len(snap.Rows) == 0 {
		return nil, fmt.Errorf("%w: empty snapshot", ports.ErrInvalidRequest)
	}

	var out []*domain.StrategyCandidate

	venues := snap.Venues()
	for _, venueA := range venues {
		rowsA := snap.RowsByVenue(venueA)

		// Single-leg lending: one candidate per market.
		for _, row := range rowsA {
			cand := a.analyzeOne(ctx, domain.StrategySingleLeg, calculators.Inputs{
				SafetyMargin: a.cfg.SafetyMargin,
				LTVCapBuffer: a.cfg.LTVCapBuffer,
				CollateralA:  row,
			}, row, nil)
			if cand != nil {
				out = append(out, cand)
			}
		}

		for _, venueB := range venues {
			if venueB == venueA {
				continue
			}
			rowsB := snap.RowsByVenue(venueB)

			for _, token1 := range rowsA {
				for _, token2 := range rowsA {
					if token2.TokenContract == token1.TokenContract {
						continue
					}
					// token2 must also be lendable at venue B.
					lendB := snap.Row(venueB, token2.TokenContract)
					if lendB == nil {
						continue
					}

					cand := a.analyzeOne(ctx, domain.StrategyLinear, calculators.Inputs{
						SafetyMargin: a.cfg.SafetyMargin,
						LTVCapBuffer: a.cfg.LTVCapBuffer,
						CollateralA:  token1,
						BorrowA:      token2,
						LendB:        lendB,
					}, token1, token2)
					if cand != nil {
						cand.VenueB = venueB
						out = append(out, cand)
					}

					// The loop additionally needs token1 borrowable at B.
					borrowB := rowByContract(rowsB, token1.TokenContract)
					if borrowB == nil {
						continue
					}

					cand = a.analyzeOne(ctx, domain.StrategyRecursiveLoop, calculators.Inputs{
						SafetyMargin: a.cfg.SafetyMargin,
						LTVCapBuffer: a.cfg.LTVCapBuffer,
						CollateralA:  token1,
						BorrowA:      token2,
						LendB:        lendB,
						BorrowB:      borrowB,
					}, token1, token2)
					if cand != nil {
						cand.VenueB = venueB
						out = append(out, cand)
					}
				}
			}
		}
	}

	a.rank(out)
	return out, nil
}

// analyzeOne dispatches a candidate to its calculator and converts the
// result. Returns nil when the candidate is excluded; exclusion of one
// candidate never aborts the sweep.
func (a *Analyzer) analyzeOne(ctx context.Context, typ domain.StrategyType, in calculators.Inputs, token1, token2 *domain.RateRow) *domain.StrategyCandidate {
	calc, err := calculators.ForType(typ)
	if err != nil {
		a.cfg.Logger.Error(ctx, err, "Calculator dispatch failed", map[string]interface{}{"strategyType": typ})
		return nil
	}

	res, err := calc.Analyze(in)
	if err != nil {
		// Expected exclusions are logged at debug; anything else is a bug
		// worth surfacing.
		if errors.Is(err, ports.ErrMissingRate) ||
			errors.Is(err, ports.ErrDegenerateMarketData) ||
			errors.Is(err, ports.ErrNotConvergent) {
			a.cfg.Logger.Debug(ctx, "Candidate excluded", map[string]interface{}{
				"strategyType": typ,
				"venueA":       token1.Venue,
				"token1":       token1.Token,
				"reason":       err.Error(),
			})
		} else {
			a.cfg.Logger.Error(ctx, err, "Candidate analysis failed", map[string]interface{}{
				"strategyType": typ,
				"venueA":       token1.Venue,
				"token1":       token1.Token,
			})
		}
		return nil
	}
	if !res.Valid {
		return nil
	}

	for _, w := range res.Warnings {
		a.cfg.Logger.Warn(ctx, "Data-quality warning on candidate", map[string]interface{}{
			"strategyType": typ,
			"venueA":       token1.Venue,
			"warning":      w,
		})
	}

	cand := &domain.StrategyCandidate{
		Type:                typ,
		VenueA:              token1.Venue,
		Token1:              token1.Token,
		Token1Contract:      token1.TokenContract,
		Multipliers:         res.Multipliers,
		NetAPR:              res.NetAPR,
		LiquidationDistance: res.LiquidationDistance,
		MaxDeployableUSD:    res.MaxDeployableUSD,
		Warnings:            res.Warnings,
	}
	if token2 != nil {
		cand.Token2 = token2.Token
		cand.Token2Contract = token2.TokenContract
	}
	return cand
}

// rank sorts candidates by net APR descending. Within the tie tolerance the
// shape with fewer legs wins; remaining ties break lexicographically on
// identity so the order is fully deterministic.
//
// Two passes. A single comparator with a banded APR test is not a strict
// weak ordering (near-ties can chain past the tolerance), so the first pass
// sorts on exact APR and the second re-orders each tolerance band anchored
// at its leader's APR.
func (a *Analyzer) rank(cands []*domain.StrategyCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		ci, cj := cands[i], cands[j]
		if ci.NetAPR != cj.NetAPR {
			return ci.NetAPR > cj.NetAPR
		}
		return lessByIdentity(ci, cj)
	})

	tol := a.cfg.APRTieTolerance
	for start := 0; start < len(cands); {
		end := start + 1
		for end < len(cands) && cands[start].NetAPR-cands[end].NetAPR <= tol {
			end++
		}
		band := cands[start:end]
		sort.SliceStable(band, func(i, j int) bool {
			if band[i].Type.LegCount() != band[j].Type.LegCount() {
				return band[i].Type.LegCount() < band[j].Type.LegCount()
			}
			return lessByIdentity(band[i], band[j])
		})
		start = end
	}
}

func lessByIdentity(ci, cj *domain.StrategyCandidate) bool {
	if ci.VenueA != cj.VenueA {
		return ci.VenueA < cj.VenueA
	}
	if ci.VenueB != cj.VenueB {
		return ci.VenueB < cj.VenueB
	}
	if ci.Token1Contract != cj.Token1Contract {
		return ci.Token1Contract < cj.Token1Contract
	}
	return ci.Token2Contract < cj.Token2Contract
}

func rowByContract(rows []*domain.RateRow, contract string) *domain.RateRow {
	for _, r := range rows {
		if r.TokenContract == contract {
			return r
		}
	}
	return nil
}
