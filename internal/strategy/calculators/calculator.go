package calculators

import (
	"fmt"
	"sort"

	"yieldloop/internal/domain"
	"yieldloop/internal/ports"
)

// epsilon below which a collateral ratio, liquidation threshold, or price is
// treated as degenerate data and the candidate is skipped outright.
const epsilon = 1e-9

// Inputs carries the snapshot rows backing each leg of a candidate strategy.
// Which legs must be present depends on the strategy shape:
//
//	single_leg:     CollateralA
//	linear:         CollateralA, BorrowA, LendB
//	recursive_loop: CollateralA, BorrowA, LendB, BorrowB
//
// CollateralA and BorrowB reference token1 (at venues A and B respectively);
// BorrowA and LendB reference token2.
type Inputs struct {
	SafetyMargin float64
	// LTVCapBuffer tightens a borrow ratio that would exceed the venue's
	// hard collateral cap (e.g. 0.995). Zero means no tightening.
	LTVCapBuffer float64

	CollateralA *domain.RateRow
	BorrowA     *domain.RateRow
	LendB       *domain.RateRow
	BorrowB     *domain.RateRow
}

// Result is the full analysis of one candidate for one strategy shape.
type Result struct {
	Multipliers         domain.Multipliers
	NetAPR              float64
	LiquidationDistance float64
	MaxDeployableUSD    float64
	Valid               bool
	Warnings            []string
}

// Calculator is the shared contract all strategy-shape variants implement.
// Adding a new leg topology means implementing this interface and calling
// Register; the analyzer's enumeration logic is untouched.
type Calculator interface {
	// Type identifies the leg topology this calculator handles.
	Type() domain.StrategyType
	// Positions computes the converged per-leg multipliers.
	Positions(in Inputs) (domain.Multipliers, error)
	// NetAPR computes the net yield for the given multipliers.
	NetAPR(m domain.Multipliers, in Inputs) (float64, error)
	// Analyze runs the full pipeline: multipliers, net APR, liquidation
	// distance, deployable-size cap, and validity.
	Analyze(in Inputs) (*Result, error)
}

var registry = make(map[domain.StrategyType]Calculator)

// Register installs a calculator variant. Later registrations for the same
// type replace earlier ones.
func Register(c Calculator) {
	registry[c.Type()] = c
}

// ForType returns the calculator for a strategy shape.
func ForType(t domain.StrategyType) (Calculator, error) {
	c, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrUnknownStrategy, t)
	}
	return c, nil
}

// RegisteredTypes lists the installed strategy shapes in deterministic order.
func RegisteredTypes() []domain.StrategyType {
	types := make([]domain.StrategyType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func init() {
	Register(&SingleLeg{})
	Register(&Linear{})
	Register(&RecursiveLoop{})
}

// checkLegData rejects degenerate rows (near-zero ratios, thresholds, or
// prices) so downstream math never divides by garbage.
func checkLegData(row *domain.RateRow) error {
	if row == nil {
		return fmt.Errorf("%w: leg row absent", ports.ErrMissingRate)
	}
	if row.PriceUSD < epsilon {
		return fmt.Errorf("%w: price %g for %s@%s", ports.ErrDegenerateMarketData, row.PriceUSD, row.Token, row.Venue)
	}
	return nil
}

// checkCollateralData additionally rejects degenerate collateral parameters
// on a leg that backs borrowing.
func checkCollateralData(row *domain.RateRow) error {
	if err := checkLegData(row); err != nil {
		return err
	}
	if row.CollateralRatio < epsilon {
		return fmt.Errorf("%w: collateral ratio %g for %s@%s", ports.ErrDegenerateMarketData, row.CollateralRatio, row.Token, row.Venue)
	}
	if row.LiquidationThreshold < epsilon {
		return fmt.Errorf("%w: liquidation threshold %g for %s@%s", ports.ErrDegenerateMarketData, row.LiquidationThreshold, row.Token, row.Venue)
	}
	if row.BorrowWeight < epsilon {
		return fmt.Errorf("%w: borrow weight %g for %s@%s", ports.ErrDegenerateMarketData, row.BorrowWeight, row.Token, row.Venue)
	}
	return nil
}

// requireLendAPR returns the lend APR or a hard failure when absent. Rates
// are never silently defaulted to zero.
func requireLendAPR(row *domain.RateRow) (float64, error) {
	if row.LendAPR == nil {
		return 0, fmt.Errorf("%w: lend APR for %s@%s", ports.ErrMissingRate, row.Token, row.Venue)
	}
	return *row.LendAPR, nil
}

// requireBorrowAPR returns the borrow APR or a hard failure when absent.
func requireBorrowAPR(row *domain.RateRow) (float64, error) {
	if row.BorrowAPR == nil {
		return 0, fmt.Errorf("%w: borrow APR for %s@%s", ports.ErrMissingRate, row.Token, row.Venue)
	}
	return *row.BorrowAPR, nil
}

// optionalBorrowFee degrades a missing fee to zero. The fee is optional by
// schema, so this is a surfaced warning rather than a failure.
func optionalBorrowFee(row *domain.RateRow, warnings *[]string) float64 {
	if row.BorrowFee == nil {
		*warnings = append(*warnings, fmt.Sprintf("borrow fee missing for %s@%s, assuming 0", row.Token, row.Venue))
		return 0
	}
	return *row.BorrowFee
}
