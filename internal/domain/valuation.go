package domain

// Valuation is the result of replaying rate history between a position's
// entry and a caller-supplied as-of timestamp. It is a pure function of the
// immutable entry record, the segment log, and the rate history: identical
// inputs always produce identical output.
type Valuation struct {
	AsOf          int64
	DeploymentUSD float64

	LendEarnings float64
	BorrowCosts  float64
	Fees         float64 // one-time borrow fees, charged at entry
	NetEarnings  float64
	CurrentValue float64 // DeploymentUSD + NetEarnings

	HoldingDays float64
	PeriodCount int
}

// RealizedAPR annualizes net earnings over the holding period. Zero when the
// position has not been held long enough to annualize.
func (v *Valuation) RealizedAPR() float64 {
	if v.HoldingDays <= 0 || v.DeploymentUSD <= 0 {
		return 0
	}
	return (v.NetEarnings / v.HoldingDays * 365) / v.DeploymentUSD
}

// PositionValuation pairs a position with its valuation outcome inside a
// batch. Err is set when this position's valuation failed; a single failure
// never aborts the rest of the batch.
type PositionValuation struct {
	Position  *Position
	Valuation *Valuation
	Err       error
}
