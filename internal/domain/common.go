package domain

// StrategyType identifies the leg topology of a strategy.
type StrategyType string

const (
	// StrategySingleLeg lends one token at one venue. No borrow legs.
	StrategySingleLeg StrategyType = "single_leg"
	// StrategyLinear lends at venue A, borrows once against it, and lends
	// the borrowed token at venue B. No loop back into A.
	StrategyLinear StrategyType = "linear"
	// StrategyRecursiveLoop is the four-leg self-reinforcing loop:
	// lend token1 at A, borrow token2 from A, lend token2 at B,
	// borrow token1 from B, re-lend at A.
	StrategyRecursiveLoop StrategyType = "recursive_loop"
)

// LegCount returns the number of active legs for the strategy shape.
// Used as the risk tie-break when two strategies yield the same net APR.
func (t StrategyType) LegCount() int {
	switch t {
	case StrategySingleLeg:
		return 1
	case StrategyLinear:
		return 3
	case StrategyRecursiveLoop:
		return 4
	default:
		return 0
	}
}

// PositionStatus represents the lifecycle state of a deployed position.
type PositionStatus string

const (
	StatusActive PositionStatus = "active"
	StatusClosed PositionStatus = "closed"
)

// LegRole names a leg's place within a strategy shape.
type LegRole string

const (
	RoleLendA   LegRole = "lend_a"
	RoleBorrowA LegRole = "borrow_a"
	RoleLendB   LegRole = "lend_b"
	RoleBorrowB LegRole = "borrow_b"
)

// IsBorrow reports whether the role accrues borrow costs rather than
// lend earnings.
func (r LegRole) IsBorrow() bool {
	return r == RoleBorrowA || r == RoleBorrowB
}
