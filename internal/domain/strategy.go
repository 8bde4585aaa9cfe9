package domain

// Multipliers are the per-leg position weights of a strategy, normalized so
// that actual USD exposure on a leg = multiplier × deployment USD.
type Multipliers struct {
	LendA   float64
	BorrowA float64
	LendB   float64
	BorrowB float64
}

// ForRole returns the multiplier for one leg role.
func (m Multipliers) ForRole(role LegRole) float64 {
	switch role {
	case RoleLendA:
		return m.LendA
	case RoleBorrowA:
		return m.BorrowA
	case RoleLendB:
		return m.LendB
	case RoleBorrowB:
		return m.BorrowB
	default:
		return 0
	}
}

// StrategyCandidate is one analyzed venue/token combination. Candidates are
// ephemeral: never persisted, recomputed per query.
type StrategyCandidate struct {
	Type StrategyType

	VenueA string
	VenueB string // empty for single-leg

	Token1         string
	Token1Contract string
	Token2         string // empty for single-leg
	Token2Contract string

	Multipliers         Multipliers
	NetAPR              float64
	LiquidationDistance float64 // +Inf when there is no borrow leg
	MaxDeployableUSD    float64 // +Inf when no leg tracks liquidity

	// Warnings carries data-quality notes (e.g. missing borrow fee
	// defaulted to zero) that do not invalidate the candidate.
	Warnings []string
}
