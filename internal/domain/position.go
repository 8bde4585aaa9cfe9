package domain

// PositionLeg captures the entry-time market parameters for one leg of a
// deployed position. Legs belong to the immutable entry record: they are
// written once at deployment and never mutated, so valuations replayed later
// always see the same anchor.
type PositionLeg struct {
	Role          LegRole `json:"role"`
	Venue         string  `json:"venue"`
	Token         string  `json:"token"`
	TokenContract string  `json:"token_contract"`

	EntryLendAPR              float64 `json:"entry_lend_apr"`
	EntryBorrowAPR            float64 `json:"entry_borrow_apr"`
	EntryPriceUSD             float64 `json:"entry_price_usd"`
	EntryCollateralRatio      float64 `json:"entry_collateral_ratio"`
	EntryLiquidationThreshold float64 `json:"entry_liquidation_threshold"`
	EntryBorrowWeight         float64 `json:"entry_borrow_weight"`
	EntryBorrowFee            float64 `json:"entry_borrow_fee"`
}

// Position is a deployed strategy. Two classes of fields:
//
// The entry record (type, identities, deployment size, entry timestamp,
// entry multipliers, entry legs) is immutable after creation — it is the
// event-sourcing anchor that time-travel valuation replays against.
//
// The current state (CurrentMultipliers, RebalanceCount, RealizedPNL,
// Status, ClosedAt) is a cached projection of the rebalance-segment log and
// is updated only by rebalance and close operations.
type Position struct {
	ID          int64
	PortfolioID *int64 // optional grouping

	Type   StrategyType
	VenueA string
	VenueB string

	Token1         string
	Token1Contract string
	Token2         string
	Token2Contract string

	DeploymentUSD    float64
	EntryTimestamp   int64 // Unix seconds
	EntryMultipliers Multipliers
	EntryLegs        []*PositionLeg

	CurrentMultipliers Multipliers
	RebalanceCount     int
	RealizedPNL        float64 // accumulated across closed segments
	Status             PositionStatus
	ClosedAt           *int64 // Unix seconds, set only when Status is closed
}

// IsActive reports whether the position still accepts rebalances.
func (p *Position) IsActive() bool {
	return p.Status == StatusActive
}

// ActiveAt reports whether the position existed and was not yet closed at
// the given instant. A position deployed in the future relative to asOf is
// invisible.
func (p *Position) ActiveAt(asOf int64) bool {
	if p.EntryTimestamp > asOf {
		return false
	}
	if p.ClosedAt != nil && *p.ClosedAt <= asOf {
		return false
	}
	return true
}

// Leg returns the entry leg for a role, or nil when the strategy shape has
// no such leg.
func (p *Position) Leg(role LegRole) *PositionLeg {
	for _, l := range p.EntryLegs {
		if l.Role == role {
			return l
		}
	}
	return nil
}
