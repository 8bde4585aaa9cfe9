package domain

// RebalanceSegment is one immutable, fully-closed slice of a position's
// history: the state that was true between two rebalance events. Exactly one
// segment is appended per rebalance, covering [previous segment's close or
// entry, rebalance timestamp). Segments never overlap, are totally ordered
// by Sequence, and chain without gaps: segment i's ClosedAt equals segment
// i+1's OpenedAt. The open tail after the last segment is represented by the
// position's current state, not by a stored row.
type RebalanceSegment struct {
	ID         int64
	PositionID int64
	Sequence   int

	OpenedAt int64 // Unix seconds, inclusive
	ClosedAt int64 // Unix seconds, exclusive

	// Multipliers held during the segment (the state before the rebalance).
	Multipliers Multipliers

	// Market parameters observed at the segment boundaries, one entry per leg.
	OpeningLegs []*PositionLeg
	ClosingLegs []*PositionLeg

	// RealizedPNL for this segment only, from the bounded period walk.
	RealizedPNL float64
}

// Covers reports whether the segment's half-open interval contains ts.
func (s *RebalanceSegment) Covers(ts int64) bool {
	return s.OpenedAt <= ts && ts < s.ClosedAt
}
