package ports

import (
	"context"

	"yieldloop/internal/domain"
)

// PositionRepository defines the interface for storing and retrieving deployed positions.
type PositionRepository interface {
	// CreatePosition saves a new position (entry record + initial current
	// state) and returns its assigned ID.
	CreatePosition(ctx context.Context, pos *domain.Position) (int64, error)
	// FindPositionByID retrieves a position by its unique ID.
	// Returns nil, nil if not found.
	FindPositionByID(ctx context.Context, id int64) (*domain.Position, error)
	// FindPositionsEnteredBy retrieves all positions with entry timestamp
	// at or before asOf, ordered by entry timestamp ascending.
	FindPositionsEnteredBy(ctx context.Context, asOf int64) ([]*domain.Position, error)
	// FindPositionsByPortfolio retrieves the positions grouped under a portfolio.
	FindPositionsByPortfolio(ctx context.Context, portfolioID int64) ([]*domain.Position, error)
	// UpdatePositionState rewrites only the mutable current-state columns
	// (multipliers, rebalance count, realized PnL, status, close timestamp).
	// Entry-record columns are never touched.
	UpdatePositionState(ctx context.Context, pos *domain.Position) error
	// AppendRebalance atomically appends an immutable segment and updates
	// the position's current state. Both commit together or not at all.
	AppendRebalance(ctx context.Context, seg *domain.RebalanceSegment, pos *domain.Position) error
}

// SegmentRepository defines the interface for the append-only rebalance segment log.
type SegmentRepository interface {
	// FindSegmentsByPosition returns all segments for a position ordered by
	// sequence number ascending.
	FindSegmentsByPosition(ctx context.Context, positionID int64) ([]*domain.RebalanceSegment, error)
	// CountSegmentsClosedAfter counts segments whose closing timestamp is
	// strictly after asOf. A segment closes at the instant of the rebalance
	// that produced it, so this is the count of rebalances after asOf.
	CountSegmentsClosedAfter(ctx context.Context, positionID int64, asOf int64) (int, error)
}

// PortfolioRepository defines the interface for portfolio grouping records.
type PortfolioRepository interface {
	CreatePortfolio(ctx context.Context, pf *domain.Portfolio) (int64, error)
	// FindPortfolioByID returns nil, nil if not found.
	FindPortfolioByID(ctx context.Context, id int64) (*domain.Portfolio, error)
	FindAllPortfolios(ctx context.Context) ([]*domain.Portfolio, error)
}

// RateRepository defines read access to the append-only rate-snapshot history.
type RateRepository interface {
	// InsertRateRows appends snapshot rows. Existing (timestamp, venue,
	// contract) rows are never overwritten.
	InsertRateRows(ctx context.Context, rows []*domain.RateRow) error
	// SnapshotAt returns the latest observation at or before asOf for every
	// (venue, contract) market. Wraps ErrNoSnapshot when the history is
	// empty up to asOf.
	SnapshotAt(ctx context.Context, asOf int64) (*domain.Snapshot, error)
	// RateTimestamps returns the distinct snapshot timestamps within
	// [from, to], ascending.
	RateTimestamps(ctx context.Context, from, to int64) ([]int64, error)
	// RateRowAt returns the latest row for one (venue, contract) market at
	// or before asOf. Returns nil, nil when the market has no history yet.
	RateRowAt(ctx context.Context, venue, tokenContract string, asOf int64) (*domain.RateRow, error)
}
