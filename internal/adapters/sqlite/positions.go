package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"yieldloop/internal/domain"
	"yieldloop/internal/ports"
	"yieldloop/internal/timeutil"
)

const positionColumns = `
	id, portfolio_id, strategy_type, venue_a, venue_b,
	token1, token1_contract, token2, token2_contract,
	deployment_usd, entry_ts,
	entry_lend_a, entry_borrow_a, entry_lend_b, entry_borrow_b, entry_legs,
	cur_lend_a, cur_borrow_a, cur_lend_b, cur_borrow_b,
	rebalance_count, realized_pnl, status, closed_at`

// CreatePosition saves a new position and returns its assigned ID.
func (r *Repository) CreatePosition(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (
		portfolio_id, strategy_type, venue_a, venue_b,
		token1, token1_contract, token2, token2_contract,
		deployment_usd, entry_ts,
		entry_lend_a, entry_borrow_a, entry_lend_b, entry_borrow_b, entry_legs,
		cur_lend_a, cur_borrow_a, cur_lend_b, cur_borrow_b,
		rebalance_count, realized_pnl, status, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`

	legsJSON, err := marshalLegs(pos.EntryLegs)
	if err != nil {
		return 0, err
	}

	var portfolioID sql.NullInt64
	if pos.PortfolioID != nil {
		portfolioID = sql.NullInt64{Int64: *pos.PortfolioID, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		portfolioID, pos.Type, pos.VenueA, pos.VenueB,
		pos.Token1, pos.Token1Contract, pos.Token2, pos.Token2Contract,
		pos.DeploymentUSD, timeutil.Format(pos.EntryTimestamp),
		pos.EntryMultipliers.LendA, pos.EntryMultipliers.BorrowA,
		pos.EntryMultipliers.LendB, pos.EntryMultipliers.BorrowB, legsJSON,
		pos.CurrentMultipliers.LendA, pos.CurrentMultipliers.BorrowA,
		pos.CurrentMultipliers.LendB, pos.CurrentMultipliers.BorrowB,
		pos.RebalanceCount, pos.RealizedPNL, pos.Status)
	if err != nil {
		return 0, fmt.Errorf("failed to insert position for %s@%s: %w", pos.Token1, pos.VenueA, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position: %w", err)
	}
	pos.ID = id
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "strategyType": pos.Type})
	return id, nil
}

// FindPositionByID retrieves a position by its unique ID.
func (r *Repository) FindPositionByID(ctx context.Context, id int64) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Position not found by ID", map[string]interface{}{"positionID": id})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query position by ID %d: %w", id, err)
	}
	return pos, nil
}

// FindPositionsEnteredBy retrieves all positions deployed at or before asOf,
// ordered by entry timestamp ascending.
func (r *Repository) FindPositionsEnteredBy(ctx context.Context, asOf int64) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE entry_ts <= ? ORDER BY entry_ts ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, timeutil.Format(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to query positions entered by %d: %w", asOf, err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// FindPositionsByPortfolio retrieves the positions grouped under a portfolio.
func (r *Repository) FindPositionsByPortfolio(ctx context.Context, portfolioID int64) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE portfolio_id = ? ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for portfolio %d: %w", portfolioID, err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// UpdatePositionState rewrites only the mutable current-state columns. The
// entry record stays untouched.
func (r *Repository) UpdatePositionState(ctx context.Context, pos *domain.Position) error {
	return r.updatePositionState(ctx, r.db, pos)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *Repository) updatePositionState(ctx context.Context, ex execer, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET cur_lend_a = ?, cur_borrow_a = ?, cur_lend_b = ?, cur_borrow_b = ?,
	    rebalance_count = ?, realized_pnl = ?, status = ?, closed_at = ?
	WHERE id = ?`

	var closedAt sql.NullString
	if pos.ClosedAt != nil {
		closedAt = sql.NullString{String: timeutil.Format(*pos.ClosedAt), Valid: true}
	}

	result, err := ex.ExecContext(ctx, query,
		pos.CurrentMultipliers.LendA, pos.CurrentMultipliers.BorrowA,
		pos.CurrentMultipliers.LendB, pos.CurrentMultipliers.BorrowB,
		pos.RebalanceCount, pos.RealizedPNL, pos.Status, closedAt,
		pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w", pos.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update position ID %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position state updated", map[string]interface{}{"positionID": pos.ID, "status": pos.Status})
	return nil
}

// AppendRebalance commits the immutable segment and the position's new
// current state in one transaction. A crash between the two writes would
// leave the segment log and the projection disagreeing, so neither lands
// without the other.
func (r *Repository) AppendRebalance(ctx context.Context, seg *domain.RebalanceSegment, pos *domain.Position) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rebalance transaction: %w", err)
	}
	defer tx.Rollback()

	openingJSON, err := marshalLegs(seg.OpeningLegs)
	if err != nil {
		return err
	}
	closingJSON, err := marshalLegs(seg.ClosingLegs)
	if err != nil {
		return err
	}

	const insertSeg = `
	INSERT INTO rebalance_segments (
		position_id, sequence, opened_at, closed_at,
		lend_a, borrow_a, lend_b, borrow_b,
		opening_legs, closing_legs, realized_pnl)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := tx.ExecContext(ctx, insertSeg,
		seg.PositionID, seg.Sequence,
		timeutil.Format(seg.OpenedAt), timeutil.Format(seg.ClosedAt),
		seg.Multipliers.LendA, seg.Multipliers.BorrowA,
		seg.Multipliers.LendB, seg.Multipliers.BorrowB,
		openingJSON, closingJSON, seg.RealizedPNL)
	if err != nil {
		return fmt.Errorf("failed to insert segment %d for position %d: %w", seg.Sequence, seg.PositionID, err)
	}
	segID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID for segment: %w", err)
	}

	if err := r.updatePositionState(ctx, tx, pos); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rebalance transaction: %w", err)
	}
	seg.ID = segID
	r.logger.Debug(ctx, "Rebalance segment appended", map[string]interface{}{
		"positionID": seg.PositionID, "sequence": seg.Sequence, "segmentID": segID,
	})
	return nil
}

// FindSegmentsByPosition returns all segments for a position ordered by
// sequence number ascending.
func (r *Repository) FindSegmentsByPosition(ctx context.Context, positionID int64) ([]*domain.RebalanceSegment, error) {
	const query = `
	SELECT id, position_id, sequence, opened_at, closed_at,
	       lend_a, borrow_a, lend_b, borrow_b,
	       opening_legs, closing_legs, realized_pnl
	FROM rebalance_segments
	WHERE position_id = ? ORDER BY sequence ASC`

	rows, err := r.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments for position %d: %w", positionID, err)
	}
	defer rows.Close()

	segments := make([]*domain.RebalanceSegment, 0)
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment for position %d: %w", positionID, err)
		}
		segments = append(segments, seg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segment rows: %w", err)
	}
	return segments, nil
}

// CountSegmentsClosedAfter counts segments whose closing timestamp is
// strictly after asOf.
func (r *Repository) CountSegmentsClosedAfter(ctx context.Context, positionID int64, asOf int64) (int, error) {
	const query = `SELECT COUNT(*) FROM rebalance_segments WHERE position_id = ? AND closed_at > ?`
	var count int
	err := r.db.QueryRowContext(ctx, query, positionID, timeutil.Format(asOf)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count segments closed after %d for position %d: %w", asOf, positionID, err)
	}
	return count, nil
}

func collectPositions(rows *sql.Rows) ([]*domain.Position, error) {
	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var (
		portfolioID sql.NullInt64
		strategy    string
		entryTS     string
		legsJSON    string
		status      string
		closedAt    sql.NullString
	)
	err := s.Scan(
		&p.ID, &portfolioID, &strategy, &p.VenueA, &p.VenueB,
		&p.Token1, &p.Token1Contract, &p.Token2, &p.Token2Contract,
		&p.DeploymentUSD, &entryTS,
		&p.EntryMultipliers.LendA, &p.EntryMultipliers.BorrowA,
		&p.EntryMultipliers.LendB, &p.EntryMultipliers.BorrowB, &legsJSON,
		&p.CurrentMultipliers.LendA, &p.CurrentMultipliers.BorrowA,
		&p.CurrentMultipliers.LendB, &p.CurrentMultipliers.BorrowB,
		&p.RebalanceCount, &p.RealizedPNL, &status, &closedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}

	if portfolioID.Valid {
		id := portfolioID.Int64
		p.PortfolioID = &id
	}
	p.Type = domain.StrategyType(strategy)
	p.Status = domain.PositionStatus(status)

	if p.EntryTimestamp, err = timeutil.Parse(entryTS); err != nil {
		return nil, fmt.Errorf("invalid entry timestamp for position %d: %w", p.ID, err)
	}
	if closedAt.Valid {
		ts, err := timeutil.Parse(closedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid close timestamp for position %d: %w", p.ID, err)
		}
		p.ClosedAt = &ts
	}
	if p.EntryLegs, err = unmarshalLegs(legsJSON); err != nil {
		return nil, fmt.Errorf("position %d: %w", p.ID, err)
	}
	return p, nil
}

// scanSegment scans a row into a domain.RebalanceSegment struct.
func scanSegment(s scanner) (*domain.RebalanceSegment, error) {
	seg := &domain.RebalanceSegment{}
	var openedAt, closedAt, openingJSON, closingJSON string
	err := s.Scan(
		&seg.ID, &seg.PositionID, &seg.Sequence, &openedAt, &closedAt,
		&seg.Multipliers.LendA, &seg.Multipliers.BorrowA,
		&seg.Multipliers.LendB, &seg.Multipliers.BorrowB,
		&openingJSON, &closingJSON, &seg.RealizedPNL)
	if err != nil {
		return nil, err
	}

	if seg.OpenedAt, err = timeutil.Parse(openedAt); err != nil {
		return nil, fmt.Errorf("invalid opening timestamp for segment %d: %w", seg.ID, err)
	}
	if seg.ClosedAt, err = timeutil.Parse(closedAt); err != nil {
		return nil, fmt.Errorf("invalid closing timestamp for segment %d: %w", seg.ID, err)
	}
	if seg.OpeningLegs, err = unmarshalLegs(openingJSON); err != nil {
		return nil, fmt.Errorf("segment %d: %w", seg.ID, err)
	}
	if seg.ClosingLegs, err = unmarshalLegs(closingJSON); err != nil {
		return nil, fmt.Errorf("segment %d: %w", seg.ID, err)
	}
	return seg, nil
}
