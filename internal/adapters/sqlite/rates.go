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

const rateColumns = `
	ts, venue, token, token_contract,
	lend_apr, borrow_apr, price_usd,
	collateral_ratio, liquidation_threshold, borrow_weight,
	borrow_fee, available_borrow_usd`

// InsertRateRows appends snapshot rows in one transaction. Duplicate
// (timestamp, venue, contract) rows are ignored, never overwritten: history
// is append-only and the first observation wins.
func (r *Repository) InsertRateRows(ctx context.Context, rows []*domain.RateRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rate insert transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
	INSERT OR IGNORE INTO rate_snapshots (` + rateColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare rate insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			timeutil.Format(row.Timestamp), row.Venue, row.Token, row.TokenContract,
			nullFloat(row.LendAPR), nullFloat(row.BorrowAPR), row.PriceUSD,
			row.CollateralRatio, row.LiquidationThreshold, row.BorrowWeight,
			nullFloat(row.BorrowFee), nullFloat(row.AvailableBorrowUSD))
		if err != nil {
			return fmt.Errorf("failed to insert rate row %s@%s at %d: %w", row.Token, row.Venue, row.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rate insert transaction: %w", err)
	}
	r.logger.Debug(ctx, "Rate rows inserted", map[string]interface{}{"count": len(rows)})
	return nil
}

// SnapshotAt assembles the latest observation at or before asOf for every
// (venue, contract) market.
func (r *Repository) SnapshotAt(ctx context.Context, asOf int64) (*domain.Snapshot, error) {
	const query = `
	SELECT r.ts, r.venue, r.token, r.token_contract,
	       r.lend_apr, r.borrow_apr, r.price_usd,
	       r.collateral_ratio, r.liquidation_threshold, r.borrow_weight,
	       r.borrow_fee, r.available_borrow_usd
	FROM rate_snapshots r
	JOIN (
		SELECT venue, token_contract, MAX(ts) AS max_ts
		FROM rate_snapshots
		WHERE ts <= ?
		GROUP BY venue, token_contract
	) latest
	ON r.venue = latest.venue AND r.token_contract = latest.token_contract AND r.ts = latest.max_ts
	ORDER BY r.venue ASC, r.token_contract ASC`

	rows, err := r.db.QueryContext(ctx, query, timeutil.Format(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot at %d: %w", asOf, err)
	}
	defer rows.Close()

	snap := &domain.Snapshot{Timestamp: asOf}
	for rows.Next() {
		rr, err := scanRateRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rate row for snapshot at %d: %w", asOf, err)
		}
		snap.Rows = append(snap.Rows, rr)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}
	if len(snap.Rows) == 0 {
		return nil, fmt.Errorf("no rate history at or before %d: %w", asOf, ports.ErrNoSnapshot)
	}
	return snap, nil
}

// RateTimestamps returns the distinct snapshot timestamps within [from, to],
// ascending.
func (r *Repository) RateTimestamps(ctx context.Context, from, to int64) ([]int64, error) {
	const query = `
	SELECT DISTINCT ts FROM rate_snapshots
	WHERE ts >= ? AND ts <= ?
	ORDER BY ts ASC`

	rows, err := r.db.QueryContext(ctx, query, timeutil.Format(from), timeutil.Format(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query rate timestamps in [%d, %d]: %w", from, to, err)
	}
	defer rows.Close()

	stamps := make([]int64, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan rate timestamp: %w", err)
		}
		ts, err := timeutil.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid stored rate timestamp %q: %w", raw, err)
		}
		stamps = append(stamps, ts)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rate timestamps: %w", err)
	}
	return stamps, nil
}

// RateRowAt returns the latest row for one (venue, contract) market at or
// before asOf.
func (r *Repository) RateRowAt(ctx context.Context, venue, tokenContract string, asOf int64) (*domain.RateRow, error) {
	query := `
	SELECT ` + rateColumns + ` FROM rate_snapshots
	WHERE venue = ? AND token_contract = ? AND ts <= ?
	ORDER BY ts DESC LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, venue, tokenContract, timeutil.Format(asOf))
	rr, err := scanRateRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just no history yet
		}
		return nil, fmt.Errorf("failed to query rate row for %s@%s at %d: %w", tokenContract, venue, asOf, err)
	}
	return rr, nil
}

// scanRateRow scans a row into a domain.RateRow struct.
func scanRateRow(s scanner) (*domain.RateRow, error) {
	rr := &domain.RateRow{}
	var (
		ts        string
		lendAPR   sql.NullFloat64
		borrowAPR sql.NullFloat64
		fee       sql.NullFloat64
		available sql.NullFloat64
	)
	err := s.Scan(
		&ts, &rr.Venue, &rr.Token, &rr.TokenContract,
		&lendAPR, &borrowAPR, &rr.PriceUSD,
		&rr.CollateralRatio, &rr.LiquidationThreshold, &rr.BorrowWeight,
		&fee, &available)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}

	if rr.Timestamp, err = timeutil.Parse(ts); err != nil {
		return nil, fmt.Errorf("invalid stored rate timestamp %q: %w", ts, err)
	}
	rr.LendAPR = floatPtr(lendAPR)
	rr.BorrowAPR = floatPtr(borrowAPR)
	rr.BorrowFee = floatPtr(fee)
	rr.AvailableBorrowUSD = floatPtr(available)
	return rr, nil
}
