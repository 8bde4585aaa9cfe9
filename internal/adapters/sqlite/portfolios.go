package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"yieldloop/internal/domain"
	"yieldloop/internal/timeutil"
)

// CreatePortfolio saves a new portfolio grouping record and returns its ID.
func (r *Repository) CreatePortfolio(ctx context.Context, pf *domain.Portfolio) (int64, error) {
	const query = `INSERT INTO portfolios (name, entry_ts, target_usd) VALUES (?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query, pf.Name, timeutil.Format(pf.EntryTimestamp), pf.TargetUSD)
	if err != nil {
		return 0, fmt.Errorf("failed to insert portfolio %q: %w", pf.Name, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for portfolio %q: %w", pf.Name, err)
	}
	pf.ID = id
	r.logger.Debug(ctx, "Portfolio created", map[string]interface{}{"portfolioID": id, "name": pf.Name})
	return id, nil
}

// FindPortfolioByID retrieves a portfolio by its unique ID.
func (r *Repository) FindPortfolioByID(ctx context.Context, id int64) (*domain.Portfolio, error) {
	const query = `SELECT id, name, entry_ts, target_usd FROM portfolios WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	pf, err := scanPortfolio(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query portfolio by ID %d: %w", id, err)
	}
	return pf, nil
}

// FindAllPortfolios retrieves all portfolios ordered by ID.
func (r *Repository) FindAllPortfolios(ctx context.Context) ([]*domain.Portfolio, error) {
	const query = `SELECT id, name, entry_ts, target_usd FROM portfolios ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query all portfolios: %w", err)
	}
	defer rows.Close()

	portfolios := make([]*domain.Portfolio, 0)
	for rows.Next() {
		pf, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio row: %w", err)
		}
		portfolios = append(portfolios, pf)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolio rows: %w", err)
	}
	return portfolios, nil
}

func scanPortfolio(s scanner) (*domain.Portfolio, error) {
	pf := &domain.Portfolio{}
	var entryTS string
	if err := s.Scan(&pf.ID, &pf.Name, &entryTS, &pf.TargetUSD); err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	ts, err := timeutil.Parse(entryTS)
	if err != nil {
		return nil, fmt.Errorf("invalid entry timestamp for portfolio %d: %w", pf.ID, err)
	}
	pf.EntryTimestamp = ts
	return pf, nil
}
