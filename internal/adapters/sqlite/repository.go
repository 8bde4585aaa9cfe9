package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"yieldloop/internal/domain"
	"yieldloop/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.PositionRepository, ports.SegmentRepository,
// ports.PortfolioRepository and ports.RateRepository interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/yieldloop.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Single writer keeps the append-only tables append-only in practice:
	// no interleaved transactions racing the segment log.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// All timestamps are stored as UTC text in the canonical layout; its
// lexicographic order matches chronological order, so range scans over the
// text columns are correct.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS rate_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		venue TEXT NOT NULL,
		token TEXT NOT NULL,
		token_contract TEXT NOT NULL,
		lend_apr REAL DEFAULT NULL,
		borrow_apr REAL DEFAULT NULL,
		price_usd REAL NOT NULL,
		collateral_ratio REAL NOT NULL,
		liquidation_threshold REAL NOT NULL,
		borrow_weight REAL NOT NULL,
		borrow_fee REAL DEFAULT NULL,
		available_borrow_usd REAL DEFAULT NULL,
		UNIQUE (ts, venue, token_contract)
	);

	CREATE TABLE IF NOT EXISTS portfolios (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		entry_ts TEXT NOT NULL,
		target_usd REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		portfolio_id INTEGER DEFAULT NULL,
		strategy_type TEXT NOT NULL,
		venue_a TEXT NOT NULL,
		venue_b TEXT NOT NULL DEFAULT '',
		token1 TEXT NOT NULL,
		token1_contract TEXT NOT NULL,
		token2 TEXT NOT NULL DEFAULT '',
		token2_contract TEXT NOT NULL DEFAULT '',
		deployment_usd REAL NOT NULL,
		entry_ts TEXT NOT NULL,
		entry_lend_a REAL NOT NULL,
		entry_borrow_a REAL NOT NULL,
		entry_lend_b REAL NOT NULL,
		entry_borrow_b REAL NOT NULL,
		entry_legs TEXT NOT NULL,
		cur_lend_a REAL NOT NULL,
		cur_borrow_a REAL NOT NULL,
		cur_lend_b REAL NOT NULL,
		cur_borrow_b REAL NOT NULL,
		rebalance_count INTEGER NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		closed_at TEXT DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS rebalance_segments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id INTEGER NOT NULL,
		sequence INTEGER NOT NULL,
		opened_at TEXT NOT NULL,
		closed_at TEXT NOT NULL,
		lend_a REAL NOT NULL,
		borrow_a REAL NOT NULL,
		lend_b REAL NOT NULL,
		borrow_b REAL NOT NULL,
		opening_legs TEXT NOT NULL,
		closing_legs TEXT NOT NULL,
		realized_pnl REAL NOT NULL,
		UNIQUE (position_id, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_rate_snapshots_market_ts ON rate_snapshots (venue, token_contract, ts);
	CREATE INDEX IF NOT EXISTS idx_positions_entry_ts ON positions (entry_ts);
	CREATE INDEX IF NOT EXISTS idx_positions_portfolio ON positions (portfolio_id);
	CREATE INDEX IF NOT EXISTS idx_segments_position ON rebalance_segments (position_id, sequence);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// marshalLegs serializes a leg slice for a TEXT column. Legs are small,
// written once and only ever read back whole, so a JSON blob beats a join
// table here.
func marshalLegs(legs []*domain.PositionLeg) (string, error) {
	b, err := json.Marshal(legs)
	if err != nil {
		return "", fmt.Errorf("failed to marshal position legs: %w", err)
	}
	return string(b), nil
}

func unmarshalLegs(raw string) ([]*domain.PositionLeg, error) {
	var legs []*domain.PositionLeg
	if err := json.Unmarshal([]byte(raw), &legs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position legs: %w", err)
	}
	return legs, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
