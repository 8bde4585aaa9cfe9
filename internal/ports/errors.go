package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Market Data Errors
	// ErrMissingRate marks a lend/borrow APR absent for a leg the strategy
	// shape requires. Hard failure: never substituted with zero.
	ErrMissingRate = errors.New("required lend/borrow rate missing from market data")
	// ErrDegenerateMarketData marks a zero or near-zero collateral ratio,
	// liquidation threshold, or price. Candidates hitting it are excluded
	// entirely rather than returned with garbage numbers.
	ErrDegenerateMarketData = errors.New("degenerate market data (zero ratio, threshold, or price)")
	// ErrAmbiguousToken marks a lookup keyed by display symbol instead of
	// contract identity.
	ErrAmbiguousToken = errors.New("token lookup must be keyed by contract, not display symbol")
	ErrNoSnapshot     = errors.New("no rate snapshot at or before requested timestamp")

	// Strategy Errors
	// ErrNotConvergent marks a recursive loop whose combined borrow ratio
	// is >= 1, so the geometric series diverges.
	ErrNotConvergent     = errors.New("recursive loop does not converge (combined borrow ratio >= 1)")
	ErrUnknownStrategy   = errors.New("no calculator registered for strategy type")
	ErrRiskLimitExceeded = errors.New("deployment violates a risk limit")

	// Ledger / Temporal Errors
	// ErrValuationBeforeEntry: valuation before a position's entry is
	// undefined, not zero.
	ErrValuationBeforeEntry = errors.New("valuation timestamp precedes position entry")
	// ErrFutureRebalances: a rebalance at a past instant would fork history
	// because newer rebalance segments already exist.
	ErrFutureRebalances = errors.New("position has rebalances recorded after the requested timestamp")
	ErrPositionClosed   = errors.New("position is closed and accepts no further rebalances")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
