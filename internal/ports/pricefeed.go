package ports

import "context"

// PriceFeed supplies spot USD prices during ingestion, for venues whose raw
// rate rows arrive without one. It lives at the data-collection edge; core
// packages must not depend on it.
type PriceFeed interface {
	// GetTickerPrice returns the last traded USD price for a symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
	// Ping checks connectivity to the price source.
	Ping(ctx context.Context) error
}
