package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"yieldloop/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

// Client implements the ports.PriceFeed interface using the go-binance spot
// API. It sits at the ingestion edge only: core packages price positions from
// stored snapshots, never from a live exchange.
type Client struct {
	spotClient *binance.Client
	logger     ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey    string
	SecretKey string
	Logger    ports.Logger
}

// New creates a new Binance spot client adapter. Ticker prices are a public
// endpoint, so empty keys are permitted.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	return &Client{
		spotClient: binance.NewClient(cfg.APIKey, cfg.SecretKey),
		logger:     cfg.Logger,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch {
		case apiErr.Code == -1121: // Invalid symbol
			mappedErr = ports.ErrInvalidRequest
		case apiErr.Code >= -1199 && apiErr.Code <= -1100: // Parameter/request format errors
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, "Binance API error", fields)
		return fmt.Errorf("%s: %w (binance code %d)", operation, mappedErr, apiErr.Code)
	}

	c.logger.Error(ctx, err, "Binance request failed", fields)
	return fmt.Errorf("%s: %w", operation, err)
}

// GetTickerPrice returns the last traded price for a spot symbol, e.g.
// "SUIUSDT".
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.spotClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, "GetTickerPrice")
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no ticker price returned for symbol %s: %w", symbol, ports.ErrNotFound)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ticker price %q for symbol %s: %w", prices[0].Price, symbol, err)
	}
	c.logger.Debug(ctx, "Fetched ticker price", map[string]interface{}{"symbol": symbol, "price": price})
	return price, nil
}

// Ping checks connectivity to the Binance API.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.spotClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, "Ping")
	}
	return nil
}
