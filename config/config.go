package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"yieldloop/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	// Binance API (spot prices for ingestion; public endpoints need no keys)
	APIKey    string
	SecretKey string

	// Strategy Parameters
	SafetyMargin    float64 // fraction held back from the liquidation boundary, e.g. 0.30
	LTVCapBuffer    float64 // fraction of the hard collateral cap usable, e.g. 0.995
	APRTieTolerance float64 // net APR gap treated as a tie when ranking

	// Deployment / Risk Parameters
	DeploymentUSD          float64
	MinLiquidationDistance float64
	MinNetAPR              float64
	MaxOpenPositions       int

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API (optional: ticker prices are public)
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")

	// Strategy Parameters
	cfg.SafetyMargin, err = getEnvAsFloatRequired("SAFETY_MARGIN", 0.30)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SAFETY_MARGIN: %v", err))
	} else if cfg.SafetyMargin < 0 || cfg.SafetyMargin >= 1.0 {
		errs = append(errs, "SAFETY_MARGIN must be in [0.0, 1.0)")
	}

	cfg.LTVCapBuffer, err = getEnvAsFloatRequired("LTV_CAP_BUFFER", 0.995)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LTV_CAP_BUFFER: %v", err))
	} else if cfg.LTVCapBuffer <= 0 || cfg.LTVCapBuffer > 1.0 {
		errs = append(errs, "LTV_CAP_BUFFER must be in (0.0, 1.0]")
	}

	cfg.APRTieTolerance = getEnvAsFloat("APR_TIE_TOLERANCE", 1e-6)
	if cfg.APRTieTolerance < 0 {
		errs = append(errs, "APR_TIE_TOLERANCE cannot be negative")
	}

	// Deployment / Risk Parameters
	cfg.DeploymentUSD, err = getEnvAsFloatRequired("DEPLOYMENT_USD", 10000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEPLOYMENT_USD: %v", err))
	} else if cfg.DeploymentUSD <= 0 {
		errs = append(errs, "DEPLOYMENT_USD must be positive")
	}

	cfg.MinLiquidationDistance = getEnvAsFloat("MIN_LIQUIDATION_DISTANCE", 0.10)
	if cfg.MinLiquidationDistance < 0 {
		errs = append(errs, "MIN_LIQUIDATION_DISTANCE cannot be negative")
	}

	cfg.MinNetAPR = getEnvAsFloat("MIN_NET_APR", 0.0)

	cfg.MaxOpenPositions = getEnvAsInt("MAX_OPEN_POSITIONS", 10)
	if cfg.MaxOpenPositions < 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS cannot be negative")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/yieldloop.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloatRequired returns the default when unset but surfaces parse
// errors instead of swallowing them.
func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse %s value %q as float: %w", key, valueStr, err)
	}
	return value, nil
}
