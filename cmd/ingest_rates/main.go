package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"yieldloop/config"
	"yieldloop/internal/adapters/binanceclient"
	"yieldloop/internal/adapters/logger"
	"yieldloop/internal/adapters/sqlite"
	"yieldloop/internal/ports"
	"yieldloop/internal/utils"
)

// Loads collector-exported rate CSVs into the snapshot history. With
// -enrich-prices, rows lacking a USD price are filled from the Binance spot
// ticker before insertion.
func main() {
	csvPath := flag.String("csv", "", "path to the rate snapshot CSV (required)")
	enrich := flag.Bool("enrich-prices", false, "fill zero USD prices from the Binance spot ticker")
	flag.Parse()

	if *csvPath == "" {
		log.Fatalf("FATAL: -csv is required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

	rows, err := utils.ReadRateRowsFromCSV(*csvPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to read %s: %v", *csvPath, err)
	}

	if *enrich {
		var feed ports.PriceFeed
		feed, err = binanceclient.New(binanceclient.Config{
			APIKey:    cfg.APIKey,
			SecretKey: cfg.SecretKey,
			Logger:    appLogger,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
		}
		if err := feed.Ping(ctx); err != nil {
			log.Fatalf("FATAL: Binance ping failed: %v", err)
		}
		for _, row := range rows {
			if row.PriceUSD > 0 {
				continue
			}
			price, err := feed.GetTickerPrice(ctx, row.Token+"USDT")
			if err != nil {
				appLogger.Warn(ctx, "Price enrichment failed, keeping row degenerate", map[string]interface{}{
					"token": row.Token, "venue": row.Venue, "error": err.Error(),
				})
				continue
			}
			row.PriceUSD = price
		}
	}

	if err := repo.InsertRateRows(ctx, rows); err != nil {
		log.Fatalf("FATAL: Failed to insert rate rows: %v", err)
	}
	fmt.Printf("Ingested %d rate rows from %s\n", len(rows), *csvPath)
}
