package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"yieldloop/config"
	"yieldloop/internal/adapters/logger"
	"yieldloop/internal/adapters/sqlite"
	"yieldloop/internal/strategy/analyzer"
	"yieldloop/internal/timeutil"
	"yieldloop/internal/utils"
)

// Runs the combinatorial strategy analysis against the stored snapshot at a
// chosen instant and prints the ranked candidates, optionally exporting the
// full table to CSV.
func main() {
	asOfFlag := flag.String("as-of", "", "snapshot timestamp in 'YYYY-MM-DD HH:MM:SS' UTC (default: now)")
	outFlag := flag.String("out", "", "optional CSV export path for the full ranked table")
	limitFlag := flag.Int("limit", 20, "number of candidates to print")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	asOf := time.Now().UTC().Unix()
	if *asOfFlag != "" {
		asOf, err = timeutil.Parse(*asOfFlag)
		if err != nil {
			log.Fatalf("FATAL: Invalid -as-of value: %v", err)
		}
	}

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

	an, err := analyzer.New(analyzer.Config{
		SafetyMargin:    cfg.SafetyMargin,
		LTVCapBuffer:    cfg.LTVCapBuffer,
		APRTieTolerance: cfg.APRTieTolerance,
		Logger:          appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize analyzer: %v", err)
	}

	snap, err := repo.SnapshotAt(ctx, asOf)
	if err != nil {
		log.Fatalf("FATAL: Failed to load snapshot at %s: %v", timeutil.Format(asOf), err)
	}

	cands, err := an.AnalyzeAllCombinations(ctx, snap)
	if err != nil {
		log.Fatalf("FATAL: Analysis failed: %v", err)
	}

	fmt.Printf("Snapshot %s: %d markets, %d viable candidates\n",
		timeutil.Format(asOf), len(snap.Rows), len(cands))
	for i, c := range cands {
		if i >= *limitFlag {
			break
		}
		fmt.Printf("%3d. %-14s A=%-10s B=%-10s %s/%s  net APR %7.3f%%  liq dist %.3f\n",
			i+1, c.Type, c.VenueA, c.VenueB, c.Token1, c.Token2, c.NetAPR*100, c.LiquidationDistance)
	}

	if *outFlag != "" {
		if err := utils.WriteStrategiesToCSV(cands, *outFlag); err != nil {
			log.Fatalf("FATAL: CSV export failed: %v", err)
		}
		fmt.Printf("Exported %d candidates to %s\n", len(cands), *outFlag)
	}
}
