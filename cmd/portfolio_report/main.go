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
	"yieldloop/internal/analytics"
	"yieldloop/internal/domain"
	"yieldloop/internal/ledger"
	"yieldloop/internal/timeutil"
)

// Values every active position (or one portfolio) at a chosen instant and
// prints an aggregate performance report. The as-of flag makes the report
// time-travel aware: pass a past timestamp and the numbers come out exactly
// as they would have then.
func main() {
	asOfFlag := flag.String("as-of", "", "valuation timestamp in 'YYYY-MM-DD HH:MM:SS' UTC (default: now)")
	portfolioFlag := flag.Int64("portfolio", 0, "restrict the report to one portfolio ID")
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

	led, err := ledger.New(ledger.Config{
		Logger:     appLogger,
		Positions:  repo,
		Segments:   repo,
		Portfolios: repo,
		Rates:      repo,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
	}

	var valuations []*domain.PositionValuation
	if *portfolioFlag > 0 {
		pv, err := led.ValuePortfolio(ctx, *portfolioFlag, asOf)
		if err != nil {
			log.Fatalf("FATAL: Portfolio valuation failed: %v", err)
		}
		fmt.Printf("Portfolio %q at %s\n", pv.Portfolio.Name, timeutil.Format(asOf))
		valuations = pv.Positions
	} else {
		valuations, err = led.ValueActivePositions(ctx, asOf)
		if err != nil {
			log.Fatalf("FATAL: Valuation failed: %v", err)
		}
		fmt.Printf("All active positions at %s\n", timeutil.Format(asOf))
	}

	metrics := analytics.AnalyzePerformance(valuations)

	fmt.Printf("Positions: %d valued, %d failed\n", metrics.TotalPositions, metrics.FailedValuations)
	fmt.Printf("Deployed: %.2f USD  Value: %.2f USD  Net earnings: %.2f USD\n",
		metrics.TotalDeployedUSD, metrics.TotalValueUSD, metrics.TotalNetEarnings)
	fmt.Printf("Capital-weighted realized APR: %.3f%%\n", metrics.WeightedAPR*100)

	for strategyType, bd := range metrics.ByStrategy {
		fmt.Printf("  %-14s %2d positions, %.2f USD deployed, avg APR %.3f%%\n",
			strategyType, bd.Positions, bd.DeployedUSD, bd.AverageAPR*100)
	}

	for _, pv := range analytics.RankByRealizedAPR(valuations) {
		v := pv.Valuation
		fmt.Printf("  #%-4d %-14s %-10s deploy %10.2f  net %9.4f  APR %7.3f%%  (%d periods, %.1f days)\n",
			pv.Position.ID, pv.Position.Type, pv.Position.VenueA,
			v.DeploymentUSD, v.NetEarnings, v.RealizedAPR()*100, v.PeriodCount, v.HoldingDays)
	}
	for _, pv := range valuations {
		if pv.Err != nil {
			fmt.Printf("  #%-4d valuation failed: %v\n", pv.Position.ID, pv.Err)
		}
	}
}
