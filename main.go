package main

import (
	"context"
	"flag"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"time"

	"yieldloop/config"
	"yieldloop/internal/adapters/logger"
	"yieldloop/internal/adapters/sqlite"
	"yieldloop/internal/app"
	"yieldloop/internal/ledger"
	"yieldloop/internal/risk"
	"yieldloop/internal/strategy/analyzer"
	"yieldloop/internal/timeutil"
)

func main() {
	asOfFlag := flag.String("as-of", "", "analysis timestamp in 'YYYY-MM-DD HH:MM:SS' UTC (default: now)")
	deployFlag := flag.Bool("deploy", false, "deploy the best candidate that clears the risk limits")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// The core is clock-free; the CLI is where "now" gets decided.
	asOf := time.Now().UTC().Unix()
	if *asOfFlag != "" {
		asOf, err = timeutil.Parse(*asOfFlag)
		if err != nil {
			log.Fatalf("FATAL: Invalid -as-of value: %v", err)
		}
	}

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Analyzer
	an, err := analyzer.New(analyzer.Config{
		SafetyMargin:    cfg.SafetyMargin,
		LTVCapBuffer:    cfg.LTVCapBuffer,
		APRTieTolerance: cfg.APRTieTolerance,
		Logger:          appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize analyzer")
		log.Fatalf("FATAL: Failed to initialize analyzer: %v", err)
	}

	// 5. Initialize Ledger
	led, err := ledger.New(ledger.Config{
		Logger:     appLogger,
		Positions:  repo,
		Segments:   repo,
		Portfolios: repo,
		Rates:      repo,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize ledger")
		log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
	}

	// 6. Initialize Application Service
	svc, err := app.NewService(app.Deps{
		Cfg:      cfg,
		Logger:   appLogger,
		Analyzer: an,
		Ledger:   led,
		Risk: risk.NewRiskManager(risk.RiskConfig{
			MinLiquidationDistance: cfg.MinLiquidationDistance,
			MinNetAPR:              cfg.MinNetAPR,
			MaxDeploymentUSD:       cfg.DeploymentUSD,
			MaxOpenPositions:       cfg.MaxOpenPositions,
		}),
		Rates: repo,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize service")
		log.Fatalf("FATAL: Failed to initialize service: %v", err)
	}

	ctx := context.Background()

	// 7. Analyze (and optionally deploy)
	cands, err := svc.Analyze(ctx, asOf)
	if err != nil {
		appLogger.Error(ctx, err, "Analysis failed")
		log.Fatalf("FATAL: Analysis failed: %v", err)
	}

	top := cands
	if len(top) > 10 {
		top = top[:10]
	}
	fmt.Printf("Top strategies at %s:\n", timeutil.Format(asOf))
	for i, c := range top {
		fmt.Printf("%2d. %-14s %-10s %-10s %-6s net APR %6.2f%%\n",
			i+1, c.Type, c.VenueA, c.VenueB, c.Token1, c.NetAPR*100)
	}

	if *deployFlag {
		pos, err := svc.DeployBest(ctx, asOf, cfg.DeploymentUSD, nil)
		if err != nil {
			appLogger.Error(ctx, err, "Deployment failed")
			log.Fatalf("FATAL: Deployment failed: %v", err)
		}
		fmt.Printf("Deployed position %d: %s at %s for %.2f USD\n",
			pos.ID, pos.Type, pos.VenueA, pos.DeploymentUSD)
	}

	appLogger.Info(ctx, "Run finished", map[string]interface{}{"asOf": asOf, "candidates": len(cands)})
}
