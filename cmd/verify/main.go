// Package main checks that full, incremental, by-date and by-code computation
// produce identical factor tables.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"factor-lab/internal/bootstrap"
	"factor-lab/internal/config"
	"factor-lab/internal/domain"
	"factor-lab/internal/engine"
	"factor-lab/internal/expr"
	"factor-lab/internal/verification"
)

func main() {
	// Load .env file if exists
	config.LoadEnvFile(".env")

	// Parse flags (env vars as defaults)
	configPath := flag.String("config", os.Getenv("FACTORLAB_CONFIG"), "Path to YAML config file")
	factorsPath := flag.String("factors", "", "Factor definitions file (default from config)")
	factorName := flag.String("factor", "", "Verify only this factor (default: all)")
	chunkDays := flag.Int("chunk-days", 0, "By-date chunk size (default from config)")
	batchSize := flag.Int("batch-size", 0, "By-code batch size (default from config)")
	incremental := flag.Int("incremental-periods", verification.DefaultIncrementalPeriods, "Trailing periods recomputed incrementally")
	tolerance := flag.Float64("tolerance", verification.ExactTolerance, "Absolute value tolerance (0 = bit-identical)")
	useMemory := flag.Bool("use-memory", false, "Use a synthetic in-memory panel")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	logger := log.New(os.Stderr, "[verify] ", log.LstdFlags)

	if *useMemory {
		os.Setenv(config.EnvPrefix+"_USE_MEMORY", "true")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *factorsPath == "" {
		*factorsPath = cfg.FactorsFile
	}
	if *chunkDays <= 0 {
		*chunkDays = cfg.Engine.ChunkDays
	}
	if *batchSize <= 0 {
		*batchSize = cfg.Engine.BatchSize
	}

	ff, err := config.LoadFactors(*factorsPath)
	if err != nil {
		logger.Fatalf("Failed to load factors: %v", err)
	}
	var specs []*domain.FactorSpec
	if *factorName != "" {
		spec, err := ff.Spec(*factorName)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		specs = []*domain.FactorSpec{spec}
	} else if specs, err = ff.Specs(); err != nil {
		logger.Fatalf("Failed to build factors: %v", err)
	}
	start, end, err := ff.Range()
	if err != nil || start.IsZero() || end.IsZero() {
		logger.Fatalf("factor file must set a valid start and end (err: %v)", err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	stores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer stores.Close()

	if _, err := bootstrap.SeedForSpecs(ctx, stores, ff.Universe, start, end, specs, 0); err != nil {
		logger.Fatalf("Failed to seed panel: %v", err)
	}

	// Fresh in-memory result stores per mode; only the panel is shared
	checker := verification.NewChecker(verification.CheckerOptions{
		Source:             bootstrap.NewSource(stores.Panel, nil),
		NewEvaluator:       func() engine.Evaluator { return expr.NewEvaluator(nil) },
		EngineOpts:         []engine.Option{engine.WithParallelism(cfg.Engine.Parallelism)},
		ChunkDays:          *chunkDays,
		BatchSize:          *batchSize,
		IncrementalPeriods: *incremental,
		Tolerance:          *tolerance,
	})

	var reports []*verification.Report
	ok := true
	for _, spec := range specs {
		report, err := checker.Check(ctx, spec, ff.Universe, start, end)
		if err != nil {
			logger.Fatalf("Verification of %s failed: %v", spec.Name, err)
		}
		reports = append(reports, report)
		ok = ok && report.OK()
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			logger.Fatalf("Failed to encode output: %v", err)
		}
	} else {
		for _, r := range reports {
			printReport(r)
		}
	}

	if !ok {
		os.Exit(1)
	}
}

func printReport(r *verification.Report) {
	status := "PASS"
	if !r.OK() {
		status = "FAIL"
	}
	fmt.Printf("=== %s: %s (%d rows) ===\n", r.Factor, status, r.FullRows)
	for _, m := range r.Results {
		switch {
		case m.Skipped:
			fmt.Printf("  %-12s skipped: %s\n", m.Mode, m.Reason)
		case m.Match:
			fmt.Printf("  %-12s match (%d rows)\n", m.Mode, m.Rows)
		default:
			fmt.Printf("  %-12s %d divergences (%d rows)\n", m.Mode, len(m.Divergences), m.Rows)
			for i, d := range m.Divergences {
				if i == 5 {
					fmt.Printf("    ... %d more\n", len(m.Divergences)-5)
					break
				}
				fmt.Printf("    %s %s %s expected=%v actual=%v\n", d.Kind, d.Date, d.Symbol, d.Expected, d.Actual)
			}
		}
	}
}
