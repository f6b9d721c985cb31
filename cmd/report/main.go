// Package main writes the factor report: Markdown summary, runs CSV, XLSX
// workbook and per-factor CSV tables.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"factor-lab/internal/bootstrap"
	"factor-lab/internal/config"
	"factor-lab/internal/orchestrator"
	"factor-lab/internal/reporting"
	"factor-lab/internal/tracking"
)

func main() {
	// Load .env file if exists
	config.LoadEnvFile(".env")

	// Parse flags
	configPath := flag.String("config", os.Getenv("FACTORLAB_CONFIG"), "Path to YAML config file")
	outputDir := flag.String("output-dir", "docs", "Output directory for generated files")
	experiment := flag.String("experiment", "", "Experiment whose runs are reported (default from config)")
	useFixtures := flag.Bool("use-fixtures", false, "Run every configured factor on a synthetic in-memory panel first")
	fixedClock := flag.Bool("fixed-clock", false, "Stamp the report with a fixed time for reproducible output")
	flag.Parse()

	ctx := context.Background()

	if *useFixtures {
		os.Setenv(config.EnvPrefix+"_USE_MEMORY", "true")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *experiment == "" {
		*experiment = cfg.Experiment
	}

	stores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to databases: %v\n", err)
		os.Exit(1)
	}
	defer stores.Close()

	if *useFixtures {
		if err := runFixtures(ctx, cfg, stores, *experiment); err != nil {
			fmt.Fprintf(os.Stderr, "Error running fixtures: %v\n", err)
			os.Exit(1)
		}
	}

	gen := reporting.NewGenerator(stores.Factors, stores.Runs, *experiment)
	if *fixedClock {
		fixedTime := time.Date(2025, 1, 4, 12, 0, 0, 0, time.UTC)
		gen = gen.WithClock(func() time.Time { return fixedTime })
	}

	written, err := gen.WriteDir(ctx, *outputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Factor report generated successfully:")
	for _, path := range written {
		fmt.Printf("  - %s\n", path)
	}
}

// runFixtures seeds a synthetic panel and runs every configured factor in
// full mode so the in-memory report has content.
func runFixtures(ctx context.Context, cfg *config.Config, stores *bootstrap.Stores, experiment string) error {
	ff, err := config.LoadFactors(cfg.FactorsFile)
	if err != nil {
		return err
	}
	specs, err := ff.Specs()
	if err != nil {
		return err
	}
	start, end, err := ff.Range()
	if err != nil {
		return err
	}
	if _, err := bootstrap.SeedForSpecs(ctx, stores, ff.Universe, start, end, specs, cfg.Engine.LabelHorizon); err != nil {
		return err
	}

	logger := log.New(os.Stderr, "[report] ", log.LstdFlags)
	src := bootstrap.NewSource(stores.Panel, nil)
	orch := orchestrator.New(orchestrator.Options{
		Engine: bootstrap.NewEngine(cfg, stores.Factors, src, nil),
		Source: src,
		Tracker: tracking.NewStoreTracker(tracking.Options{
			Store:      stores.Runs,
			Experiment: experiment,
		}),
		Horizon: cfg.Engine.LabelHorizon,
	})
	for _, spec := range specs {
		if _, err := orch.RunFull(ctx, spec, ff.Universe, start, end); err != nil {
			return fmt.Errorf("run %s: %w", spec.Name, err)
		}
		logger.Printf("Computed %s", spec.Name)
	}
	return nil
}
