// Package main loads raw panel data into the panel store: a wide CSV/XLSX
// table (date, symbol, one column per field) or a synthetic OHLCV walk.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"factor-lab/internal/config"
	"factor-lab/internal/domain"
	"factor-lab/internal/ingestion"
	"factor-lab/internal/source"
	"factor-lab/internal/storage/migrations"
	pgstore "factor-lab/internal/storage/postgres"
)

func main() {
	// Load .env file if exists
	config.LoadEnvFile(".env")

	// Parse flags (env vars as defaults)
	postgresDSN := flag.String("postgres-dsn", os.Getenv("FACTORLAB_POSTGRES_DSN"), "PostgreSQL connection string")
	file := flag.String("file", "", "Wide .csv or .xlsx table to load")
	sheet := flag.String("sheet", "", "Workbook sheet (default: first sheet)")
	freq := flag.String("freq", string(domain.FrequencyDaily), "Bar frequency: 1d, 1h or 1m")
	synthetic := flag.Bool("synthetic", false, "Generate a synthetic OHLCV walk instead of reading --file")
	universe := flag.String("universe", "AAA,BBB,CCC", "Comma-separated symbols for --synthetic")
	start := flag.String("start", "2024-01-01", "First date for --synthetic (YYYY-MM-DD)")
	periods := flag.Int("periods", 250, "Periods per symbol for --synthetic")
	seed := flag.Int64("seed", 42, "Random seed for --synthetic")
	batchSize := flag.Int("batch-size", ingestion.DefaultBatchSize, "Bars per insert batch")
	requireFields := flag.String("require-fields", "close", "Comma-separated fields every symbol must carry")
	minPeriods := flag.Int("min-periods", 0, "Distinct periods required by the sufficiency check")
	strict := flag.Bool("strict", false, "Refuse to load when a sufficiency check fails")
	checkOnly := flag.Bool("check-only", false, "Run the sufficiency check and exit without loading")
	flag.Parse()

	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile)

	if *postgresDSN == "" && !*checkOnly {
		logger.Fatal("--postgres-dsn is required")
	}
	frequency := domain.Frequency(*freq)
	if err := frequency.Validate(); err != nil {
		logger.Fatalf("Invalid --freq: %v", err)
	}
	if *synthetic == (*file != "") {
		logger.Fatal("exactly one of --file or --synthetic is required")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, stopping after current batch...", sig)
		cancel()
	}()

	var (
		bars []domain.Bar
		err  error
	)
	if *synthetic {
		first, perr := time.Parse(time.DateOnly, *start)
		if perr != nil {
			logger.Fatalf("Invalid --start: %v", perr)
		}
		bars = source.Bars(source.Synthetic(source.SyntheticOptions{
			Universe: splitList(*universe),
			Start:    frequency.Truncate(first),
			Periods:  *periods,
			Freq:     frequency,
			Seed:     *seed,
		}))
		logger.Printf("Generated %d synthetic bars", len(bars))
	} else {
		bars, err = ingestion.ReadFile(*file, *sheet, frequency)
		if err != nil {
			logger.Fatalf("Failed to read %s: %v", *file, err)
		}
		logger.Printf("Parsed %d bars from %s", len(bars), *file)
	}

	var expected []string
	if *synthetic {
		expected = splitList(*universe)
	}
	suff := ingestion.CheckSufficiency(bars, ingestion.SufficiencyRequirements{
		Universe:   expected,
		Fields:     splitList(*requireFields),
		MinPeriods: *minPeriods,
	})
	printSufficiency(suff)
	if *checkOnly {
		if !suff.AllPass {
			os.Exit(1)
		}
		return
	}
	if *strict && !suff.AllPass {
		logger.Fatal("Sufficiency check failed, refusing to load (--strict)")
	}

	pool, err := pgstore.NewPool(ctx, *postgresDSN, pgstore.WithApplicationName("factor-lab-ingest"))
	if err != nil {
		logger.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	loader := ingestion.NewLoader(ingestion.LoaderOptions{
		Store:     pgstore.NewPanelStore(pool),
		BatchSize: *batchSize,
		Logger:    logger,
	})
	res, err := loader.Load(ctx, bars)
	if err != nil {
		logger.Fatalf("Ingestion failed after %d batches: %v", res.Batches, err)
	}
	logger.Println("Ingestion complete")
}

func printSufficiency(r *ingestion.SufficiencyResult) {
	fmt.Printf("=== Data sufficiency: %s ===\n", r.Summary())
	for _, c := range r.Checks {
		status := "PASS"
		if !c.Pass {
			status = "FAIL"
		}
		fmt.Printf("  [%s] %-18s %s (threshold %s)\n", status, c.Name, c.Actual, c.Threshold)
	}
	for _, e := range r.Errors {
		fmt.Printf("  - %s\n", e)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
