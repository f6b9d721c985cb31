// Package main provides the factor pipeline entry point.
// Executes: compute → label → evaluate → track → gate, for each configured factor.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"factor-lab/internal/bootstrap"
	"factor-lab/internal/config"
	"factor-lab/internal/decision"
	"factor-lab/internal/domain"
	"factor-lab/internal/engine"
	"factor-lab/internal/expr"
	"factor-lab/internal/orchestrator"
	"factor-lab/internal/tracking"
	"factor-lab/internal/verification"
)

func main() {
	// Load .env file if exists
	config.LoadEnvFile(".env")

	// Parse flags (env vars as defaults)
	configPath := flag.String("config", os.Getenv("FACTORLAB_CONFIG"), "Path to YAML config file")
	factorsPath := flag.String("factors", "", "Factor definitions file (default from config)")
	factorName := flag.String("factor", "", "Run only this factor (default: all)")
	mode := flag.String("mode", "full", "Computation mode: full or incremental")
	dates := flag.String("dates", "", "Comma-separated YYYY-MM-DD dates for incremental mode")
	last := flag.Int("last", 5, "Incremental mode without --dates: recompute the last N periods of the range")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage with a synthetic panel")
	verify := flag.Bool("verify", false, "Check mode equivalence before the decision gate")
	gateReport := flag.String("gate-report", "", "Write the decision gate report to this Markdown file")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	logger := log.New(os.Stdout, "[pipeline] ", log.LstdFlags)

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

	ff, err := config.LoadFactors(*factorsPath)
	if err != nil {
		logger.Fatalf("Failed to load factors: %v", err)
	}
	specs, err := selectSpecs(ff, *factorName)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	start, end, err := ff.Range()
	if err != nil {
		logger.Fatalf("Invalid factor file range: %v", err)
	}
	if start.IsZero() || end.IsZero() || len(ff.Universe) == 0 {
		logger.Fatal("factor file must set universe, start and end")
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, cancelling pipeline...", sig)
		cancel()
	}()

	stores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer stores.Close()

	if n, err := bootstrap.SeedForSpecs(ctx, stores, ff.Universe, start, end, specs, cfg.Engine.LabelHorizon); err != nil {
		logger.Fatalf("Failed to seed panel: %v", err)
	} else if n > 0 {
		logger.Printf("Seeded %d synthetic bars", n)
	}

	var engineLogger *log.Logger
	if *verbose {
		engineLogger = log.New(os.Stdout, "[engine] ", log.LstdFlags)
	}
	src := bootstrap.NewSource(stores.Panel, engineLogger)
	orch := orchestrator.New(orchestrator.Options{
		Engine: bootstrap.NewEngine(cfg, stores.Factors, src, engineLogger),
		Source: src,
		Tracker: tracking.NewStoreTracker(tracking.Options{
			Store:      stores.Runs,
			Experiment: cfg.Experiment,
			Logger:     engineLogger,
		}),
		Horizon: cfg.Engine.LabelHorizon,
		Verbose: *verbose,
	})

	var checker *verification.Checker
	if *verify {
		checker = verification.NewChecker(verification.CheckerOptions{
			Source:       src,
			NewEvaluator: func() engine.Evaluator { return expr.NewEvaluator(nil) },
			EngineOpts:   []engine.Option{engine.WithParallelism(cfg.Engine.Parallelism)},
		})
	}
	gate := decision.NewEvaluator()

	var decisions []*decision.DecisionResult
	failed := 0
	for _, spec := range specs {
		var (
			result *orchestrator.RunResult
			err    error
		)
		switch *mode {
		case "full":
			result, err = orch.RunFull(ctx, spec, ff.Universe, start, end)
		case "incremental":
			var newDates []time.Time
			newDates, err = incrementalDates(*dates, *last, spec.Freq, end)
			if err == nil {
				result, err = orch.RunIncremental(ctx, spec, ff.Universe, newDates)
			}
		default:
			logger.Fatalf("unknown mode %q (want full or incremental)", *mode)
		}
		if err != nil {
			logger.Printf("Factor %s failed: %v", spec.Name, err)
			failed++
			continue
		}
		printResult(result)

		var report *verification.Report
		if checker != nil {
			report, err = checker.Check(ctx, spec, ff.Universe, start, end)
			if err != nil {
				logger.Printf("Factor %s verification failed: %v", spec.Name, err)
				failed++
				continue
			}
		}
		d, err := gate.Evaluate(decision.InputFromMetrics(spec.Name, result.RunID, result.Metrics, report))
		if err != nil {
			logger.Printf("Factor %s decision failed: %v", spec.Name, err)
			failed++
			continue
		}
		fmt.Printf("  decision:    %s\n", d.Decision)
		decisions = append(decisions, d)
	}

	if *gateReport != "" {
		if err := os.WriteFile(*gateReport, []byte(decision.RenderMarkdown(decisions)), 0644); err != nil {
			logger.Fatalf("Failed to write decision gate report: %v", err)
		}
		logger.Printf("Decision gate report written to %s", *gateReport)
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d factors failed\n", failed, len(specs))
		os.Exit(1)
	}
}

func selectSpecs(ff *config.FactorFile, name string) ([]*domain.FactorSpec, error) {
	if name == "" {
		return ff.Specs()
	}
	spec, err := ff.Spec(name)
	if err != nil {
		return nil, err
	}
	return []*domain.FactorSpec{spec}, nil
}

// incrementalDates parses --dates, or falls back to the last n periods
// ending at end.
func incrementalDates(list string, n int, freq domain.Frequency, end time.Time) ([]time.Time, error) {
	if list == "" {
		if n <= 0 {
			return nil, fmt.Errorf("--last must be positive, got %d", n)
		}
		out := make([]time.Time, n)
		for i := range out {
			out[i] = freq.Shift(freq.Truncate(end), i-n+1)
		}
		return out, nil
	}

	var out []time.Time
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", s, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func printResult(r *orchestrator.RunResult) {
	fmt.Printf("=== %s ===\n", r.RunName)
	fmt.Printf("  run_id:    %s\n", r.RunID)
	fmt.Printf("  rows:      %d\n", r.FactorRows)
	fmt.Printf("  spec_hash: %s\n", r.SpecHash)
	fmt.Printf("  data_hash: %s\n", r.DataHash)

	keys := make([]string, 0, len(r.Metrics))
	for k := range r.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-13s %.6f\n", k+":", r.Metrics[k])
	}
}
