// Package main evaluates a factor against the forward-return label: IC and a
// long-short backtest. Stored values are used unless --compute is given.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"factor-lab/internal/bootstrap"
	"factor-lab/internal/config"
	"factor-lab/internal/domain"
	"factor-lab/internal/orchestrator"
	"factor-lab/internal/tracking"
)

// BacktestOutput is the JSON output format.
type BacktestOutput struct {
	Factor  string              `json:"factor"`
	Start   string              `json:"start"`
	End     string              `json:"end"`
	Horizon int                 `json:"horizon"`
	Rows    int                 `json:"rows"`
	Metrics map[string]*float64 `json:"metrics"`
}

func main() {
	// Load .env file if exists
	config.LoadEnvFile(".env")

	// Parse flags (env vars as defaults)
	configPath := flag.String("config", os.Getenv("FACTORLAB_CONFIG"), "Path to YAML config file")
	factorsPath := flag.String("factors", "", "Factor definitions file (default from config)")
	factorName := flag.String("factor", "", "Factor to evaluate (required)")
	horizon := flag.Int("horizon", 0, "Forward return horizon in periods (default from config)")
	compute := flag.Bool("compute", false, "Recompute the factor in full mode before evaluating")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage with a synthetic panel (implies --compute)")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	logger := log.New(os.Stderr, "[backtest] ", log.LstdFlags)

	if *factorName == "" {
		logger.Fatal("--factor is required")
	}
	if *useMemory {
		os.Setenv(config.EnvPrefix+"_USE_MEMORY", "true")
		*compute = true
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *factorsPath == "" {
		*factorsPath = cfg.FactorsFile
	}
	if *horizon <= 0 {
		*horizon = cfg.Engine.LabelHorizon
	}

	ff, err := config.LoadFactors(*factorsPath)
	if err != nil {
		logger.Fatalf("Failed to load factors: %v", err)
	}
	spec, err := ff.Spec(*factorName)
	if err != nil {
		logger.Fatalf("%v", err)
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

	if _, err := bootstrap.SeedForSpecs(ctx, stores, ff.Universe, start, end, []*domain.FactorSpec{spec}, *horizon); err != nil {
		logger.Fatalf("Failed to seed panel: %v", err)
	}

	src := bootstrap.NewSource(stores.Panel, nil)
	eng := bootstrap.NewEngine(cfg, stores.Factors, src, nil)
	orch := orchestrator.New(orchestrator.Options{
		Engine:  eng,
		Source:  src,
		Tracker: tracking.NewMemoryTracker(cfg.Experiment),
		Horizon: *horizon,
	})

	if *compute {
		if _, err := eng.ComputeFull(ctx, spec, ff.Universe, start, end); err != nil {
			logger.Fatalf("Compute failed: %v", err)
		}
	}

	metrics, rows, err := orch.EvaluateStored(ctx, spec, ff.Universe, start, end)
	if err != nil {
		logger.Fatalf("Evaluation failed: %v", err)
	}
	if rows == 0 {
		logger.Printf("No stored rows for %s; run the pipeline first or pass --compute", spec.Name)
	}

	out := BacktestOutput{
		Factor:  spec.Name,
		Start:   start.Format("2006-01-02"),
		End:     end.Format("2006-01-02"),
		Horizon: *horizon,
		Rows:    rows,
		Metrics: make(map[string]*float64, len(metrics)),
	}
	for k, v := range metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out.Metrics[k] = nil
			continue
		}
		v := v
		out.Metrics[k] = &v
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			logger.Fatalf("Failed to encode output: %v", err)
		}
		return
	}

	fmt.Printf("=== Backtest: %s [%s, %s] h=%d ===\n", out.Factor, out.Start, out.End, out.Horizon)
	fmt.Printf("Rows: %d\n", out.Rows)
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-13s %.6f\n", k+":", metrics[k])
	}
}
