// Package main provides the unified factor service:
// - Compute (scheduled): full pass on start, incremental refresh on an interval
// - API (continuous): stored factors, tracked runs, status, metrics
// - Feed (continuous): WebSocket broadcast of store mutations
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"factor-lab/internal/api"
	"factor-lab/internal/bootstrap"
	"factor-lab/internal/config"
	"factor-lab/internal/domain"
	"factor-lab/internal/engine"
	"factor-lab/internal/feed"
	"factor-lab/internal/orchestrator"
	"factor-lab/internal/tracking"
)

// Server holds all components of the unified service.
type Server struct {
	// Configuration
	cfg             *config.Config
	factors         *config.FactorFile
	specs           []*domain.FactorSpec
	computeInterval time.Duration
	incremental     int

	// Components
	stores *bootstrap.Stores
	orch   *orchestrator.Orchestrator
	hub    *feed.Hub
	logger *log.Logger

	// State
	mu             sync.Mutex
	started        time.Time
	lastFullRun    time.Time
	lastRefreshRun time.Time
	computing      bool
	fullRuns       int
	refreshRuns    int
	failures       int
}

func main() {
	// Load .env file if exists
	config.LoadEnvFile(".env")

	// Parse flags (env vars as defaults)
	configPath := flag.String("config", os.Getenv("FACTORLAB_CONFIG"), "Path to YAML config file")
	factorsPath := flag.String("factors", "", "Factor definitions file (default from config)")
	computeInterval := flag.Duration("compute-interval", 1*time.Hour, "Incremental refresh interval")
	incremental := flag.Int("incremental-periods", 5, "Trailing periods recomputed on each refresh")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage with a synthetic panel")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

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
	specs, err := ff.Specs()
	if err != nil {
		logger.Fatalf("Failed to build factors: %v", err)
	}
	if len(ff.Universe) == 0 {
		logger.Fatal("factor file must set a universe")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	stores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer stores.Close()

	if stores.Memory {
		start, end, err := rangeOrDefault(ff, specs)
		if err != nil {
			logger.Fatalf("Invalid factor file range: %v", err)
		}
		n, err := bootstrap.SeedForSpecs(ctx, stores, ff.Universe, start, end, specs, cfg.Engine.LabelHorizon)
		if err != nil {
			logger.Fatalf("Failed to seed panel: %v", err)
		}
		logger.Printf("Seeded %d synthetic bars", n)
	}

	hub := feed.NewHub(feed.Options{
		ReadBufferSize:  cfg.Feed.ReadBufferSize,
		WriteBufferSize: cfg.Feed.WriteBufferSize,
		SendBuffer:      cfg.Feed.SendBuffer,
		PingPeriod:      cfg.Feed.PingPeriod,
		PongWait:        cfg.Feed.PongWait,
		WriteWait:       cfg.Feed.WriteWait,
		Logger:          log.New(os.Stdout, "[feed] ", log.LstdFlags),
	})
	go hub.Run(ctx)

	engineLogger := log.New(os.Stdout, "[engine] ", log.LstdFlags)
	src := bootstrap.NewSource(stores.Panel, nil)
	eng := bootstrap.NewEngine(cfg, stores.Factors, src, engineLogger, engine.WithNotifier(hub))

	server := &Server{
		cfg:             cfg,
		factors:         ff,
		specs:           specs,
		computeInterval: *computeInterval,
		incremental:     *incremental,
		stores:          stores,
		hub:             hub,
		logger:          logger,
		started:         time.Now(),
		orch: orchestrator.New(orchestrator.Options{
			Engine: eng,
			Source: src,
			Tracker: tracking.NewStoreTracker(tracking.Options{
				Store:      stores.Runs,
				Experiment: cfg.Experiment,
				Logger:     log.New(os.Stdout, "[tracking] ", log.LstdFlags),
			}),
			Horizon: cfg.Engine.LabelHorizon,
			Verbose: true,
		}),
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(cfg.Server.ShutdownTimeout):
			logger.Printf("Graceful shutdown timed out after %v, forcing exit", cfg.Server.ShutdownTimeout)
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Run the unified server
	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// Run starts the HTTP server and the compute scheduler.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting factor server...")

	httpServer := &http.Server{
		Addr: s.cfg.Server.Addr,
		Handler: api.New(api.Options{
			Store:      s.stores.Factors,
			RunStore:   s.stores.Runs,
			Experiment: s.cfg.Experiment,
			Feed:       s.hub,
			Status:     func() any { return s.status() },
			Logger:     log.New(os.Stdout, "[api] ", log.LstdFlags),
		}),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	// Create error channel for goroutines
	errCh := make(chan error, 2)

	go func() {
		s.logger.Printf("Starting HTTP server on %s", s.cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		if err := s.runScheduler(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("compute scheduler: %w", err)
		}
	}()

	// Wait for context cancellation or error
	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Printf("HTTP shutdown error: %v", err)
	}
	return runErr
}

// runScheduler computes every factor in full once, then refreshes the
// trailing periods incrementally on each tick.
func (s *Server) runScheduler(ctx context.Context) error {
	s.logger.Printf("Starting compute scheduler (interval: %v)...", s.computeInterval)

	s.runCompute(ctx, true)

	ticker := time.NewTicker(s.computeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runCompute(ctx, false)
		}
	}
}

// runCompute executes one full or incremental pass over all factors.
func (s *Server) runCompute(ctx context.Context, full bool) {
	s.mu.Lock()
	if s.computing {
		s.mu.Unlock()
		s.logger.Println("Compute already running, skipping...")
		return
	}
	s.computing = true
	s.mu.Unlock()

	failures := 0
	defer func() {
		s.mu.Lock()
		s.computing = false
		s.failures += failures
		if full {
			s.lastFullRun = time.Now()
			s.fullRuns++
		} else {
			s.lastRefreshRun = time.Now()
			s.refreshRuns++
		}
		s.mu.Unlock()
	}()

	start, end, err := rangeOrDefault(s.factors, s.specs)
	if err != nil {
		s.logger.Printf("Invalid range: %v", err)
		failures++
		return
	}

	began := time.Now()
	for _, spec := range s.specs {
		if ctx.Err() != nil {
			return
		}
		var result *orchestrator.RunResult
		if full {
			result, err = s.orch.RunFull(ctx, spec, s.factors.Universe, start, end)
		} else {
			result, err = s.orch.RunIncremental(ctx, spec, s.factors.Universe, trailing(spec.Freq, end, s.incremental))
		}
		if err != nil {
			s.logger.Printf("Factor %s failed: %v", spec.Name, err)
			failures++
			continue
		}
		s.logger.Printf("Factor %s: %d rows (run %s)", spec.Name, result.FactorRows, result.RunID)
	}
	s.logger.Printf("Compute pass completed in %v (%d failures)", time.Since(began), failures)
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status         string    `json:"status"`
	Uptime         string    `json:"uptime"`
	Started        time.Time `json:"started"`
	Factors        []string  `json:"factors"`
	LastFullRun    time.Time `json:"last_full_run,omitempty"`
	LastRefreshRun time.Time `json:"last_refresh_run,omitempty"`
	FullRuns       int       `json:"full_runs"`
	RefreshRuns    int       `json:"refresh_runs"`
	Failures       int       `json:"failures"`
	Computing      bool      `json:"computing"`
	FeedClients    int       `json:"feed_clients"`
}

func (s *Server) status() StatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(s.specs))
	for i, spec := range s.specs {
		names[i] = spec.Name
	}
	return StatusResponse{
		Status:         "running",
		Uptime:         time.Since(s.started).Round(time.Second).String(),
		Started:        s.started,
		Factors:        names,
		LastFullRun:    s.lastFullRun,
		LastRefreshRun: s.lastRefreshRun,
		FullRuns:       s.fullRuns,
		RefreshRuns:    s.refreshRuns,
		Failures:       s.failures,
		Computing:      s.computing,
		FeedClients:    s.hub.ClientCount(),
	}
}

// rangeOrDefault returns the factor file range. A missing end means the
// current period; a missing start means one year before end.
func rangeOrDefault(ff *config.FactorFile, specs []*domain.FactorSpec) (time.Time, time.Time, error) {
	start, end, err := ff.Range()
	if err != nil {
		return start, end, err
	}
	freq := domain.FrequencyDaily
	if len(specs) > 0 {
		freq = specs[0].Freq
	}
	if end.IsZero() {
		end = freq.Truncate(time.Now())
	}
	if start.IsZero() {
		start = end.AddDate(-1, 0, 0)
	}
	return start, end, nil
}

// trailing returns the last n periods ending at end.
func trailing(freq domain.Frequency, end time.Time, n int) []time.Time {
	if n <= 0 {
		n = 1
	}
	end = freq.Truncate(end)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = freq.Shift(end, i-n+1)
	}
	return out
}
