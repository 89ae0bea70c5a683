package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/arguendo/recall/config"
	"github.com/arguendo/recall/pkg/api"
	"github.com/arguendo/recall/pkg/api/events"
	"github.com/arguendo/recall/pkg/api/handlers"
	"github.com/arguendo/recall/pkg/bench"
	"github.com/arguendo/recall/pkg/embedding"
	"github.com/arguendo/recall/pkg/logger"
	"github.com/arguendo/recall/pkg/memory"
	"github.com/arguendo/recall/pkg/metrics"
	"github.com/arguendo/recall/pkg/telemetry/tracing"
	"github.com/arguendo/recall/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")

	// Benchmark mode
	benchFlag = flag.Bool("bench", false, "Run the retrieval benchmark scenarios and exit")
	benchRuns = flag.Int("bench-runs", 5, "Number of benchmark runs for the baseline report")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("starting recall",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)

	// Every behavior-changing knob is stated here once, at startup. There
	// are no implicit retrieval flags.
	log.Info("active configuration", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if *benchFlag {
		if err := runBenchmarks(ctx, cfg, log); err != nil {
			log.Error("benchmark run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// Tracing
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
		if err != nil {
			log.Error("failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error("error shutting down tracing", "error", err)
			}
		}()
		log.Info("tracing initialized", "endpoint", cfg.Tracing.Endpoint)
	}

	// Metrics
	metricsManager := metrics.NewManager(metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: "recall",
	})
	if metricsManager.Enabled() {
		go func() {
			log.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	// Embedding provider, optionally wrapped with a cache
	provider, err := embedding.NewProvider(cfg.Embedder)
	if err != nil {
		log.Error("failed to create embedding provider", "error", err)
		os.Exit(1)
	}
	cacheBackend, err := embedding.NewCacheBackend(cfg.Cache)
	if err != nil {
		log.Error("failed to create embedding cache", "error", err)
		os.Exit(1)
	}
	if cacheBackend != nil {
		provider = embedding.NewCachingProvider(provider, cacheBackend, metricsManager)
		log.Info("embedding cache enabled", "type", cfg.Cache.Type)
	}
	defer func() {
		if err := provider.Close(); err != nil {
			log.Error("error closing embedding provider", "error", err)
		}
	}()

	// Durable record log
	recordLog, closeLog, err := openRecordLog(cfg, log)
	if err != nil {
		log.Error("failed to open record log", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	// Hot-swappable tunables plus the file watcher that feeds them
	tunables := config.NewTunables(&cfg.Retrieval)
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, tunables,
			config.WithSwapCallback(func(old, new config.TunableValues) {
				log.Info("tunables swapped",
					"vector_weight", new.VectorWeight,
					"similarity_threshold", new.SimilarityThreshold,
					"version", new.Version,
				)
			}),
			config.WithErrorCallback(func(err error) {
				log.Warn("tunables reload failed", "error", err)
			}),
		)
		if err != nil {
			log.Error("failed to create config watcher", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				log.Warn("config watcher stopped", "error", err)
			}
		}()
		defer watcher.Stop()
	}

	// Event fanout and branch observers
	broadcaster := events.NewBroadcaster()
	defer broadcaster.Close()

	observer := memory.MultiObserver{
		metrics.NewBranchObserver(metricsManager),
		events.NewObserverBridge(broadcaster),
	}

	// The memory store, replayed from the durable log
	store := memory.NewMemoryStore(
		memory.StoreConfig{
			Dimension:      cfg.Embedder.Dimensions,
			WindowCapacity: cfg.Retrieval.Window.Capacity,
			LexicalK1:      cfg.Retrieval.Lexical.K1,
			LexicalB:       cfg.Retrieval.Lexical.B,
			Retriever: memory.RetrieverConfig{
				CandidateMultiplier: cfg.Retrieval.CandidateMultiplier,
				MinCandidatePool:    cfg.Retrieval.MinCandidatePool,
				PrecisionFiltering:  cfg.Retrieval.PrecisionEnabled(),
			},
		},
		provider,
		recordLog,
		tunables,
		observer,
		log,
	)
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("error closing memory store", "error", err)
		}
	}()

	replayed, err := store.Replay(ctx)
	if err != nil {
		log.Error("failed to replay record log", "error", err)
		os.Exit(1)
	}
	log.Info("memory store ready", "replayed_records", replayed)

	payloads := memory.NewContextPayloadBuilder(store, 5, metricsManager, log)

	// HTTP surface
	memoryHandler := handlers.NewMemoryHandler(
		store, payloads, broadcaster, metricsManager,
		cfg.Retrieval.Payload.DefaultBudget, log,
	)
	healthHandler := handlers.NewHealthHandler(store)
	eventsHandler := handlers.NewEventsHandler(log, broadcaster, metricsManager, handlers.WebSocketConfig{})
	defer eventsHandler.Close()

	apiHandlers := &api.Handlers{
		Memory:  memoryHandler,
		Health:  healthHandler,
		Events:  eventsHandler,
		Metrics: metricsManager,
	}

	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	log.Info("recall is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
		"embedder", cfg.Embedder.Provider,
		"storage", cfg.Storage.Type,
	)

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down HTTP server", "error", err)
	}

	log.Info("recall stopped gracefully")
}

// openRecordLog builds the configured record log backend. The returned
// closer also closes the underlying database when there is one.
func openRecordLog(cfg *config.Config, log logger.Logger) (memory.RecordLog, func(), error) {
	switch cfg.Storage.Type {
	case "badger":
		opts := badgerdb.DefaultOptions(cfg.Storage.Badger.Path).
			WithSyncWrites(cfg.Storage.Badger.SyncWrites).
			WithLogger(nil)
		if cfg.Storage.Badger.ValueLogFileSize > 0 {
			opts = opts.WithValueLogFileSize(cfg.Storage.Badger.ValueLogFileSize)
		}
		db, err := badgerdb.Open(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger record log: %w", err)
		}
		log.Info("badger record log opened", "path", cfg.Storage.Badger.Path)
		return memory.NewBadgerLog(db), func() {
			if err := db.Close(); err != nil {
				log.Error("error closing badger record log", "error", err)
			}
		}, nil
	case "memory", "":
		log.Info("in-memory record log (no durability across restarts)")
		return memory.NewInMemoryLog(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// runBenchmarks runs the default scenarios against a fresh store per
// scenario and prints the baseline report as JSON.
func runBenchmarks(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	tunables := config.NewTunables(&cfg.Retrieval)

	factory := func() (*memory.MemoryStore, error) {
		// Benchmarks always run on the deterministic embedder so scores
		// are reproducible run to run.
		provider := embedding.NewStaticProvider(cfg.Embedder.Dimensions)
		return memory.NewMemoryStore(
			memory.StoreConfig{
				Dimension:      cfg.Embedder.Dimensions,
				WindowCapacity: cfg.Retrieval.Window.Capacity,
				LexicalK1:      cfg.Retrieval.Lexical.K1,
				LexicalB:       cfg.Retrieval.Lexical.B,
				Retriever: memory.RetrieverConfig{
					CandidateMultiplier: cfg.Retrieval.CandidateMultiplier,
					MinCandidatePool:    cfg.Retrieval.MinCandidatePool,
					PrecisionFiltering:  cfg.Retrieval.PrecisionEnabled(),
				},
			},
			provider,
			memory.NewInMemoryLog(),
			tunables,
			nil,
			log,
		), nil
	}

	harness := bench.NewHarness(factory, log)
	report, err := harness.Baseline(ctx, bench.DefaultScenarios(), *benchRuns)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("Recall - Hybrid Retrieval Memory Engine\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("Recall - layered memory and hybrid retrieval engine for conversational agents\n\n")
	fmt.Printf("Usage: recall [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  recall                                    # Run with default config\n")
	fmt.Printf("  recall -config config.yaml                # Use specific config file\n")
	fmt.Printf("  recall -port 9090 -log-level debug        # Override specific options\n")
	fmt.Printf("  recall -bench -bench-runs 5               # Print a benchmark baseline report\n")
	fmt.Printf("  recall -version                           # Print version info\n")
}
