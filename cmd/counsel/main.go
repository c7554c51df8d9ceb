// Command counsel runs the deliberation MCP server over stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/counselhq/counsel/internal/adapter"
	"github.com/counselhq/counsel/internal/config"
	"github.com/counselhq/counsel/internal/convergence"
	"github.com/counselhq/counsel/internal/deliberation"
	"github.com/counselhq/counsel/internal/graph"
	"github.com/counselhq/counsel/internal/mcp"
	"github.com/counselhq/counsel/internal/similarity"
	"github.com/counselhq/counsel/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	configPath := flag.String("config", defaultConfigPath(), "path to config.yaml (empty for defaults)")
	flag.Parse()

	// Load .env first so ${ENV} references in the config resolve.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "counsel: %v\n", err)
		return 1
	}

	// stdout carries the MCP protocol; all logging goes to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

// defaultConfigPath picks up a config.yaml next to the working directory
// when present, matching how the server is usually launched by MCP hosts.
func defaultConfigPath() string {
	if p := os.Getenv("COUNSEL_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("counsel starting", "version", version)

	otelShutdown, err := telemetry.Init(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName, version, cfg.Telemetry.Insecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Similarity backend, shared by voting, convergence and the graph.
	provider := similarity.NewOllamaProvider(cfg.Similarity.OllamaURL, cfg.Similarity.OllamaModel)
	backend := similarity.Select(ctx, cfg.Similarity.Backend, provider, logger)
	logger.Info("similarity backend selected", "backend", backend.Name())

	// Decision graph, optional.
	var (
		graphIntegration *graph.Integration
		queryEngine      *mcp.QueryEngine
		monitor          *graph.Monitor
		worker           *graph.Worker
	)
	if cfg.DecisionGraph.Enabled {
		store, err := graph.OpenStore(cfg.Storage.DatabasePath, logger)
		if err != nil {
			return fmt.Errorf("open decision graph: %w", err)
		}
		defer func() { _ = store.Close() }()

		cache, err := graph.NewCache(cfg.Cache.QueryCacheSize,
			time.Duration(cfg.Cache.QueryTTLSeconds)*time.Second,
			cfg.Cache.EmbeddingCacheSize)
		if err != nil {
			return fmt.Errorf("build caches: %w", err)
		}

		retriever := graph.NewRetriever(store, cache, backend, logger, graph.RetrievalConfig{
			NoiseFloor:        cfg.DecisionGraph.SimilarityThreshold,
			StrongThreshold:   cfg.DecisionGraph.TierBoundaries.Strong,
			ModerateThreshold: cfg.DecisionGraph.TierBoundaries.Moderate,
			TokenBudget:       cfg.DecisionGraph.ContextTokenBudget,
		})

		worker = graph.NewWorker(store, cache, backend, logger, cfg.DecisionGraph.QueueCapacity)
		worker.Start(ctx)

		graphIntegration = graph.NewIntegration(store, cache, retriever, worker, logger)
		queryEngine = mcp.NewQueryEngine(store, backend, logger)
		monitor = graph.NewMonitor(store, cfg.Storage.DatabasePath, 0, logger)
		graph.RegisterMetrics(store, cache, worker)

		logger.Info("decision graph enabled", "database", cfg.Storage.DatabasePath)
	} else {
		logger.Info("decision graph disabled")
	}

	// Adapters.
	registry := adapter.NewRegistry(logger)
	for name, a := range cfg.Adapters {
		switch a.Type {
		case "cli":
			registry.Register(adapter.NewCLI(name, adapter.CLIConfig{
				Command:        a.Command,
				Args:           a.Args,
				Timeout:        a.Timeout(),
				MaxRetries:     a.MaxRetries,
				MaxPromptChars: a.MaxPromptChars,
			}, logger), a.RecommendedModels...)
		case "http":
			registry.Register(adapter.NewHTTP(name, adapter.HTTPConfig{
				BaseURL:    a.BaseURL,
				APIKey:     a.APIKey,
				Timeout:    a.Timeout(),
				MaxRetries: a.MaxRetries,
			}, logger), a.RecommendedModels...)
		}
	}
	logger.Info("adapters registered", "names", registry.Names())

	// Orchestrator.
	var graphDep deliberation.Graph
	if graphIntegration != nil {
		graphDep = graphIntegration
	}
	engine := deliberation.NewEngine(registry, backend, graphDep, logger, deliberation.Config{
		DefaultRounds:   cfg.Defaults.Rounds,
		MaxRounds:       cfg.Defaults.MaxRounds,
		TimeoutPerRound: time.Duration(cfg.Defaults.TimeoutPerRoundSeconds) * time.Second,
		EarlyStop: deliberation.EarlyStopConfig{
			Enabled:          cfg.EarlyStopping.Enabled,
			Threshold:        cfg.EarlyStopping.Threshold,
			RespectMinRounds: cfg.EarlyStopping.RespectMinRounds,
		},
		Convergence: convergence.Config{
			Enabled:                 cfg.ConvergenceDetection.Enabled,
			SemanticThreshold:       cfg.ConvergenceDetection.SemanticSimilarityThreshold,
			DivergenceThreshold:     cfg.ConvergenceDetection.DivergenceThreshold,
			MinRoundsBeforeCheck:    cfg.ConvergenceDetection.MinRoundsBeforeCheck,
			ConsecutiveStableRounds: cfg.ConvergenceDetection.ConsecutiveStableRounds,
		},
		ToolTimeout:    time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
		PreambleCap:    cfg.Tools.PreambleCapBytes,
		TranscriptsDir: cfg.Storage.TranscriptsDir,
	})

	// MCP server over stdio.
	mcpSrv := mcp.New(engine, queryEngine, monitor, logger, mcp.Config{
		MaxRoundsInResponse: cfg.Transport.MaxRoundsInResponse,
	})

	stdio := mcpserver.NewStdioServer(mcpSrv.MCPServer())
	logger.Info("counsel ready", "transport", "stdio")
	err = stdio.Listen(ctx, os.Stdin, os.Stdout)

	// Let in-flight similarity jobs finish before the store closes.
	if worker != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		worker.Drain(drainCtx)
	}

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: %w", err)
	}
	logger.Info("counsel shutting down")
	return nil
}
