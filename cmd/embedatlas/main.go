// Package main implements the entry point for the embedatlas server.
// embedatlas serves an embedding visualization frontend: dataset bytes
// with range support, SQL queries, selection export, projection compute
// with on-disk caching, and a WebSocket RPC bridge.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/embedatlas/bridge"
	"github.com/c360/embedatlas/config"
	"github.com/c360/embedatlas/datasource"
	"github.com/c360/embedatlas/embedding"
	"github.com/c360/embedatlas/metric"
	"github.com/c360/embedatlas/pkg/worker"
	"github.com/c360/embedatlas/projection"
	"github.com/c360/embedatlas/query"
	"github.com/c360/embedatlas/reduction"
	"github.com/c360/embedatlas/server"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "embedatlas"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	// Run application with proper error handling
	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	// Parse and validate CLI flags
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	// Load and validate configuration
	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	// Load the dataset and stage its serving assets
	source, err := loadDataSource(cfg)
	if err != nil {
		return err
	}

	if cliCfg.ExportPath != "" {
		return exportStatic(source, cfg, cliCfg.ExportPath)
	}

	ctx := context.Background()
	deps, cleanup, err := setupInfrastructure(ctx, cfg, source, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return runWithSignalHandling(ctx, cfg, deps, logger)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting embedatlas (embedding visualization backend)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads the config file when given and layers the
// CLI overrides on top.
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	cfg := config.Default()
	if cliCfg.ConfigPath != "" {
		loaded, err := config.Load(cliCfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if cliCfg.Addr != "" {
		cfg.Addr = cliCfg.Addr
	}
	if cliCfg.StaticPath != "" {
		cfg.StaticPath = cliCfg.StaticPath
	}
	if cliCfg.CacheDir != "" {
		cfg.CacheDir = cliCfg.CacheDir
	}
	if cliCfg.DatasetPath != "" {
		cfg.Dataset.Path = cliCfg.DatasetPath
	}
	if cliCfg.Identifier != "" {
		cfg.Dataset.Identifier = cliCfg.Identifier
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadDataSource reads the dataset file and stages the serving assets.
// Without a dataset path the server runs with an empty dataset, which is
// still useful for the compute-embedding and bridge endpoints.
func loadDataSource(cfg *config.Config) (*datasource.DataSource, error) {
	dataset := &datasource.Dataset{}
	if cfg.Dataset.Path != "" {
		loaded, err := datasource.LoadTableJSON(cfg.Dataset.Path)
		if err != nil {
			return nil, fmt.Errorf("load dataset %s: %w", cfg.Dataset.Path, err)
		}
		dataset = loaded
		slog.Info("Dataset loaded",
			"path", cfg.Dataset.Path,
			"rows", len(dataset.Rows),
			"columns", len(dataset.Columns))
	} else {
		slog.Warn("No dataset path configured, serving an empty dataset")
	}

	cacheRoot, err := resolveCacheRoot(cfg)
	if err != nil {
		return nil, err
	}

	source, err := datasource.New(cfg.Dataset.Identifier, dataset, nil, cacheRoot)
	if err != nil {
		return nil, fmt.Errorf("create datasource: %w", err)
	}
	return source, nil
}

func resolveCacheRoot(cfg *config.Config) (string, error) {
	if cfg.CacheDir != "" {
		return cfg.CacheDir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache dir: %w", err)
	}
	return filepath.Join(base, appName), nil
}

// exportStatic writes a self-contained static build and exits.
func exportStatic(source *datasource.DataSource, cfg *config.Config, folder string) error {
	slog.Info("Exporting static build", "folder", folder)
	if err := source.ExportToFolder(cfg.StaticPath, folder, nil); err != nil {
		return fmt.Errorf("export static build: %w", err)
	}
	slog.Info("Static build exported", "folder", folder)
	return nil
}

// setupInfrastructure wires the query database, projection engine, bridge,
// dispatcher, and metrics into the server dependency set.
func setupInfrastructure(
	ctx context.Context,
	cfg *config.Config,
	source *datasource.DataSource,
	logger *slog.Logger,
) (server.Deps, func(), error) {
	registry := metric.NewRegistry()

	db, err := query.Open(ctx, source.Dataset)
	if err != nil {
		return server.Deps{}, nil, fmt.Errorf("open query database: %w", err)
	}

	dispatch := worker.NewDispatcher(cfg.Workers.Count, cfg.Workers.QueueSize)
	if err := dispatch.Start(ctx); err != nil {
		_ = db.Close()
		return server.Deps{}, nil, fmt.Errorf("start dispatcher: %w", err)
	}

	cleanup := func() {
		if err := dispatch.Stop(5 * time.Second); err != nil {
			slog.Warn("Dispatcher stop failed", "error", err)
		}
		if err := db.Close(); err != nil {
			slog.Warn("Database close failed", "error", err)
		}
	}

	engine, capabilities, err := setupProjectionEngine(cfg, source, logger, registry)
	if err != nil {
		cleanup()
		return server.Deps{}, nil, err
	}

	deps := server.Deps{
		Source:       source,
		Gateway:      query.NewGateway(db, logger, registry.Core),
		Exporter:     query.NewExporter(db, "", logger),
		Engine:       engine,
		Dispatch:     dispatch,
		Registry:     registry,
		Capabilities: capabilities,
	}
	if cfg.Bridge.Enabled {
		deps.Bridge = bridge.New(logger,
			bridge.WithRequestTimeout(cfg.Bridge.RequestTimeout),
			bridge.WithMetrics(registry.Core))
	}

	return deps, cleanup, nil
}

// setupProjectionEngine builds the compute-embedding pipeline. Text and
// image producers need a remote embedding API; without one only vector
// projections are available.
func setupProjectionEngine(
	cfg *config.Config,
	source *datasource.DataSource,
	logger *slog.Logger,
	registry *metric.Registry,
) (*projection.Engine, server.Capabilities, error) {
	cacheRoot, err := resolveCacheRoot(cfg)
	if err != nil {
		return nil, server.Capabilities{}, err
	}
	cache, err := projection.NewFSCache(filepath.Join(cacheRoot, "projections"))
	if err != nil {
		return nil, server.Capabilities{}, fmt.Errorf("create projection cache: %w", err)
	}

	capabilities := server.Capabilities{Vector: true}

	var textProducer, imageProducer embedding.Producer
	if cfg.Embedding.APIKey != "" {
		encoder, err := embedding.NewSentenceEncoder(embedding.EncoderConfig{
			BaseURL: cfg.Embedding.APIBase,
			APIKey:  cfg.Embedding.APIKey,
			Logger:  logger,
		})
		if err != nil {
			return nil, server.Capabilities{}, fmt.Errorf("create embedding encoder: %w", err)
		}
		textProducer = encoder.Producer()
		imageProducer = encoder.Producer()

		textModel := cfg.Embedding.TextModel
		if textModel == "" {
			textModel = projection.DefaultTextModel
		}
		imageModel := cfg.Embedding.ImageModel
		if imageModel == "" {
			imageModel = projection.DefaultImageModel
		}
		capabilities.TextModels = []string{textModel}
		capabilities.ImageModels = []string{imageModel}
	} else {
		slog.Info("No embedding API key configured, text and image projections disabled")
	}

	opts := []projection.EngineOption{
		projection.WithEngineMetrics(registry.Core),
	}
	if imageProducer != nil {
		opts = append(opts, projection.WithImageProducer(imageProducer))
	}

	engine := projection.NewEngine(cache, reduction.NewPCAReducer(), textProducer, logger, opts...)
	return engine, capabilities, nil
}

// runWithSignalHandling starts the HTTP server and blocks until a signal
// arrives, then drains in-flight requests.
func runWithSignalHandling(
	ctx context.Context,
	cfg *config.Config,
	deps server.Deps,
	logger *slog.Logger,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	srv := server.New(cfg, deps, logger)

	slog.Info("embedatlas started", "addr", cfg.Addr, "database", cfg.Database.Type)
	if err := srv.Start(signalCtx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	slog.Info("embedatlas shutdown complete")
	return nil
}
