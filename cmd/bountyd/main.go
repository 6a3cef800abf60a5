package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"bountychain/config"
	"bountychain/core"
	"bountychain/native/bounty"
	"bountychain/observability"
	"bountychain/observability/logging"
	"bountychain/observability/metrics"
	telemetry "bountychain/observability/otel"
	"bountychain/rpc"
	"bountychain/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	allowMigrateFlag := flag.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "bountyd",
		Env:        cfg.Environment,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	os.Exit(runAndClose(cfg, *allowMigrateFlag, logger, logCloser))
}

// runAndClose runs the node and closes the log sink before returning the exit
// code, since os.Exit skips deferred calls.
func runAndClose(cfg *config.Config, allowMigrate bool, logger *slog.Logger, logCloser io.Closer) int {
	code := 0
	if err := run(cfg, allowMigrate, logger); err != nil {
		logger.Error("bountyd exited with error", slog.String("error", err.Error()))
		code = 1
	}
	if err := logCloser.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close log file: %v\n", err)
	}
	return code
}

func run(cfg *config.Config, allowMigrate bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	node, err := core.NewNode(db, core.NodeOptions{
		Tokens:       cfg.Tokens,
		Emitter:      observability.Events(),
		Logger:       logger,
		Metrics:      metrics.Bounty(),
		AllowMigrate: cfg.AllowMigrate || allowMigrate,
	})
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	if err := bootstrap(ctx, node, cfg, logger); err != nil {
		return err
	}

	if interval := cfg.SweepInterval(); interval > 0 {
		sweeper, err := core.NewExpirySweeper(node, interval, logger)
		if err != nil {
			return err
		}
		sweeper.Start()
		defer func() {
			if err := sweeper.Stop(); err != nil {
				logger.Warn("sweeper shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	server, err := rpc.NewServer(node, rpc.ServerConfig{
		AdminSecret:       cfg.AdminSecret,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		DisableRateLimit:  cfg.RateLimit.Disabled,
		TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ListenAddress)
	}()
	logger.Info("bountyd started",
		slog.String("network", cfg.NetworkName),
		slog.String("backend", cfg.Backend),
		slog.String("listen", cfg.ListenAddress))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc shutdown: %w", err)
	}
	return <-errCh
}

// openDatabase opens the configured storage backend.
func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare data directory: %w", err)
		}
		db, err := storage.NewBoltDB(filepath.Join(cfg.DataDir, "bounty.db"), nil)
		if err != nil {
			return nil, fmt.Errorf("open bolt database: %w", err)
		}
		return db, nil
	case config.BackendLevelDB, "":
		db, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open leveldb database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

// bootstrap applies genesis allocations and initializes the registry. Both
// steps are idempotent across restarts.
func bootstrap(ctx context.Context, node *core.Node, cfg *config.Config, logger *slog.Logger) error {
	parsed, err := cfg.ParsedAllocations()
	if err != nil {
		return err
	}
	allocs := make([]core.Allocation, 0, len(parsed))
	for _, alloc := range parsed {
		allocs = append(allocs, core.Allocation{Address: alloc.Address, Token: alloc.Token, Amount: alloc.Amount})
	}
	switch err := node.ApplyAllocations(ctx, allocs); {
	case err == nil:
		logger.Info("genesis allocations applied", slog.Int("count", len(allocs)))
	case errors.Is(err, core.ErrGenesisApplied):
	default:
		return fmt.Errorf("apply allocations: %w", err)
	}
	if !cfg.AutoInitialize {
		return nil
	}
	if err := node.Initialize(ctx); err != nil && !errors.Is(err, bounty.ErrAlreadyInitialized) {
		return fmt.Errorf("initialize registry: %w", err)
	}
	return nil
}
