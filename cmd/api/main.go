package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/config"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/telemetry"
	"github.com/davidleathers/handyman-marketplace-backend/internal/metrics"
)

// set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults to HMB_CONFIG_FILE or configs/config.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Version == "" || cfg.Version == "dev" {
		cfg.Version = version
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("application failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting handyman marketplace backend",
		zap.String("version", cfg.Version),
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("port", cfg.Server.Port))

	provider, err := telemetry.InitializeOpenTelemetry(ctx, telemetry.FromConfig(cfg, cfg.Version))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	registry, err := metrics.NewRegistry(cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("creating metrics registry: %w", err)
	}

	app, err := newApplication(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	return app.run(ctx)
}
