package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/config"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/database"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/telemetry"
)

// schema is the part of database.Migrator the command drives
type schema interface {
	Up(steps int) error
	Down(steps int) error
	Version() (uint, bool, error)
}

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, status")
		steps  = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
		dbURL  = flag.String("database-url", "", "Database URL (defaults to database.url from config)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dbURL != "" {
		cfg.Database.URL = *dbURL
	}
	if cfg.Database.URL == "" {
		log.Fatal("database url is required")
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	mg, err := database.NewMigrator(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("failed to create migrator", zap.Error(err))
	}
	defer mg.Close()

	if err := runAction(mg, *action, *steps, os.Stdout); err != nil {
		logger.Error("migration failed", zap.String("action", *action), zap.Error(err))
		_ = mg.Close()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func runAction(s schema, action string, steps int, out io.Writer) error {
	if steps < 0 {
		return errors.New("steps cannot be negative")
	}

	switch action {
	case "up":
		if err := s.Up(steps); err != nil {
			return err
		}
	case "down":
		if err := s.Down(steps); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	version, dirty, err := s.Version()
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	fmt.Fprintf(out, "schema version: %d", version)
	if dirty {
		fmt.Fprint(out, " (dirty)")
	}
	fmt.Fprintln(out)
	return nil
}
