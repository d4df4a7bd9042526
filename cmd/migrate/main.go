// Package main applies the match-history schema migrations.
package main

import (
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rooms/internal/config"
	"github.com/cory-johannsen/rooms/internal/observability"
	"github.com/cory-johannsen/rooms/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	source := flag.String("source", "file://migrations", "migration source URL")
	direction := flag.String("direction", postgres.MigrateUp, "migration direction: up or down")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	res, err := postgres.Migrate(*source, cfg.Database.DSN(), *direction, *steps)
	if err != nil {
		logger.Fatal("migration failed", zap.String("direction", *direction), zap.Error(err))
	}
	logger.Info("migration finished",
		zap.String("direction", *direction),
		zap.Bool("changed", res.Changed),
		zap.Uint("version", res.Version),
		zap.Bool("dirty", res.Dirty),
		zap.Duration("elapsed", time.Since(start)),
	)
}
