// Package main provides the room server binary: the HTTP control plane,
// the websocket room sessions and the gRPC health endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rooms/internal/config"
	"github.com/cory-johannsen/rooms/internal/observability"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
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

	logger.Info("starting room server",
		zap.String("http_addr", cfg.Server.Addr()),
		zap.String("bridge", cfg.Bridge.Kind),
		zap.Bool("match_history", cfg.Database.Enabled),
	)

	app, cleanup, err := initializeApp(cfg, logger)
	if err != nil {
		logger.Fatal("assembling room server", zap.Error(err))
	}
	defer cleanup()

	logger.Info("room server initialized", zap.Duration("startup", time.Since(start)))

	if err := app.Lifecycle.Run(context.Background()); err != nil {
		logger.Error("room server stopped with errors", zap.Error(err))
	}
}
