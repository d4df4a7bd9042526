// Package observability provides structured logging for the room server.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/rooms/internal/config"
)

// Field keys shared by every component that logs about rooms and players.
const (
	FieldRoomID   = "room_id"
	FieldPlayerID = "player_id"
	FieldEvent    = "event"
	FieldGameID   = "game_id"
)

// NewLogger creates a structured logger from the given logging configuration.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.InitialFields = map[string]interface{}{"service": "roomserver"}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// ForConnection returns a child logger tagged with the room and player a
// connection is bound to.
//
// Precondition: logger must be non-nil.
func ForConnection(logger *zap.Logger, roomID, playerID string) *zap.Logger {
	return logger.With(
		zap.String(FieldRoomID, roomID),
		zap.String(FieldPlayerID, playerID),
	)
}
