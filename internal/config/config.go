// Package config provides Viper-based configuration loading for the room server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener (control plane and websockets).
	Port int `mapstructure:"port"`
	// HealthPort is the TCP port for the gRPC health service. Zero disables it.
	HealthPort int `mapstructure:"health_port"`
	// ReadHeaderTimeout bounds how long the server waits for request headers.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AllowedOrigins lists websocket origins accepted by the upgrader. "*" accepts any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HealthAddr returns the "host:port" address of the gRPC health service.
func (s ServerConfig) HealthAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HealthPort)
}

// RoomConfig holds per-room and per-connection limits.
type RoomConfig struct {
	// MinPlayers is the number of distinct players required to start a game.
	MinPlayers int `mapstructure:"min_players"`
	// OutboxSize is the number of queued outbound events per connection before
	// delivery to it fails and it is evicted.
	OutboxSize int `mapstructure:"outbox_size"`
	// WriteTimeout is the per-message websocket write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ReadLimit is the maximum inbound message size in bytes.
	ReadLimit int64 `mapstructure:"read_limit"`
}

// BridgeConfig selects and configures the game-creation collaborator.
type BridgeConfig struct {
	// Kind is one of "http", "llm", or "fixture".
	Kind string `mapstructure:"kind"`
	// BaseURL is the narrative engine base URL (kind=http).
	BaseURL string `mapstructure:"base_url"`
	// Timeout bounds a single CreateGame call.
	Timeout time.Duration `mapstructure:"timeout"`
	// Difficulty is passed to every CreateGame call.
	Difficulty string `mapstructure:"difficulty"`
	// NumInaccessibleLocations is the number of locations the world hides.
	NumInaccessibleLocations int `mapstructure:"num_inaccessible_locations"`
	// FixturePath is the YAML world file (kind=fixture).
	FixturePath string `mapstructure:"fixture_path"`
	// Model is the Anthropic model identifier (kind=llm).
	Model string `mapstructure:"model"`
	// APIKey is the Anthropic API key (kind=llm).
	APIKey string `mapstructure:"api_key"`
	// MaxTokens caps the generated world document (kind=llm).
	MaxTokens int64 `mapstructure:"max_tokens"`
}

// DatabaseConfig holds PostgreSQL connection settings for match history.
type DatabaseConfig struct {
	// Enabled turns match-history persistence on.
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// HealthInterval is how often the database is pinged for the health service.
	HealthInterval time.Duration `mapstructure:"health_interval"`
	// HealthTimeout bounds a single health ping.
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Room     RoomConfig     `mapstructure:"room"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Bridge kinds.
const (
	BridgeHTTP    = "http"
	BridgeLLM     = "llm"
	BridgeFixture = "fixture"
)

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRoom(c.Room); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateBridge(c.Bridge); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Database.Enabled {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 0-65535, got %d", s.Port))
	}
	if s.HealthPort < 0 || s.HealthPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.health_port must be 0-65535, got %d", s.HealthPort))
	}
	if s.HealthPort != 0 && s.HealthPort == s.Port {
		errs = append(errs, "server.health_port must differ from server.port")
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRoom(r RoomConfig) error {
	var errs []string
	if r.MinPlayers < 2 {
		errs = append(errs, fmt.Sprintf("room.min_players must be >= 2, got %d", r.MinPlayers))
	}
	if r.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("room.outbox_size must be >= 1, got %d", r.OutboxSize))
	}
	if r.WriteTimeout < 0 {
		errs = append(errs, "room.write_timeout must not be negative")
	}
	if r.ReadLimit < 0 {
		errs = append(errs, "room.read_limit must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBridge(b BridgeConfig) error {
	var errs []string
	switch b.Kind {
	case BridgeHTTP:
		if b.BaseURL == "" {
			errs = append(errs, "bridge.base_url must not be empty when bridge.kind is http")
		}
	case BridgeLLM:
		if b.APIKey == "" {
			errs = append(errs, "bridge.api_key must not be empty when bridge.kind is llm")
		}
		if b.Model == "" {
			errs = append(errs, "bridge.model must not be empty when bridge.kind is llm")
		}
		if b.MaxTokens < 1 {
			errs = append(errs, fmt.Sprintf("bridge.max_tokens must be >= 1, got %d", b.MaxTokens))
		}
	case BridgeFixture:
		if b.FixturePath == "" {
			errs = append(errs, "bridge.fixture_path must not be empty when bridge.kind is fixture")
		}
	default:
		errs = append(errs, fmt.Sprintf("bridge.kind must be one of [http, llm, fixture], got %q", b.Kind))
	}
	if b.Difficulty == "" {
		errs = append(errs, "bridge.difficulty must not be empty")
	}
	if b.NumInaccessibleLocations < 0 {
		errs = append(errs, fmt.Sprintf("bridge.num_inaccessible_locations must be >= 0, got %d", b.NumInaccessibleLocations))
	}
	if b.Timeout < 0 {
		errs = append(errs, "bridge.timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if d.HealthInterval <= 0 {
		errs = append(errs, fmt.Sprintf("database.health_interval must be positive, got %s", d.HealthInterval))
	}
	if d.HealthTimeout <= 0 || d.HealthTimeout > d.HealthInterval {
		errs = append(errs, fmt.Sprintf("database.health_timeout must be positive and at most database.health_interval, got %s", d.HealthTimeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and ROOMS_ environment
// overrides applied but no config file attached.
func NewViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with ROOMS_ prefix
	v.SetEnvPrefix("ROOMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, errors.New("viper instance must not be nil")
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.health_port", 8001)
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("room.min_players", 2)
	v.SetDefault("room.outbox_size", 64)
	v.SetDefault("room.write_timeout", "10s")
	v.SetDefault("room.read_limit", 4096)

	v.SetDefault("bridge.kind", BridgeFixture)
	v.SetDefault("bridge.base_url", "")
	v.SetDefault("bridge.api_key", "")
	v.SetDefault("bridge.timeout", "60s")
	v.SetDefault("bridge.difficulty", "medium")
	v.SetDefault("bridge.num_inaccessible_locations", 5)
	v.SetDefault("bridge.fixture_path", "content/worlds/default.yaml")
	v.SetDefault("bridge.model", "claude-sonnet-4-5")
	v.SetDefault("bridge.max_tokens", 2048)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "rooms")
	v.SetDefault("database.password", "rooms")
	v.SetDefault("database.name", "rooms")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.health_interval", "15s")
	v.SetDefault("database.health_timeout", "2s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
