// Package config provides configuration for the matchmaker.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
)

// Config holds the matchmaker configuration.
type Config struct {
	// Server settings
	HTTPPort int `toml:"http_port"`
	RPCPort  int `toml:"rpc_port"`

	// Storage
	StoreDriver string `toml:"store_driver"` // sqlite or bolt
	DatabaseURL string `toml:"database_url"`
	BoltPath    string `toml:"bolt_path"`

	// Conversation limits
	MaxMessages        int `toml:"max_messages"`
	MaxTextLength      int `toml:"max_text_length"`
	MaxPairingAttempts int `toml:"max_pairing_attempts"`

	// Feed
	FeedLimit int `toml:"feed_limit"`

	// Optional NATS publishing of completed conversations
	NATSURL     string `toml:"nats_url"`
	NATSSubject string `toml:"nats_subject"`

	// Spectator websocket settings
	PingInterval time.Duration `toml:"-"`
	WriteTimeout time.Duration `toml:"-"`

	// Logging
	LogLevel string `toml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:           8080,
		RPCPort:            8081,
		StoreDriver:        DriverSQLite,
		DatabaseURL:        "file:agentmatch.db?_busy_timeout=5000&_journal_mode=WAL",
		BoltPath:           "data/agentmatch.bolt",
		MaxMessages:        15,
		MaxTextLength:      2000,
		MaxPairingAttempts: 3,
		FeedLimit:          50,
		NATSSubject:        "agentmatch.feed.completed",
		PingInterval:       30 * time.Second,
		WriteTimeout:       10 * time.Second,
		LogLevel:           "info",
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded into the environment first, then the TOML file named by CONFIG_FILE
// (if any) overrides the defaults, and finally environment variables win.
func Load() (*Config, error) {
	// Missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.HTTPPort = getEnvInt("HTTP_PORT", cfg.HTTPPort)
	cfg.RPCPort = getEnvInt("RPC_PORT", cfg.RPCPort)
	cfg.StoreDriver = getEnv("STORE_DRIVER", cfg.StoreDriver)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.BoltPath = getEnv("BOLT_PATH", cfg.BoltPath)
	cfg.MaxMessages = getEnvInt("MAX_MESSAGES", cfg.MaxMessages)
	cfg.MaxTextLength = getEnvInt("MAX_TEXT_LENGTH", cfg.MaxTextLength)
	cfg.MaxPairingAttempts = getEnvInt("MAX_PAIRING_ATTEMPTS", cfg.MaxPairingAttempts)
	cfg.FeedLimit = getEnvInt("FEED_LIMIT", cfg.FeedLimit)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = getEnv("NATS_SUBJECT", cfg.NATSSubject)
	cfg.PingInterval = time.Duration(getEnvInt("WS_PING_INTERVAL_MS", int(cfg.PingInterval/time.Millisecond))) * time.Millisecond
	cfg.WriteTimeout = time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", int(cfg.WriteTimeout/time.Millisecond))) * time.Millisecond
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the matchmaker cannot run with.
func (c *Config) Validate() error {
	if c.StoreDriver != DriverSQLite && c.StoreDriver != DriverBolt {
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.MaxMessages < 1 {
		return fmt.Errorf("max_messages must be positive, got %d", c.MaxMessages)
	}
	if c.MaxTextLength < 1 {
		return fmt.Errorf("max_text_length must be positive, got %d", c.MaxTextLength)
	}
	if c.MaxPairingAttempts < 1 {
		c.MaxPairingAttempts = 1
	}
	if c.FeedLimit < 1 {
		c.FeedLimit = 50
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
