// Package config loads the engine's runtime settings via viper, the way
// dylanlott-orderbook and gocryptotrader load exchange/server settings:
// defaults, then an optional config file, then environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the cmd/engine entrypoint needs to wire the
// store, phase controller, registry and transport together.
type Config struct {
	// ListenAddr is the address the HTTP/SSE transport binds to.
	ListenAddr string `mapstructure:"listen_addr"`

	// DSN is the postgres connection string for the durable store. Tests
	// use an in-memory sqlite database instead and never read this field.
	DSN string `mapstructure:"dsn"`

	// RingSize is the capacity of each Security's broadcast rings (§4.2).
	RingSize int `mapstructure:"ring_size"`

	// SettleDelay is how long Calc waits before checking book idleness
	// (§4.3).
	SettleDelay time.Duration `mapstructure:"settle_delay"`

	// ComputePoolSize bounds the concurrency of call-auction computation
	// across all instruments (§9's "Go has no rayon" substitute).
	ComputePoolSize int `mapstructure:"compute_pool_size"`

	// LogLevel is a zerolog level name.
	LogLevel string `mapstructure:"log_level"`

	// LogPretty selects the human-readable console writer over JSON lines.
	LogPretty bool `mapstructure:"log_pretty"`
}

// Load reads configuration from, in increasing priority: built-in
// defaults, an optional file at configPath (if non-empty), and
// SECMATCH_-prefixed environment variables.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("secmatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("dsn", "postgres://localhost:5432/secmatch?sslmode=disable")
	v.SetDefault("ring_size", 1024)
	v.SetDefault("settle_delay", 3*time.Second)
	v.SetDefault("compute_pool_size", 8)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
