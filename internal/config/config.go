// Package config loads server configuration from an optional TOML file
// plus environment variables, with environment variables always taking
// precedence — the same overlay-then-env-wins order the original INI
// loader used for per-instance overrides, generalized from ini.v1 to TOML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds everything cmd/mockupd needs to start serving.
type Config struct {
	Host string
	Port int

	DatabasePath  string
	TemplatesPath string

	MaxConcurrentComposites int
	CompositorQueueSize     int

	FetchTimeoutMs int
	FetchMaxBytes  int64

	LogLevel string

	RateLimitBackend string // "sql" or "memory"
}

// fileOverlay mirrors the subset of Config that may come from the
// optional TOML file; zero-value fields are left for env/defaults to
// fill in.
type fileOverlay struct {
	Host                    string `toml:"host"`
	Port                    int    `toml:"port"`
	DatabasePath            string `toml:"database_path"`
	TemplatesPath           string `toml:"templates_path"`
	MaxConcurrentComposites int    `toml:"max_concurrent_composites"`
	CompositorQueueSize     int    `toml:"compositor_queue_size"`
	FetchTimeoutMs          int    `toml:"fetch_timeout_ms"`
	FetchMaxBytes           int64  `toml:"fetch_max_bytes"`
	LogLevel                string `toml:"log_level"`
	RateLimitBackend        string `toml:"rate_limit_backend"`
}

func defaults() Config {
	return Config{
		Host:                    "0.0.0.0",
		Port:                    8080,
		DatabasePath:            "./data/mockupd.db",
		TemplatesPath:           "./templates",
		MaxConcurrentComposites: 0, // 0 => runtime.GOMAXPROCS(0)
		CompositorQueueSize:     64,
		FetchTimeoutMs:          5000,
		FetchMaxBytes:           10 * 1024 * 1024,
		LogLevel:                "INFO",
		RateLimitBackend:        "sql",
	}
}

// Load builds a Config starting from defaults, applying an optional TOML
// file at tomlPath (skipped entirely if the path is empty or the file does
// not exist), then applying environment variable overrides on top.
func Load(tomlPath string) (Config, error) {
	cfg := defaults()

	if tomlPath != "" {
		if _, err := os.Stat(tomlPath); err == nil {
			var overlay fileOverlay
			if _, err := toml.DecodeFile(tomlPath, &overlay); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", tomlPath, err)
			}
			applyOverlay(&cfg, overlay)
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat config file %s: %w", tomlPath, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyOverlay(cfg *Config, o fileOverlay) {
	if o.Host != "" {
		cfg.Host = o.Host
	}
	if o.Port != 0 {
		cfg.Port = o.Port
	}
	if o.DatabasePath != "" {
		cfg.DatabasePath = o.DatabasePath
	}
	if o.TemplatesPath != "" {
		cfg.TemplatesPath = o.TemplatesPath
	}
	if o.MaxConcurrentComposites != 0 {
		cfg.MaxConcurrentComposites = o.MaxConcurrentComposites
	}
	if o.CompositorQueueSize != 0 {
		cfg.CompositorQueueSize = o.CompositorQueueSize
	}
	if o.FetchTimeoutMs != 0 {
		cfg.FetchTimeoutMs = o.FetchTimeoutMs
	}
	if o.FetchMaxBytes != 0 {
		cfg.FetchMaxBytes = o.FetchMaxBytes
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.RateLimitBackend != "" {
		cfg.RateLimitBackend = o.RateLimitBackend
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v, ok := envInt("PORT"); ok {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("TEMPLATES_PATH"); v != "" {
		cfg.TemplatesPath = v
	}
	if v, ok := envInt("MAX_CONCURRENT_COMPOSITES"); ok {
		cfg.MaxConcurrentComposites = v
	}
	if v, ok := envInt("COMPOSITOR_QUEUE_SIZE"); ok {
		cfg.CompositorQueueSize = v
	}
	if v, ok := envInt("FETCH_TIMEOUT_MS"); ok {
		cfg.FetchTimeoutMs = v
	}
	if v, ok := envInt64("FETCH_MAX_BYTES"); ok {
		cfg.FetchMaxBytes = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RATE_LIMIT_BACKEND"); v != "" {
		cfg.RateLimitBackend = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt64(key string) (int64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FetchTimeout converts FetchTimeoutMs to a time.Duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMs) * time.Millisecond
}
