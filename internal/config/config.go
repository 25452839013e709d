package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luciancaetano/wsecho"
)

// Config defines runtime settings for the echo server.
type Config struct {
	Addr              string          `yaml:"addr"`
	Path              string          `yaml:"path"`
	Workers           int             `yaml:"workers"`
	HeartbeatInterval time.Duration   `yaml:"heartbeatInterval"`
	ClientTimeout     time.Duration   `yaml:"clientTimeout"`
	MaxMessageSize    int64           `yaml:"maxMessageSize"`
	WriteWait         time.Duration   `yaml:"writeWait"`
	ShutdownTimeout   time.Duration   `yaml:"shutdownTimeout"`
	RateLimit         RateLimitConfig `yaml:"rateLimit"`
	LogLevel          string          `yaml:"logLevel"`
	LogFormat         string          `yaml:"logFormat"`
}

// RateLimitConfig limits upgrade requests.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Addr:              wsecho.DefaultAddr,
		Path:              wsecho.DefaultPath,
		Workers:           wsecho.DefaultWorkers,
		HeartbeatInterval: wsecho.DefaultHeartbeatInterval,
		ClientTimeout:     wsecho.DefaultClientTimeout,
		MaxMessageSize:    wsecho.DefaultMaxMessageSize,
		WriteWait:         wsecho.DefaultWriteWait,
		ShutdownTimeout:   5 * time.Second,
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 100,
			Burst:             200,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a YAML file and environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if addr := os.Getenv("WSECHO_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if path := os.Getenv("WSECHO_PATH"); path != "" {
		cfg.Path = path
	}
	if workers := os.Getenv("WSECHO_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("parse WSECHO_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	if interval := os.Getenv("WSECHO_HEARTBEAT_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("parse WSECHO_HEARTBEAT_INTERVAL: %w", err)
		}
		cfg.HeartbeatInterval = d
	}
	if timeout := os.Getenv("WSECHO_CLIENT_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("parse WSECHO_CLIENT_TIMEOUT: %w", err)
		}
		cfg.ClientTimeout = d
	}
	if level := os.Getenv("WSECHO_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("WSECHO_LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("addr must not be empty")
	case !strings.HasPrefix(c.Path, "/"):
		return fmt.Errorf("path %q must start with /", c.Path)
	case c.Workers < 1:
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("heartbeatInterval must be positive, got %s", c.HeartbeatInterval)
	case c.ClientTimeout <= 0:
		return fmt.Errorf("clientTimeout must be positive, got %s", c.ClientTimeout)
	case c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1):
		return errors.New("rateLimit requires positive requestsPerSecond and burst when enabled")
	}
	return nil
}
