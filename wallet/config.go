package wallet

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/exp/slog"
	"gopkg.in/yaml.v3"
)

// Config is a configuration for the wallet application
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	// Backend is "mem" or "pg"
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
	// NotifyChannel is the Postgres channel mutations are announced on.
	NotifyChannel string `yaml:"notify_channel"`
	// ListenNotify relays notifications from other processes to local
	// observers. Only used with the pg backend.
	ListenNotify bool `yaml:"listen_notify"`
	// RateLimit is requests per second per client on mutating routes; 0 disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	LogLevel  string  `yaml:"log_level"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:      "localhost:9090",
		Backend:       "mem",
		NotifyChannel: DefaultNotifyChannel,
		RateLimit:     20,
		RateBurst:     40,
		LogLevel:      "info",
	}
}

// LoadConfig reads the defaults, then the yaml file at path when path is not
// empty, then the environment.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = getenv("WALLET_HTTP_ADDR", c.HTTPAddr)
	c.Backend = getenv("REPO_BACKEND", c.Backend)
	c.DSN = getenv("DB_DSN", c.DSN)
	c.NotifyChannel = getenv("WALLET_NOTIFY_CHANNEL", c.NotifyChannel)
	c.LogLevel = getenv("WALLET_LOG_LEVEL", c.LogLevel)

	if v := os.Getenv("WALLET_LISTEN_NOTIFY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WALLET_LISTEN_NOTIFY: %w", err)
		}
		c.ListenNotify = b
	}
	if v := os.Getenv("WALLET_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("WALLET_RATE_LIMIT: %w", err)
		}
		c.RateLimit = f
	}
	if v := os.Getenv("WALLET_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WALLET_RATE_BURST: %w", err)
		}
		c.RateBurst = n
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case "mem":
	case "pg":
		if c.DSN == "" {
			return fmt.Errorf("DB_DSN is required for pg backend")
		}
	default:
		return fmt.Errorf("unsupported backend %q", c.Backend)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("rate limit and burst must not be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
