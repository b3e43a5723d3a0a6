package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config carries everything the client needs to reach one backend origin.
type Config struct {
	BackendURL        string `yaml:"backend_url"`
	AckTimeout        time.Duration
	HeartbeatInterval time.Duration
	CredsPath         string `yaml:"creds_path"`
	CredsKey          string `yaml:"creds_key"` // 64 hex chars, sealing key for stored tokens
	LogLevel          string `yaml:"log_level"`
	MaxUploadMB       int    `yaml:"max_upload_mb"`

	AckTimeoutRaw        string `yaml:"ack_timeout"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load builds the config from, in increasing precedence: defaults, an
// optional YAML file named by CHATLINK_CONFIG, and environment variables
// (a .env file is honored when present).
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		BackendURL:        "http://localhost:3001",
		AckTimeout:        10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		CredsPath:         "chatlink.db",
		LogLevel:          "info",
		MaxUploadMB:       5,
	}

	if path := os.Getenv("CHATLINK_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.BackendURL = getEnv("CHATLINK_BACKEND_URL", cfg.BackendURL)
	cfg.CredsPath = getEnv("CHATLINK_CREDS_PATH", cfg.CredsPath)
	cfg.CredsKey = getEnv("CHATLINK_CREDS_KEY", cfg.CredsKey)
	cfg.LogLevel = getEnv("CHATLINK_LOG_LEVEL", cfg.LogLevel)

	if cfg.AckTimeoutRaw != "" {
		if err := parseDuration(cfg.AckTimeoutRaw, &cfg.AckTimeout); err != nil {
			return nil, err
		}
	}
	if cfg.HeartbeatIntervalRaw != "" {
		if err := parseDuration(cfg.HeartbeatIntervalRaw, &cfg.HeartbeatInterval); err != nil {
			return nil, err
		}
	}
	if v := os.Getenv("CHATLINK_ACK_TIMEOUT"); v != "" {
		if err := parseDuration(v, &cfg.AckTimeout); err != nil {
			return nil, err
		}
	}
	if v := os.Getenv("CHATLINK_HEARTBEAT_INTERVAL"); v != "" {
		if err := parseDuration(v, &cfg.HeartbeatInterval); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func parseDuration(raw string, out *time.Duration) error {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*out = d
	return nil
}
