// Package config loads server configuration from an optional YAML file,
// a local .env file, and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all server configuration.
type Config struct {
	AppEnv   string `yaml:"app_env"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Redis RedisConfig `yaml:"redis"`
	DB    DBConfig    `yaml:"db"`

	OpenRouter OpenRouterConfig `yaml:"openrouter"`

	// DefaultModel is used when neither the event nor the chat names one.
	DefaultModel string `yaml:"default_model"`
	// TitleModel is the model used for chat title generation.
	TitleModel string `yaml:"title_model"`

	// HistoryLength is the maximum number of conversation entries retained
	// in memory and in the cache after a completed turn.
	HistoryLength int `yaml:"history_length"`
	// ChatTTL is the cache entry time-to-live.
	ChatTTL time.Duration `yaml:"chat_ttl"`
}

// RedisConfig configures the cache tier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DBConfig configures the durable store. Driver is "sqlite" or "mysql".
type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// OpenRouterConfig configures the generation backend endpoint.
type OpenRouterConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Default returns the baseline configuration before file or env overrides.
func Default() *Config {
	return &Config{
		AppEnv:        "development",
		Port:          8000,
		LogLevel:      "info",
		Redis:         RedisConfig{Addr: "localhost:6379"},
		DB:            DBConfig{Driver: "sqlite", DSN: "frank.db"},
		OpenRouter:    OpenRouterConfig{BaseURL: "https://openrouter.ai/api/v1"},
		TitleModel:    "meta-llama/llama-3.1-8b-instruct:free",
		HistoryLength: 80,
		ChatTTL:       24 * time.Hour,
	}
}

// Load builds configuration in priority order: defaults, then the YAML file
// at path (if it exists), then .env, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// .env is optional; missing file is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)

	if cfg.OpenRouter.APIKey == "" && cfg.AppEnv != "test" {
		return nil, fmt.Errorf("config: OPENROUTER_API_KEY is not set")
	}

	return cfg, nil
}

// loadFile merges a YAML config file into cfg. A missing file is skipped.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides, the highest
// priority configuration source.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.AppEnv, "APP_ENV")
	setInt(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")

	setString(&cfg.DB.Driver, "DB_DRIVER")
	setString(&cfg.DB.DSN, "DB_DSN")

	setString(&cfg.OpenRouter.APIKey, "OPENROUTER_API_KEY")
	setString(&cfg.OpenRouter.BaseURL, "OPENROUTER_BASE_URL")

	setString(&cfg.DefaultModel, "DEFAULT_MODEL")
	setString(&cfg.TitleModel, "TITLE_MODEL")

	setInt(&cfg.HistoryLength, "HISTORY_LENGTH")

	if v := os.Getenv("CHAT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ChatTTL = d
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
