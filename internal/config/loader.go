package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "INFERD_"

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr" env:"ADDR"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir" env:"MODELS_DIR"`
	SettingsPath string `json:"settings_path" yaml:"settings_path" toml:"settings_path" env:"SETTINGS"`

	// Workers bounds concurrently executing requests across all runners.
	Workers        int `json:"workers" yaml:"workers" toml:"workers" env:"WORKERS"`
	BudgetMB       int `json:"budget_mb" yaml:"budget_mb" toml:"budget_mb" env:"BUDGET_MB"`
	MarginMB       int `json:"margin_mb" yaml:"margin_mb" toml:"margin_mb" env:"MARGIN_MB"`
	MaxConcurrent  int `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent" env:"MAX_CONCURRENT"`
	MaxQueueDepth  int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth" env:"MAX_QUEUE_DEPTH"`
	MaxWaitSeconds int `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds" env:"MAX_WAIT_SECONDS"`
	LoadAttempts   int `json:"load_attempts" yaml:"load_attempts" toml:"load_attempts" env:"LOAD_ATTEMPTS"`

	DiscoveryTimeoutSeconds int `json:"discovery_timeout_seconds" yaml:"discovery_timeout_seconds" toml:"discovery_timeout_seconds" env:"DISCOVERY_TIMEOUT_SECONDS"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format" env:"LOG_FORMAT"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled" env:"CORS_ENABLED"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins" env:"CORS_ORIGINS"`
	// RateLimit is inference requests per second; 0 disables limiting.
	RateLimit    float64 `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst    int     `json:"rate_burst" yaml:"rate_burst" toml:"rate_burst" env:"RATE_BURST"`
	MaxBodyBytes int64   `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	// InferTimeoutSeconds bounds each inference request; 0 means no limit.
	InferTimeoutSeconds int `json:"infer_timeout_seconds" yaml:"infer_timeout_seconds" toml:"infer_timeout_seconds" env:"INFER_TIMEOUT_SECONDS"`

	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint" toml:"otlp_endpoint" env:"OTLP_ENDPOINT"`

	// Binaries overrides executable paths by name, e.g. llama-server.
	Binaries map[string]string `json:"binaries" yaml:"binaries" toml:"binaries" env:"BINARIES"`
	// Runners holds per-runner construction options keyed by runner name.
	Runners map[string]map[string]any `json:"runners" yaml:"runners" toml:"runners"`
}

// Defaults used by WithDefaults.
const (
	DefaultAddr         = ":8080"
	DefaultModelsDir    = "~/models"
	DefaultSettingsPath = "~/.config/inferd/settings.json"
	DefaultWorkers      = 4
	DefaultDiscovery    = 10
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
	DefaultMaxBodyBytes = 8 << 20
)

// WithDefaults fills unspecified fields.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.SettingsPath == "" {
		c.SettingsPath = DefaultSettingsPath
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxWaitSeconds < 0 {
		c.MaxWaitSeconds = 0
	}
	if c.DiscoveryTimeoutSeconds <= 0 {
		c.DiscoveryTimeoutSeconds = DefaultDiscovery
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = int(c.RateLimit) + 1
	}
	return c
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyEnv overlays INFERD_* environment variables onto cfg. Unset
// variables leave the field as is.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Resolve loads path when given, then applies the environment.
func Resolve(path string) (Config, error) {
	var cfg Config
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
