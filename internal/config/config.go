// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Analysis engine configuration
	Analysis AnalysisConfig `yaml:"analysis"`

	// Remote scoring configuration
	Scoring ScoringConfig `yaml:"scoring"`

	// Result storage configuration
	Store StoreConfig `yaml:"store"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// AnalysisConfig holds engine defaults.
type AnalysisConfig struct {
	Workers             int `envconfig:"RANKEVAL_WORKERS" yaml:"workers"` // 0 = GOMAXPROCS
	TreeStep            int `envconfig:"RANKEVAL_TREE_STEP" yaml:"tree_step"`
	GradedRelevanceBins int `envconfig:"RANKEVAL_GRADED_RELEVANCE_BINS" yaml:"graded_relevance_bins"`
}

// ScoringConfig holds settings for models scored by a remote service.
type ScoringConfig struct {
	Timeout   time.Duration `envconfig:"RANKEVAL_SCORING_TIMEOUT" yaml:"timeout"`
	BatchSize int           `envconfig:"RANKEVAL_SCORING_BATCH_SIZE" yaml:"batch_size"`
	RateLimit float64       `envconfig:"RANKEVAL_SCORING_RATE_LIMIT" yaml:"rate_limit"` // requests/sec, 0 = unlimited
	Burst     int           `envconfig:"RANKEVAL_SCORING_BURST" yaml:"burst"`
}

// StoreConfig holds result storage settings.
type StoreConfig struct {
	Type     string        `envconfig:"RANKEVAL_STORE_TYPE" yaml:"type"`
	Dir      string        `envconfig:"RANKEVAL_STORE_DIR" yaml:"dir"`
	RedisURL string        `envconfig:"RANKEVAL_REDIS_URL" yaml:"redis_url"`
	Prefix   string        `envconfig:"RANKEVAL_STORE_PREFIX" yaml:"prefix"`
	TTL      time.Duration `envconfig:"RANKEVAL_STORE_TTL" yaml:"ttl"` // 0 = no expiry
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"RANKEVAL_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"RANKEVAL_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"RANKEVAL_KAFKA_GROUP" yaml:"kafka_group"`
	TopicPrefix  string `envconfig:"RANKEVAL_TOPIC_PREFIX" yaml:"topic_prefix"`
	EventLog     string `envconfig:"RANKEVAL_EVENT_LOG" yaml:"event_log"` // JSON lines file, empty = off
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RANKEVAL_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RANKEVAL_LOG_FORMAT" yaml:"format"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	MetricsEnabled bool   `envconfig:"RANKEVAL_METRICS_ENABLED" yaml:"metrics_enabled"`
	MetricsFile    string `envconfig:"RANKEVAL_METRICS_FILE" yaml:"metrics_file"`
	RunLogSize     int    `envconfig:"RANKEVAL_RUN_LOG_SIZE" yaml:"run_log_size"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Analysis = AnalysisConfig{
		Workers:             0,
		TreeStep:            1,
		GradedRelevanceBins: 100,
	}

	cfg.Scoring = ScoringConfig{
		Timeout:   30 * time.Second,
		BatchSize: 1000,
		RateLimit: 0,
		Burst:     1,
	}

	cfg.Store = StoreConfig{
		Type:     "file",
		Dir:      "./results",
		RedisURL: "redis://localhost:6379",
		Prefix:   "rankeval:",
	}

	cfg.Bus = BusConfig{
		Type:        "memory",
		KafkaGroup:  "rankeval",
		TopicPrefix: "rankeval.",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Observability = ObservabilityConfig{
		MetricsEnabled: true,
		RunLogSize:     1000,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Analysis validation
	if c.Analysis.Workers < 0 {
		errs = append(errs, "workers must not be negative")
	}

	if c.Analysis.TreeStep < 1 {
		errs = append(errs, "tree_step must be positive")
	}

	if c.Analysis.GradedRelevanceBins < 1 {
		errs = append(errs, "graded_relevance_bins must be positive")
	}

	// Scoring validation
	if c.Scoring.Timeout <= 0 {
		errs = append(errs, "scoring timeout must be positive")
	}

	if c.Scoring.BatchSize < 1 {
		errs = append(errs, "scoring batch_size must be positive")
	}

	if c.Scoring.RateLimit < 0 {
		errs = append(errs, "scoring rate_limit must not be negative")
	}

	if c.Scoring.RateLimit > 0 && c.Scoring.Burst < 1 {
		errs = append(errs, "scoring burst must be positive when rate_limit is set")
	}

	// Store validation
	validStoreTypes := map[string]bool{"memory": true, "file": true, "redis": true}
	if !validStoreTypes[c.Store.Type] {
		errs = append(errs, fmt.Sprintf("invalid store type: %s (must be memory, file, or redis)", c.Store.Type))
	}

	if c.Store.Type == "file" && c.Store.Dir == "" {
		errs = append(errs, "store dir is required for the file store")
	}

	if c.Store.Type == "redis" && c.Store.RedisURL == "" {
		errs = append(errs, "store redis_url is required for the redis store")
	}

	if c.Store.TTL < 0 {
		errs = append(errs, "store ttl must not be negative")
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "kafka_brokers is required for the kafka bus")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	// Observability validation
	if c.Observability.RunLogSize < 1 {
		errs = append(errs, "run_log_size must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}
