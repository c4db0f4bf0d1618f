// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	DataDir  string `default:"./data" validate:"required"` // Base directory for the SQLite databases (always absolute after Load)
	LogLevel string `default:"info" validate:"oneof=debug info warn error"`
	Port     int    `default:"8080" validate:"gt=0,lte=65535"`
	DevMode  bool

	Redis          RedisConfig
	Quota          QuotaConfig
	Freshness      FreshnessConfig
	Analyzers      AnalyzerConfig
	Classification ClassificationConfig
	Schedule       ScheduleConfig

	// Weights maps component name to its share of the final score; must sum to 100
	Weights map[string]float64 `validate:"required,min=1"`
}

// RedisConfig configures the shared cache/quota backend. Empty Addr selects the in-process stores.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"gte=0"`
}

// QuotaConfig caps live computations per client per day
type QuotaConfig struct {
	DailyLimit int `default:"10" validate:"gte=0"`
}

// FreshnessConfig holds the per-tier freshness windows
type FreshnessConfig struct {
	Cache         time.Duration `default:"15m" validate:"gt=0"`
	Persisted     time.Duration `default:"90m" validate:"gt=0"`
	RecordTTL     time.Duration `default:"90m" validate:"gt=0"`
	RetentionDays int           `default:"30" validate:"gt=0"`
	CacheCapacity int           `default:"1000" validate:"gt=0"`
}

// AnalyzerConfig controls the component fan-out
type AnalyzerConfig struct {
	Timeout        time.Duration `default:"20s" validate:"gt=0"`
	MaxConcurrency int           `default:"5" validate:"gt=0"`
	RemoteURL      string        // Base URL of the remote scoring service; empty disables remote analyzers
	RequestsPerSec float64       `default:"5" validate:"gt=0"`
	RefreshWorkers int           `default:"2" validate:"gt=0"`
	RefreshBuffer  int           `default:"64" validate:"gt=0"`
}

// ClassificationConfig holds the universe screen thresholds
type ClassificationConfig struct {
	Enabled             bool          `default:"true"`
	MinPrice            float64       `default:"5" validate:"gte=0"`
	MinVolume           float64       `default:"500000" validate:"gte=0"`
	MinMarketCap        float64       `default:"300000000" validate:"gte=0"`
	MaxDataAge          time.Duration `default:"24h" validate:"gt=0"`
	DemoteAfterDays     int           `default:"3" validate:"gt=0"`
	PennyStockThreshold float64       `default:"1" validate:"gte=0"`
	SignalMinScore      float64       `default:"60" validate:"gte=0,lte=100"` // Consensus score a daily signal needs to qualify
	SignalMaxAge        time.Duration `default:"24h" validate:"gt=0"`
}

// ScheduleConfig holds cron expressions (with seconds field)
type ScheduleConfig struct {
	UniverseScreen string `default:"0 0 2 * * 0"`
	DailyReview    string `default:"0 30 21 * * 1-5"`
	Cleanup        string `default:"0 0 3 * * *"`
	Maintenance    string `default:"0 15 3 * * *"`
}

// DefaultWeights returns the built-in component weights
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"technical": 35,
		"news":      25,
		"social":    20,
		"earnings":  15,
		"market":    5,
	}
}

// Load reads configuration from environment variables (and .env when present)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	cfg.DataDir = getEnv("VERDICT_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Port = getEnvAsInt("PORT", cfg.Port)
	cfg.DevMode = getEnvAsBool("DEV_MODE", cfg.DevMode)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)

	cfg.Quota.DailyLimit = getEnvAsInt("QUOTA_DAILY_LIMIT", cfg.Quota.DailyLimit)

	cfg.Freshness.Cache = getEnvAsDuration("CACHE_FRESHNESS", cfg.Freshness.Cache)
	cfg.Freshness.Persisted = getEnvAsDuration("PERSISTED_FRESHNESS", cfg.Freshness.Persisted)
	cfg.Freshness.RecordTTL = getEnvAsDuration("RECORD_TTL", cfg.Freshness.RecordTTL)
	cfg.Freshness.RetentionDays = getEnvAsInt("RETENTION_DAYS", cfg.Freshness.RetentionDays)
	cfg.Freshness.CacheCapacity = getEnvAsInt("CACHE_CAPACITY", cfg.Freshness.CacheCapacity)

	cfg.Analyzers.Timeout = getEnvAsDuration("ANALYZER_TIMEOUT", cfg.Analyzers.Timeout)
	cfg.Analyzers.MaxConcurrency = getEnvAsInt("ANALYZER_CONCURRENCY", cfg.Analyzers.MaxConcurrency)
	cfg.Analyzers.RemoteURL = getEnv("ANALYZER_SERVICE_URL", cfg.Analyzers.RemoteURL)
	cfg.Analyzers.RequestsPerSec = getEnvAsFloat("ANALYZER_RPS", cfg.Analyzers.RequestsPerSec)
	cfg.Analyzers.RefreshWorkers = getEnvAsInt("REFRESH_WORKERS", cfg.Analyzers.RefreshWorkers)
	cfg.Analyzers.RefreshBuffer = getEnvAsInt("REFRESH_BUFFER", cfg.Analyzers.RefreshBuffer)

	cfg.Classification.Enabled = getEnvAsBool("CLASSIFICATION_ENABLED", cfg.Classification.Enabled)
	cfg.Classification.MinPrice = getEnvAsFloat("CLASSIFICATION_MIN_PRICE", cfg.Classification.MinPrice)
	cfg.Classification.MinVolume = getEnvAsFloat("CLASSIFICATION_MIN_VOLUME", cfg.Classification.MinVolume)
	cfg.Classification.MinMarketCap = getEnvAsFloat("CLASSIFICATION_MIN_MARKET_CAP", cfg.Classification.MinMarketCap)
	cfg.Classification.MaxDataAge = getEnvAsDuration("CLASSIFICATION_MAX_DATA_AGE", cfg.Classification.MaxDataAge)
	cfg.Classification.DemoteAfterDays = getEnvAsInt("CLASSIFICATION_DEMOTE_AFTER_DAYS", cfg.Classification.DemoteAfterDays)
	cfg.Classification.PennyStockThreshold = getEnvAsFloat("CLASSIFICATION_PENNY_STOCK_THRESHOLD", cfg.Classification.PennyStockThreshold)
	cfg.Classification.SignalMinScore = getEnvAsFloat("CLASSIFICATION_SIGNAL_MIN_SCORE", cfg.Classification.SignalMinScore)
	cfg.Classification.SignalMaxAge = getEnvAsDuration("CLASSIFICATION_SIGNAL_MAX_AGE", cfg.Classification.SignalMaxAge)

	cfg.Schedule.UniverseScreen = getEnv("SCHEDULE_UNIVERSE_SCREEN", cfg.Schedule.UniverseScreen)
	cfg.Schedule.DailyReview = getEnv("SCHEDULE_DAILY_REVIEW", cfg.Schedule.DailyReview)
	cfg.Schedule.Cleanup = getEnv("SCHEDULE_CLEANUP", cfg.Schedule.Cleanup)
	cfg.Schedule.Maintenance = getEnv("SCHEDULE_MAINTENANCE", cfg.Schedule.Maintenance)

	cfg.Weights = DefaultWeights()
	if path := getEnv("WEIGHTS_FILE", ""); path != "" {
		weights, err := LoadWeights(path)
		if err != nil {
			return nil, err
		}
		cfg.Weights = weights
	}

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// weightsFile is the on-disk YAML shape:
//
//	weights:
//	  technical: 35
//	  news: 25
type weightsFile struct {
	Weights map[string]float64 `yaml:"weights"`
}

// LoadWeights reads component weights from a YAML file
func LoadWeights(path string) (map[string]float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read weights file: %w", err)
	}

	var wf weightsFile
	if err := yaml.Unmarshal(b, &wf); err != nil {
		return nil, fmt.Errorf("parse weights file: %w", err)
	}
	if len(wf.Weights) == 0 {
		return nil, fmt.Errorf("weights file %s defines no weights", path)
	}

	return wf.Weights, nil
}

// Validate checks struct constraints and that the weights sum to 100
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Freshness.Persisted < c.Freshness.Cache {
		return fmt.Errorf("invalid config: persisted freshness %s shorter than cache freshness %s",
			c.Freshness.Persisted, c.Freshness.Cache)
	}
	return ValidateWeights(c.Weights)
}

// ValidateWeights rejects negative weights and sets that do not sum to exactly 100
func ValidateWeights(weights map[string]float64) error {
	sum := 0.0
	for name, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("invalid config: weight for %s must be non-negative, got %v", name, w)
		}
		sum += w
	}
	if math.Abs(sum-100) > 1e-9 {
		return fmt.Errorf("invalid config: component weights sum to %v, expected 100", sum)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
