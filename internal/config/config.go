// Package config provides configuration loading and validation for the
// nestscout binaries. It uses koanf to merge an optional YAML file with
// environment variables; the environment wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseDriver string `koanf:"database_driver"` // sqlite, postgres or pgx
	DatabaseURL    string `koanf:"database_url"`

	// Redis distance cache (optional)
	RedisURL                string `koanf:"redis_url"`
	DistanceCacheTTLSeconds int    `koanf:"distance_cache_ttl_seconds"`

	// Scoring
	ScoringWorkers            int     `koanf:"scoring_workers"`
	PrecomputeRadiusM         float64 `koanf:"precompute_radius_m"`
	RecomputeIntervalSeconds  int     `koanf:"recompute_interval_seconds"`
	SpatialIndex              string  `koanf:"spatial_index"` // cell or scan
	ComputeRateLimitPerMinute int     `koanf:"compute_rate_limit_per_minute"`

	// R2 (Cloudflare Object Storage) for ranking exports
	R2BucketName      string `koanf:"r2_bucket_name"`
	R2AccessKeyID     string `koanf:"r2_access_key_id"`
	R2SecretAccessKey string `koanf:"r2_secret_access_key"`
	R2Endpoint        string `koanf:"r2_endpoint"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	OTLPEndpoint      string  `koanf:"otel_exporter_otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
	TracingInsecure   bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL       = errors.New("DATABASE_URL is required")
	ErrInvalidDatabaseDriver    = errors.New("DATABASE_DRIVER must be sqlite, postgres or pgx")
	ErrInvalidSpatialIndex      = errors.New("SPATIAL_INDEX must be cell or scan")
	ErrInvalidWorkers           = errors.New("SCORING_WORKERS must be positive")
	ErrInvalidPrecomputeRadius  = errors.New("PRECOMPUTE_RADIUS_M must be positive")
	ErrInvalidRecomputeInterval = errors.New("RECOMPUTE_INTERVAL_SECONDS must be positive")
	ErrInvalidCacheTTL          = errors.New("DISTANCE_CACHE_TTL_SECONDS must be positive")
	ErrInvalidRateLimit         = errors.New("COMPUTE_RATE_LIMIT_PER_MINUTE must be positive")
	ErrInvalidSampleRate        = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidTracingExporter   = errors.New("TRACING_EXPORTER must be otlp-http or otlp-grpc")
	ErrMissingR2BucketName      = errors.New("R2_BUCKET_NAME is required")
	ErrMissingR2AccessKeyID     = errors.New("R2_ACCESS_KEY_ID is required")
	ErrMissingR2SecretAccessKey = errors.New("R2_SECRET_ACCESS_KEY is required")
	ErrMissingR2Endpoint        = errors.New("R2_ENDPOINT is required")
	ErrInvalidInteger           = errors.New("must be a valid integer")
	ErrInvalidFloat             = errors.New("must be a valid number")
)

// Default values for non-secret configuration.
const (
	DefaultPort                      = 8080
	DefaultEnv                       = "development"
	DefaultDatabaseDriver            = "sqlite"
	DefaultSQLiteURL                 = "file:nestscout.db?_pragma=busy_timeout(5000)"
	DefaultDistanceCacheTTLSeconds   = 3600
	DefaultPrecomputeRadiusM         = 2000.0
	DefaultRecomputeIntervalSeconds  = 300
	DefaultSpatialIndex              = "cell"
	DefaultComputeRateLimitPerMinute = 10
	DefaultTracingExporter           = "otlp-http"
	DefaultTracingSampleRate         = 0.1
)

// Load reads configuration from an optional YAML file and the environment.
// It returns the config together with every load and validation error found.
// A file that cannot be read is reported alone.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	l := &loader{k: k}
	cfg := &Config{
		Port:                      l.int([]string{"NESTSCOUT_PORT", "PORT"}, "port", DefaultPort),
		Env:                       l.string([]string{"NESTSCOUT_ENV", "ENV"}, "env", DefaultEnv),
		DatabaseDriver:            strings.ToLower(l.string([]string{"DATABASE_DRIVER"}, "database_driver", DefaultDatabaseDriver)),
		DatabaseURL:               l.string([]string{"DATABASE_URL"}, "database_url", ""),
		RedisURL:                  l.string([]string{"REDIS_URL"}, "redis_url", ""),
		DistanceCacheTTLSeconds:   l.int([]string{"DISTANCE_CACHE_TTL_SECONDS"}, "distance_cache_ttl_seconds", DefaultDistanceCacheTTLSeconds),
		ScoringWorkers:            l.int([]string{"SCORING_WORKERS"}, "scoring_workers", runtime.NumCPU()),
		PrecomputeRadiusM:         l.float([]string{"PRECOMPUTE_RADIUS_M"}, "precompute_radius_m", DefaultPrecomputeRadiusM),
		RecomputeIntervalSeconds:  l.int([]string{"RECOMPUTE_INTERVAL_SECONDS"}, "recompute_interval_seconds", DefaultRecomputeIntervalSeconds),
		SpatialIndex:              strings.ToLower(l.string([]string{"SPATIAL_INDEX"}, "spatial_index", DefaultSpatialIndex)),
		ComputeRateLimitPerMinute: l.int([]string{"COMPUTE_RATE_LIMIT_PER_MINUTE"}, "compute_rate_limit_per_minute", DefaultComputeRateLimitPerMinute),
		R2BucketName:              l.string([]string{"R2_BUCKET_NAME"}, "r2_bucket_name", ""),
		R2AccessKeyID:             l.string([]string{"R2_ACCESS_KEY_ID"}, "r2_access_key_id", ""),
		R2SecretAccessKey:         l.string([]string{"R2_SECRET_ACCESS_KEY"}, "r2_secret_access_key", ""),
		R2Endpoint:                l.string([]string{"R2_ENDPOINT"}, "r2_endpoint", ""),
		TracingEnabled:            l.bool([]string{"TRACING_ENABLED"}, "tracing_enabled", false),
		TracingExporter:           l.string([]string{"TRACING_EXPORTER"}, "tracing_exporter", DefaultTracingExporter),
		OTLPEndpoint:              l.string([]string{"OTEL_EXPORTER_OTLP_ENDPOINT"}, "otel_exporter_otlp_endpoint", ""),
		TracingSampleRate:         l.float([]string{"TRACING_SAMPLE_RATE"}, "tracing_sample_rate", DefaultTracingSampleRate),
		TracingInsecure:           l.bool([]string{"TRACING_INSECURE"}, "tracing_insecure", false),
	}

	// A local SQLite file keeps development zero-setup.
	if cfg.DatabaseURL == "" && cfg.DatabaseDriver == DefaultDatabaseDriver && cfg.Env == DefaultEnv {
		cfg.DatabaseURL = DefaultSQLiteURL
	}

	return cfg, append(l.errs, cfg.Validate()...)
}

// loader resolves one key at a time: the first set environment variable,
// then the file value, then the default. Parse errors are collected.
type loader struct {
	k    *koanf.Koanf
	errs []error
}

func (l *loader) env(keys []string) (string, string, bool) {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return key, val, true
		}
	}
	return "", "", false
}

func (l *loader) string(envKeys []string, path, def string) string {
	if _, val, ok := l.env(envKeys); ok {
		return val
	}
	if val := l.k.String(path); val != "" {
		return val
	}
	return def
}

func (l *loader) int(envKeys []string, path string, def int) int {
	if key, val, ok := l.env(envKeys); ok {
		i, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("%s %w", key, ErrInvalidInteger))
			return def
		}
		return i
	}
	if l.k.Exists(path) {
		return l.k.Int(path)
	}
	return def
}

func (l *loader) float(envKeys []string, path string, def float64) float64 {
	if key, val, ok := l.env(envKeys); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("%s %w", key, ErrInvalidFloat))
			return def
		}
		return f
	}
	if l.k.Exists(path) {
		return l.k.Float64(path)
	}
	return def
}

func (l *loader) bool(envKeys []string, path string, def bool) bool {
	if _, val, ok := l.env(envKeys); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
		return def
	}
	if l.k.Exists(path) {
		return l.k.Bool(path)
	}
	return def
}

// Validate checks required values and ranges. It returns every problem
// found, not just the first.
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres", "pgx":
	default:
		errs = append(errs, ErrInvalidDatabaseDriver)
	}
	switch c.SpatialIndex {
	case "cell", "scan":
	default:
		errs = append(errs, ErrInvalidSpatialIndex)
	}
	if c.ScoringWorkers <= 0 {
		errs = append(errs, ErrInvalidWorkers)
	}
	if !(c.PrecomputeRadiusM > 0) {
		errs = append(errs, ErrInvalidPrecomputeRadius)
	}
	if c.RecomputeIntervalSeconds <= 0 {
		errs = append(errs, ErrInvalidRecomputeInterval)
	}
	if c.DistanceCacheTTLSeconds <= 0 {
		errs = append(errs, ErrInvalidCacheTTL)
	}
	if c.ComputeRateLimitPerMinute <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}
	if c.TracingEnabled && c.TracingExporter != "otlp-http" && c.TracingExporter != "otlp-grpc" {
		errs = append(errs, ErrInvalidTracingExporter)
	}

	// R2 is optional but all-or-nothing.
	if c.R2BucketName != "" || c.R2AccessKeyID != "" || c.R2SecretAccessKey != "" || c.R2Endpoint != "" {
		if c.R2BucketName == "" {
			errs = append(errs, ErrMissingR2BucketName)
		}
		if c.R2AccessKeyID == "" {
			errs = append(errs, ErrMissingR2AccessKeyID)
		}
		if c.R2SecretAccessKey == "" {
			errs = append(errs, ErrMissingR2SecretAccessKey)
		}
		if c.R2Endpoint == "" {
			errs = append(errs, ErrMissingR2Endpoint)
		}
	}

	return errs
}

// R2Configured reports whether every R2 setting is present.
func (c *Config) R2Configured() bool {
	return c.R2BucketName != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2Endpoint != ""
}

// IsProduction reports whether Env is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DistanceCacheTTL returns the Redis cache TTL.
func (c *Config) DistanceCacheTTL() time.Duration {
	return time.Duration(c.DistanceCacheTTLSeconds) * time.Second
}

// RecomputeInterval returns the scheduled recompute period.
func (c *Config) RecomputeInterval() time.Duration {
	return time.Duration(c.RecomputeIntervalSeconds) * time.Second
}

// LogSummary returns the configuration for logging with secrets masked.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                          strconv.Itoa(c.Port),
		"env":                           c.Env,
		"database_driver":               c.DatabaseDriver,
		"database_url":                  maskDatabaseURL(c.DatabaseURL),
		"redis_url":                     maskDatabaseURL(c.RedisURL),
		"distance_cache_ttl_seconds":    strconv.Itoa(c.DistanceCacheTTLSeconds),
		"scoring_workers":               strconv.Itoa(c.ScoringWorkers),
		"precompute_radius_m":           strconv.FormatFloat(c.PrecomputeRadiusM, 'f', -1, 64),
		"recompute_interval_seconds":    strconv.Itoa(c.RecomputeIntervalSeconds),
		"spatial_index":                 c.SpatialIndex,
		"compute_rate_limit_per_minute": strconv.Itoa(c.ComputeRateLimitPerMinute),
		"r2_bucket_name":                c.R2BucketName,
		"r2_access_key_id":              maskSecret(c.R2AccessKeyID),
		"r2_secret_access_key":          maskSecret(c.R2SecretAccessKey),
		"r2_endpoint":                   c.R2Endpoint,
		"tracing_enabled":               strconv.FormatBool(c.TracingEnabled),
		"tracing_exporter":              c.TracingExporter,
		"otel_exporter_otlp_endpoint":   c.OTLPEndpoint,
		"tracing_sample_rate":           strconv.FormatFloat(c.TracingSampleRate, 'f', -1, 64),
	}
}

// maskSecret shows the first 4 characters of secrets of 8 or more
// characters and fully masks shorter ones.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password of a user:password@host URL. Values
// without a scheme, such as SQLite file names, are returned unchanged.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return s
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.LastIndex(rest, "@")
	if atIndex == -1 {
		return s
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s
	}

	return s[:schemeEnd+3] + rest[:colonIndex] + ":****" + rest[atIndex:]
}
