// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge an optional YAML file with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that map onto config keys:
// MATCHRANK_RANKING_WORKERS sets ranking_workers.
const EnvPrefix = "MATCHRANK_"

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port     int    `koanf:"port"`
	Env      string `koanf:"env"`
	LogLevel string `koanf:"log_level"`

	// Storage. DatabaseURL is optional outside production; without it tenant
	// configs come from an in-memory source.
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	// Ranking engine
	RankingCalibrationPath string `koanf:"ranking_calibration_path"`
	RankingWorkers         int    `koanf:"ranking_workers"` // 0 means GOMAXPROCS
	RankingTimeoutMS       int    `koanf:"ranking_timeout_ms"`
	RankingDefaultLimit    int    `koanf:"ranking_default_limit"`
	RankingMaxCandidates   int    `koanf:"ranking_max_candidates"`

	// Tenant config cache and tier snapshots
	TenantCacheTTLSeconds        int `koanf:"tenant_cache_ttl_seconds"`
	TierRecomputeIntervalSeconds int `koanf:"tier_recompute_interval_seconds"`
	TierRecomputeTimeoutSeconds  int `koanf:"tier_recompute_timeout_seconds"`
	TierSnapshotTTLSeconds       int `koanf:"tier_snapshot_ttl_seconds"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporter     string  `koanf:"tracing_exporter"`
	OTLPEndpoint        string  `koanf:"otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL  = errors.New("DATABASE_URL is required in production")
	ErrInvalidPort         = errors.New("PORT must be between 1 and 65535")
	ErrInvalidNumber       = errors.New("value must be a valid number")
	ErrInvalidBool         = errors.New("value must be a valid boolean")
	ErrInvalidLogLevel     = errors.New("LOG_LEVEL must be one of debug, info, warn, error")
	ErrInvalidWorkers      = errors.New("ranking_workers must not be negative")
	ErrInvalidTimeout      = errors.New("ranking_timeout_ms must be positive")
	ErrInvalidLimit        = errors.New("ranking limits must be positive")
	ErrInvalidDuration     = errors.New("cache and recompute durations must be positive")
	ErrInvalidExporter     = errors.New("tracing_exporter must be otlp-http or otlp-grpc")
	ErrInvalidSamplingRate = errors.New("tracing_sampling_rate must be between 0 and 1")
)

// Default values for non-secret configuration.
const (
	DefaultPort                         = 8080
	DefaultEnv                          = "development"
	DefaultCalibrationPath              = "configs/ranking.calibration.json"
	DefaultRankingTimeoutMS             = 2000
	DefaultRankingDefaultLimit          = 50
	DefaultRankingMaxCandidates         = 5000
	DefaultTenantCacheTTLSeconds        = 300
	DefaultTierRecomputeIntervalSeconds = 30
	DefaultTierRecomputeTimeoutSeconds  = 30
	DefaultTierSnapshotTTLSeconds       = 7 * 24 * 60 * 60
	DefaultTracingExporter              = "otlp-http"
	DefaultTracingSamplingRate          = 0.1
)

// Load reads configuration from an optional config file and the environment.
// Precedence, highest first: unprefixed legacy variables (PORT, ENV,
// DATABASE_URL, REDIS_URL, LOG_LEVEL), MATCHRANK_* variables, the file, then
// defaults.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Blank variables are skipped so they cannot mask file values.
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
	}), nil); err != nil {
		return nil, []error{fmt.Errorf("failed to load environment: %w", err)}
	}

	intVal := func(key string, defaultVal int, envKeys ...string) int {
		v, err := getIntOrDefault(k, key, defaultVal, envKeys...)
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		return v
	}
	boolVal := func(key string, defaultVal bool) bool {
		v, err := getBoolOrDefault(k, key, defaultVal)
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
		return v
	}

	samplingRate, err := getFloatOrDefault(k, "tracing_sampling_rate", DefaultTracingSamplingRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cfg := &Config{
		Port:        intVal("port", DefaultPort, "PORT"),
		Env:         getEnvOrDefaultMulti([]string{"ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		LogLevel:    getEnvOrKoanf("LOG_LEVEL", k, "log_level"),
		DatabaseURL: getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:    getEnvOrKoanf("REDIS_URL", k, "redis_url"),

		RankingCalibrationPath: getEnvOrDefault("RANKING_CALIBRATION_PATH", k.String("ranking_calibration_path"), DefaultCalibrationPath),
		RankingWorkers:         intVal("ranking_workers", 0),
		RankingTimeoutMS:       intVal("ranking_timeout_ms", DefaultRankingTimeoutMS),
		RankingDefaultLimit:    intVal("ranking_default_limit", DefaultRankingDefaultLimit),
		RankingMaxCandidates:   intVal("ranking_max_candidates", DefaultRankingMaxCandidates),

		TenantCacheTTLSeconds:        intVal("tenant_cache_ttl_seconds", DefaultTenantCacheTTLSeconds),
		TierRecomputeIntervalSeconds: intVal("tier_recompute_interval_seconds", DefaultTierRecomputeIntervalSeconds),
		TierRecomputeTimeoutSeconds:  intVal("tier_recompute_timeout_seconds", DefaultTierRecomputeTimeoutSeconds),
		TierSnapshotTTLSeconds:       intVal("tier_snapshot_ttl_seconds", DefaultTierSnapshotTTLSeconds),

		TracingEnabled:      boolVal("tracing_enabled", false),
		TracingExporter:     getEnvOrDefault("", k.String("tracing_exporter"), DefaultTracingExporter),
		OTLPEndpoint:        getEnvOrKoanf("OTEL_EXPORTER_OTLP_ENDPOINT", k, "otlp_endpoint"),
		TracingSamplingRate: samplingRate,
		TracingInsecure:     boolVal("tracing_insecure", false),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// IsProduction reports whether the server runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RankingTimeout bounds a single ranking request.
func (c *Config) RankingTimeout() time.Duration {
	return time.Duration(c.RankingTimeoutMS) * time.Millisecond
}

// TenantCacheTTL is how long a tenant blob stays in Redis.
func (c *Config) TenantCacheTTL() time.Duration {
	return time.Duration(c.TenantCacheTTLSeconds) * time.Second
}

// TierRecomputeInterval is the tier job tick.
func (c *Config) TierRecomputeInterval() time.Duration {
	return time.Duration(c.TierRecomputeIntervalSeconds) * time.Second
}

// TierRecomputeTimeout bounds one tier job cycle.
func (c *Config) TierRecomputeTimeout() time.Duration {
	return time.Duration(c.TierRecomputeTimeoutSeconds) * time.Second
}

// TierSnapshotTTL is how long a tier snapshot stays in Redis.
func (c *Config) TierSnapshotTTL() time.Duration {
	return time.Duration(c.TierSnapshotTTLSeconds) * time.Second
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
// An empty envKey skips the environment lookup.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if envKey != "" {
		if val := os.Getenv(envKey); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// lookup returns the raw value for key and the name it was found under.
// envKeys are consulted before koanf.
func lookup(k *koanf.Koanf, key string, envKeys []string) (string, string) {
	for _, ek := range envKeys {
		if val := os.Getenv(ek); val != "" {
			return val, ek
		}
	}
	if k.Exists(key) {
		return strings.TrimSpace(k.String(key)), key
	}
	return "", ""
}

// getIntOrDefault returns the first of envKeys or the koanf value as an int, or default.
// Returns an error if a value is set but cannot be parsed as an integer.
func getIntOrDefault(k *koanf.Koanf, key string, defaultVal int, envKeys ...string) (int, error) {
	raw, src := lookup(k, key, envKeys)
	if raw == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal, fmt.Errorf("%s must be a valid integer: %w", src, ErrInvalidNumber)
	}
	return i, nil
}

// getFloatOrDefault returns the koanf value as float64, or default.
func getFloatOrDefault(k *koanf.Koanf, key string, defaultVal float64) (float64, error) {
	raw, src := lookup(k, key, nil)
	if raw == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s must be a valid float: %w", src, ErrInvalidNumber)
	}
	return f, nil
}

// getBoolOrDefault accepts true/false, 1/0, yes/no and on/off.
func getBoolOrDefault(k *koanf.Koanf, key string, defaultVal bool) (bool, error) {
	raw, src := lookup(k, key, nil)
	if raw == "" {
		return defaultVal, nil
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return defaultVal, fmt.Errorf("%s: %w", src, ErrInvalidBool)
}

// Validate checks ranges and required values.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ErrInvalidLogLevel)
	}

	if c.RankingWorkers < 0 {
		errs = append(errs, ErrInvalidWorkers)
	}
	if c.RankingTimeoutMS <= 0 {
		errs = append(errs, ErrInvalidTimeout)
	}
	if c.RankingDefaultLimit <= 0 || c.RankingMaxCandidates <= 0 {
		errs = append(errs, ErrInvalidLimit)
	}
	if c.TenantCacheTTLSeconds <= 0 || c.TierRecomputeIntervalSeconds <= 0 ||
		c.TierRecomputeTimeoutSeconds <= 0 || c.TierSnapshotTTLSeconds <= 0 {
		errs = append(errs, ErrInvalidDuration)
	}

	if c.TracingEnabled {
		switch c.TracingExporter {
		case "otlp-http", "otlp-grpc":
		default:
			errs = append(errs, ErrInvalidExporter)
		}
	}
	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		errs = append(errs, ErrInvalidSamplingRate)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// Credentials embedded in connection URLs are masked.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                            strconv.Itoa(c.Port),
		"env":                             c.Env,
		"log_level":                       c.LogLevel,
		"database_url":                    maskDatabaseURL(c.DatabaseURL),
		"redis_url":                       maskDatabaseURL(c.RedisURL),
		"ranking_calibration_path":        c.RankingCalibrationPath,
		"ranking_workers":                 strconv.Itoa(c.RankingWorkers),
		"ranking_timeout_ms":              strconv.Itoa(c.RankingTimeoutMS),
		"ranking_default_limit":           strconv.Itoa(c.RankingDefaultLimit),
		"ranking_max_candidates":          strconv.Itoa(c.RankingMaxCandidates),
		"tenant_cache_ttl_seconds":        strconv.Itoa(c.TenantCacheTTLSeconds),
		"tier_recompute_interval_seconds": strconv.Itoa(c.TierRecomputeIntervalSeconds),
		"tier_recompute_timeout_seconds":  strconv.Itoa(c.TierRecomputeTimeoutSeconds),
		"tier_snapshot_ttl_seconds":       strconv.Itoa(c.TierSnapshotTTLSeconds),
		"tracing_enabled":                 strconv.FormatBool(c.TracingEnabled),
		"tracing_exporter":                c.TracingExporter,
		"otlp_endpoint":                   c.OTLPEndpoint,
		"tracing_sampling_rate":           strconv.FormatFloat(c.TracingSamplingRate, 'f', -1, 64),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
// Works for postgres://, postgresql:// and redis:// alike.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.LastIndex(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
