// Package config loads control-plane configuration from environment
// variables, with safe production defaults — the same 12-factor shape as
// the teacher's config package, expanded to cover every knob spec §6
// enumerates.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// OverflowPolicy is the invalidation bus's behavior when its buffer fills.
type OverflowPolicy string

const (
	OverflowFlushAll   OverflowPolicy = "FlushAll"
	OverflowDropOldest OverflowPolicy = "DropOldest"
)

// Config holds every enumerated option from spec §6 plus ambient server
// settings (port, log level, store DSN).
type Config struct {
	Port     string
	LogLevel string

	// Policy Document Store (C2) DSN. Empty DatabaseURL selects the
	// in-memory store; a postgres:// or postgresql:// URL selects the
	// Postgres backend; any other value is opened as an embedded sqlite
	// file path.
	DatabaseURL string

	// RedisURL backs the cross-node decision cache tier and the
	// invalidation bus's extern transport (C8, C9). Empty disables both
	// and the node runs single-instance, in-memory only.
	RedisURL string

	DecisionCacheMaxEntries      int
	DecisionCacheTTLAllow        time.Duration
	DecisionCacheTTLExplicitDeny time.Duration
	DecisionCacheTTLImplicitDeny time.Duration

	EvaluatorDiagnosticsCap int

	InvalidationBusBuffer int
	InvalidationOverflow  OverflowPolicy

	SchedulerEvalConcurrency int

	OTLPEndpoint string
	OTLPEnabled  bool
}

// Load reads configuration from the environment, applying spec §6's
// documented defaults. It returns an error if a numeric override cannot be
// parsed or if TTLs are configured non-positive (never unbounded, §4.8).
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		DecisionCacheMaxEntries:      100_000,
		DecisionCacheTTLAllow:        60 * time.Second,
		DecisionCacheTTLExplicitDeny: 10 * time.Second,
		DecisionCacheTTLImplicitDeny: 5 * time.Second,

		EvaluatorDiagnosticsCap: 128,

		InvalidationBusBuffer: 8192,
		InvalidationOverflow:  OverflowFlushAll,

		SchedulerEvalConcurrency: 0, // not read by Bootstrap or any other component

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPEnabled:  getEnv("OTEL_ENABLED", "false") == "true",
	}

	var err error
	if cfg.DecisionCacheMaxEntries, err = getEnvInt("DECISION_CACHE_MAX_ENTRIES", cfg.DecisionCacheMaxEntries); err != nil {
		return nil, err
	}
	if cfg.DecisionCacheTTLAllow, err = getEnvDurationMs("DECISION_CACHE_TTL_ALLOW_MS", cfg.DecisionCacheTTLAllow); err != nil {
		return nil, err
	}
	if cfg.DecisionCacheTTLExplicitDeny, err = getEnvDurationMs("DECISION_CACHE_TTL_EXPLICIT_DENY_MS", cfg.DecisionCacheTTLExplicitDeny); err != nil {
		return nil, err
	}
	if cfg.DecisionCacheTTLImplicitDeny, err = getEnvDurationMs("DECISION_CACHE_TTL_IMPLICIT_DENY_MS", cfg.DecisionCacheTTLImplicitDeny); err != nil {
		return nil, err
	}
	if cfg.EvaluatorDiagnosticsCap, err = getEnvInt("EVALUATOR_DIAGNOSTICS_CAP", cfg.EvaluatorDiagnosticsCap); err != nil {
		return nil, err
	}
	if cfg.InvalidationBusBuffer, err = getEnvInt("INVALIDATION_BUS_BUFFER", cfg.InvalidationBusBuffer); err != nil {
		return nil, err
	}
	if cfg.SchedulerEvalConcurrency, err = getEnvInt("SCHEDULER_EVAL_CONCURRENCY", cfg.SchedulerEvalConcurrency); err != nil {
		return nil, err
	}
	if v := os.Getenv("INVALIDATION_OVERFLOW_POLICY"); v != "" {
		switch OverflowPolicy(v) {
		case OverflowFlushAll, OverflowDropOldest:
			cfg.InvalidationOverflow = OverflowPolicy(v)
		default:
			return nil, fmt.Errorf("config: invalid INVALIDATION_OVERFLOW_POLICY %q", v)
		}
	}

	if cfg.DecisionCacheMaxEntries <= 0 {
		return nil, fmt.Errorf("config: decision_cache.max_entries must be positive")
	}
	if cfg.DecisionCacheTTLAllow <= 0 || cfg.DecisionCacheTTLExplicitDeny <= 0 || cfg.DecisionCacheTTLImplicitDeny <= 0 {
		return nil, fmt.Errorf("config: decision cache TTLs must be positive (never unbounded, per spec §4.8)")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid int for %s: %w", key, err)
	}
	return n, nil
}

func getEnvDurationMs(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration(ms) for %s: %w", key, err)
	}
	return time.Duration(n) * time.Millisecond, nil
}
