package config_test

import (
	"testing"
	"time"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_URL", "REDIS_URL",
		"DECISION_CACHE_MAX_ENTRIES", "DECISION_CACHE_TTL_ALLOW_MS",
		"DECISION_CACHE_TTL_EXPLICIT_DENY_MS", "DECISION_CACHE_TTL_IMPLICIT_DENY_MS",
		"EVALUATOR_DIAGNOSTICS_CAP", "INVALIDATION_BUS_BUFFER",
		"INVALIDATION_OVERFLOW_POLICY", "SCHEDULER_EVAL_CONCURRENCY",
	} {
		t.Setenv(key, "")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 100_000, cfg.DecisionCacheMaxEntries)
	assert.Equal(t, 60*time.Second, cfg.DecisionCacheTTLAllow)
	assert.Equal(t, 10*time.Second, cfg.DecisionCacheTTLExplicitDeny)
	assert.Equal(t, 5*time.Second, cfg.DecisionCacheTTLImplicitDeny)
	assert.Equal(t, 128, cfg.EvaluatorDiagnosticsCap)
	assert.Equal(t, config.OverflowFlushAll, cfg.InvalidationOverflow)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DECISION_CACHE_MAX_ENTRIES", "500")
	t.Setenv("DECISION_CACHE_TTL_ALLOW_MS", "1000")
	t.Setenv("INVALIDATION_OVERFLOW_POLICY", "DropOldest")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 500, cfg.DecisionCacheMaxEntries)
	assert.Equal(t, time.Second, cfg.DecisionCacheTTLAllow)
	assert.Equal(t, config.OverflowDropOldest, cfg.InvalidationOverflow)
}

func TestLoad_RejectsZeroTTL(t *testing.T) {
	t.Setenv("DECISION_CACHE_TTL_ALLOW_MS", "0")
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoad_RejectsInvalidOverflowPolicy(t *testing.T) {
	t.Setenv("INVALIDATION_OVERFLOW_POLICY", "Bogus")
	_, err := config.Load()
	require.Error(t, err)
}
