package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("SCHEDULER_INTERVAL", "30s")
	t.Setenv("TLD_CONFIG_PATHS", " /a , ,/b")
	t.Setenv("SCHEDULER_ENABLED", "off")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()

	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, 30*time.Second, cfg.SchedulerInterval)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Tld.Paths)
	assert.False(t, cfg.SchedulerEnabled)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, "exact", cfg.FeeCheckMode)
}

func TestLoadRateLimits(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_CHECK_RATE", "2.5")
	t.Setenv("RATE_LIMIT_MUTATE_BURST", "x")
	t.Setenv("SUPERUSER_REGISTRARS", "ops, support")

	cfg := Load()

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 2.5, cfg.RateLimit.CheckRate)
	assert.Equal(t, 20, cfg.RateLimit.MutateBurst)
	assert.Equal(t, []string{"ops", "support"}, cfg.SuperuserRegistrars)
}
