package scheduler

import (
	"time"

	"github.com/smallbiznis/registry/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	LockTTL     time.Duration
	// ExpansionSpec is a standard five-field cron expression.
	ExpansionSpec string
	EnabledJobs   []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:   time.Minute,
		BatchSize:     50,
		JobTimeout:    30 * time.Second,
		LockTTL:       2 * time.Minute,
		ExpansionSpec: "0 2 * * *",
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.ExpansionSpec == "" {
		c.ExpansionSpec = defaults.ExpansionSpec
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:   cfg.SchedulerInterval,
		BatchSize:     cfg.SchedulerBatchSize,
		ExpansionSpec: cfg.ExpansionCronSpec,
	}.withDefaults()
}
