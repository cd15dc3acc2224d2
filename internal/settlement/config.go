package settlement

import (
	"time"

	"github.com/craftora/payline/internal/config"
)

// Config controls settlement intervals and batch sizes.
type Config struct {
	RunInterval   time.Duration
	BatchSize     int
	DelayHours    int
	JobTimeout    time.Duration
	LeaderLockTTL time.Duration
	EnabledJobs   []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:   15 * time.Minute,
		BatchSize:     50,
		DelayHours:    72,
		JobTimeout:    30 * time.Second,
		LeaderLockTTL: 5 * time.Minute,
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
	if c.DelayHours < 0 {
		c.DelayHours = defaults.DelayHours
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LeaderLockTTL <= 0 {
		c.LeaderLockTTL = defaults.LeaderLockTTL
	}
	return c
}

// ProvideConfig maps the application configuration onto settlement knobs.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.SettlementInterval,
		BatchSize:   cfg.SettlementBatchSize,
		DelayHours:  cfg.SettlementDelayHours,
	}.withDefaults()
}
