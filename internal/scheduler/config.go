package scheduler

import (
	"time"

	"github.com/smallbiznis/contentgate/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
	OrphanAfter time.Duration
	JobTimeout  time.Duration
	// EnabledJobs restricts RunOnce to the named jobs. Empty runs every job.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: time.Minute,
		BatchSize:   100,
		OrphanAfter: 10 * time.Minute,
		JobTimeout:  30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Reconcile.Enabled,
		RunInterval: cfg.Reconcile.Interval,
		BatchSize:   cfg.Reconcile.BatchSize,
		OrphanAfter: cfg.Reconcile.OrphanAfter,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.OrphanAfter <= 0 {
		c.OrphanAfter = defaults.OrphanAfter
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
