package scheduler

import (
	"time"

	royaltydomain "github.com/daddykev/stardust-dsp/internal/royalty/domain"
)

// Config controls scheduler cadence and the statement run shape.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	// AggregateInterval is the minimum gap between aggregation passes;
	// the other jobs run every tick.
	AggregateInterval time.Duration
	// AggregateLookback is how far back the first aggregation pass reads
	// play events; later passes continue from the previous window's end.
	AggregateLookback time.Duration
	// StatementDay is the day of month on which last month's statement run
	// becomes eligible.
	StatementDay    int
	StatementMethod royaltydomain.Method
	// EnabledJobs empty means every job runs (monolith mode).
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		JobTimeout:        30 * time.Second,
		AggregateInterval: time.Hour,
		AggregateLookback: 48 * time.Hour,
		StatementDay:      1,
		StatementMethod:   royaltydomain.MethodProRata,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.AggregateInterval <= 0 {
		c.AggregateInterval = defaults.AggregateInterval
	}
	if c.AggregateLookback <= 0 {
		c.AggregateLookback = defaults.AggregateLookback
	}
	if c.StatementDay <= 0 || c.StatementDay > 28 {
		c.StatementDay = defaults.StatementDay
	}
	if c.StatementMethod == "" {
		c.StatementMethod = defaults.StatementMethod
	}
	return c
}
