package pipeline

import "time"

// Config holds the fan-out widths, batch sizes and retry policy of a sync run.
type Config struct {
	// PageSize is the number of listings requested per page. Default: 100
	PageSize int

	// FetchFanOut is the number of pages fetched per wave. Default: 30
	FetchFanOut int

	// EnrichBatchSize is how many listings one enrich wave works on. Default: 500
	EnrichBatchSize int

	// EnrichFanOut bounds concurrent enrichments within a wave. Default: 20
	EnrichFanOut int

	// CleanupBatchSize is how many listings one cleanup wave works on. Default: 500
	CleanupBatchSize int

	// CleanupFanOut bounds concurrent removals within a wave. Default: 20
	CleanupFanOut int

	// StepAttempts is how often a single step is tried before it counts as
	// a wave error. Default: 3
	StepAttempts int

	// StepBackoff is the first retry delay; it doubles up to StepMaxBackoff.
	StepBackoff    time.Duration
	StepMaxBackoff time.Duration

	// LeaseDuration is how long an execution owns its run without renewing.
	// It is renewed every third of the duration. Default: 2m
	LeaseDuration time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:         100,
		FetchFanOut:      30,
		EnrichBatchSize:  500,
		EnrichFanOut:     20,
		CleanupBatchSize: 500,
		CleanupFanOut:    20,
		StepAttempts:     3,
		StepBackoff:      500 * time.Millisecond,
		StepMaxBackoff:   10 * time.Second,
		LeaseDuration:    2 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.FetchFanOut <= 0 {
		c.FetchFanOut = d.FetchFanOut
	}
	if c.EnrichBatchSize <= 0 {
		c.EnrichBatchSize = d.EnrichBatchSize
	}
	if c.EnrichFanOut <= 0 {
		c.EnrichFanOut = d.EnrichFanOut
	}
	if c.CleanupBatchSize <= 0 {
		c.CleanupBatchSize = d.CleanupBatchSize
	}
	if c.CleanupFanOut <= 0 {
		c.CleanupFanOut = d.CleanupFanOut
	}
	if c.StepAttempts <= 0 {
		c.StepAttempts = d.StepAttempts
	}
	if c.StepBackoff <= 0 {
		c.StepBackoff = d.StepBackoff
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = d.LeaseDuration
	}
	if c.StepMaxBackoff < c.StepBackoff {
		c.StepMaxBackoff = c.StepBackoff
	}
	return c
}
