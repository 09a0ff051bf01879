package tasks

import "time"

// Config holds configuration for the task queue system.
type Config struct {
	// Workers is the number of concurrent task workers. Default: 2
	Workers int

	// ReleaseAfter is when a claimed task whose worker died is released back
	// to the queue. It must exceed the longest task timeout. Default: 4h
	ReleaseAfter time.Duration

	// CleanupInterval is how often backlite prunes finished tasks. Default: 1h
	CleanupInterval time.Duration

	// RetentionDuration is how long finished sync runs are kept. Default: 720h
	RetentionDuration time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           2,
		ReleaseAfter:      4 * time.Hour,
		CleanupInterval:   1 * time.Hour,
		RetentionDuration: 30 * 24 * time.Hour,
	}
}

// RetentionDays is RetentionDuration rounded up to whole days.
func (c Config) RetentionDays() int {
	days := int((c.RetentionDuration + 24*time.Hour - 1) / (24 * time.Hour))
	if days < 1 {
		return 1
	}
	return days
}
