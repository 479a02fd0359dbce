package jobqueue

import (
	"math"
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the review job queue
type QueueConfig struct {
	// Worker Configuration
	MaxWorkers int // Number of concurrent review runs (default: 2)

	// Retry Configuration
	MaxAttempts int           // Attempts per job before River discards it (default: 5)
	RetryPolicy RetryPolicy   // Delay between attempts
	JobTimeout  time.Duration // Maximum time a single run can take (default: 20 minutes)
}

// RetryPolicy defines how failed jobs are rescheduled
type RetryPolicy struct {
	InitialInterval time.Duration // default: 1 minute
	MaxInterval     time.Duration // default: 1 hour
	Multiplier      float64       // default: 2.0 (exponential backoff)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		// Assistant sessions dominate run time; few workers keep model usage bounded
		MaxWorkers: 2,

		MaxAttempts: 5,
		RetryPolicy: RetryPolicy{
			InitialInterval: 1 * time.Minute,
			MaxInterval:     1 * time.Hour,
			Multiplier:      2.0,
		},

		JobTimeout: 20 * time.Minute,
	}
}

// NextRetryDelay returns the wait before the attempt following attempt (1-based)
func (p RetryPolicy) NextRetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.InitialInterval) * math.Pow(mult, float64(attempt-1))
	if p.MaxInterval > 0 && delay > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(delay)
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	workers := c.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: workers,
		},
	}
}
