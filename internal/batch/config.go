package batch

import (
	"runtime"
)

// Config holds configuration for batch processing
type Config struct {
	MaxWorkers int // Maximum number of concurrent review runs
}

// DefaultConfig returns a default configuration for batch processing
func DefaultConfig() Config {
	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4
	}
	return Config{MaxWorkers: workers}
}

// ConfigureTaskQueue configures a TaskQueue based on Config
func ConfigureTaskQueue(config Config) *TaskQueue {
	return NewTaskQueue(config.MaxWorkers)
}
