package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/quickreview/internal/logging"
	"github.com/quickreview/internal/reviewerr"
)

// RetryConfig configures retry behavior with exponential backoff
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"` // Total attempts including the first (default: 3)
	BaseDelay   time.Duration `koanf:"base_delay"`   // Delay before the first retry (default: 1s)
	MaxDelay    time.Duration `koanf:"max_delay"`    // Upper bound of a single delay (default: 30s)
	Multiplier  float64       `koanf:"multiplier"`   // Exponential backoff multiplier (default: 2.0)
	Jitter      bool          `koanf:"jitter"`       // Randomize delays by +/-10% (default: true)
	LogRetries  bool          `koanf:"log_retries"`  // Whether to log retry attempts (default: true)
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"total_duration"`
	LastError     error         `json:"-"`
	Success       bool          `json:"success"`
	Exhausted     bool          `json:"exhausted"` // every attempt failed with a retryable error
	RetryReasons  []string      `json:"retry_reasons"`
}

// DefaultRetryConfig returns the policy for network-bound stages (fetch, publish)
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
		LogRetries:  true,
	}
}

// AnalyzeRetryConfig returns the policy for assistant sessions: one retry at most
func AnalyzeRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   2 * time.Second,
		MaxDelay:    2 * time.Second,
		Multiplier:  1.0,
		Jitter:      false,
		LogRetries:  true,
	}
}

// Once returns a policy that runs the operation exactly one time
func Once() RetryConfig {
	return RetryConfig{MaxAttempts: 1}
}

func (c RetryConfig) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.BaseDelay
	exp.MaxInterval = c.MaxDelay
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.Multiplier = c.Multiplier
	if exp.Multiplier < 1 {
		exp.Multiplier = 1
	}
	exp.RandomizationFactor = 0
	if c.Jitter {
		exp.RandomizationFactor = 0.1
	}
	exp.MaxElapsedTime = 0

	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Do executes operation until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. Only errors classified retryable by reviewerr are retried.
func Do(ctx context.Context, config RetryConfig, operation func(ctx context.Context) error, logger *logging.RunLogger) RetryResult {
	startTime := time.Now()
	result := RetryResult{RetryReasons: make([]string, 0)}

	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	op := func() error {
		result.Attempts++
		if config.LogRetries && result.Attempts > 1 {
			logger.Log("Retrying operation (attempt %d/%d)", result.Attempts, attempts)
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		result.LastError = err
		if !reviewerr.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		result.RetryReasons = append(result.RetryReasons, reasonOf(err))
		return err
	}

	notify := func(err error, delay time.Duration) {
		if config.LogRetries {
			logger.Log("Operation failed (attempt %d/%d): %v; waiting %v before retry", result.Attempts, attempts, err, delay)
		}
	}

	err := backoff.RetryNotify(op, config.newBackOff(ctx), notify)
	result.TotalDuration = time.Since(startTime)
	if err == nil {
		result.Success = true
		if config.LogRetries && result.Attempts > 1 {
			logger.Log("Operation succeeded after %d attempts (total duration: %v)", result.Attempts, result.TotalDuration)
		}
		return result
	}

	if ctxErr := ctx.Err(); ctxErr != nil && result.LastError == nil {
		result.LastError = ctxErr
	}
	result.Exhausted = reviewerr.IsRetryable(result.LastError) && result.Attempts >= attempts
	if config.LogRetries {
		logger.Log("Operation failed after %d attempts (total duration: %v): %v", result.Attempts, result.TotalDuration, result.LastError)
	}
	return result
}

func reasonOf(err error) string {
	if e, ok := reviewerr.As(err); ok {
		if e.Reason != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
		}
		return string(e.Kind)
	}
	return err.Error()
}
