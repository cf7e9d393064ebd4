package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig configures retry behavior with exponential backoff
type RetryConfig struct {
	MaxRetries   int           `koanf:"max_retries"`   // Retries after the first attempt (default: 3)
	InitialDelay time.Duration `koanf:"initial_delay"` // Wait before the first attempt (default: 0)
	BaseDelay    time.Duration `koanf:"base_delay"`    // Base delay between retries (default: 1s)
	MaxDelay     time.Duration `koanf:"max_delay"`     // Maximum delay between retries (default: 30s)
	Multiplier   float64       `koanf:"multiplier"`    // Exponential backoff multiplier (default: 2.0)
	Jitter       bool          `koanf:"jitter"`        // Add random jitter to prevent thundering herd (default: true)
	LogRetries   bool          `koanf:"log_retries"`   // Whether to log retry attempts (default: true)

	// ShouldRetry decides whether a failure is worth another attempt.
	// Nil retries every error.
	ShouldRetry func(error) bool `koanf:"-"`
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           // Total number of attempts made
	TotalDuration time.Duration // Total time spent on all attempts
	LastError     error         // Last error encountered
	Success       bool          // Whether the operation eventually succeeded
	RetryReasons  []string      // Reasons for each retry attempt
}

// DefaultRetryConfig returns a retry configuration with sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// ReconnectConfig is the realtime transport policy: one attempt after a
// fixed five second pause.
func ReconnectConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   0,
		InitialDelay: 5 * time.Second,
		BaseDelay:    5 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
		LogRetries:   true,
		ShouldRetry:  IsRetryableError,
	}
}

// RetryWithBackoff executes an operation with exponential backoff retry logic.
// A nil logger disables logging.
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation func() error, logger *zerolog.Logger) RetryResult {
	startTime := time.Now()
	result := RetryResult{RetryReasons: make([]string, 0)}

	logf := func(level zerolog.Level, attempt int) *zerolog.Event {
		if !config.LogRetries || logger == nil {
			return nil
		}
		return logger.WithLevel(level).Int("attempt", attempt+1).Int("max_attempts", config.MaxRetries+1)
	}

	if config.InitialDelay > 0 {
		if !wait(ctx, config.InitialDelay) {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}
	}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		err := operation()
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if ev := logf(zerolog.DebugLevel, attempt); ev != nil {
				ev.Dur("duration", result.TotalDuration).Msg("Operation succeeded")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, err.Error())

		if attempt >= config.MaxRetries || (config.ShouldRetry != nil && !config.ShouldRetry(err)) {
			result.TotalDuration = time.Since(startTime)
			if ev := logf(zerolog.WarnLevel, attempt); ev != nil {
				ev.Err(err).Dur("duration", result.TotalDuration).Msg("Operation failed, giving up")
			}
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}

		delay := calculateDelay(config, attempt)
		if ev := logf(zerolog.InfoLevel, attempt); ev != nil {
			ev.Err(err).Dur("delay", delay).Msg("Operation failed, retrying")
		}

		if !wait(ctx, delay) {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// calculateDelay calculates the delay for the next retry attempt using exponential backoff
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		// up to 10% either way
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsRetryableError determines if an error is retryable. Handshake rejections
// (bad credentials, forbidden origin) are not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	for _, fatal := range []string{"401", "403", "unauthorized", "forbidden"} {
		if strings.Contains(errStr, fatal) {
			return false
		}
	}
	return true
}
