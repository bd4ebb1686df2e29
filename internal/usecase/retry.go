package usecase

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"library-reservation/internal/domain"
)

const (
	defaultMaxAttempts  = 4
	defaultBaseDelay    = 20 * time.Millisecond
	defaultJitterFactor = 0.3
)

var (
	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")

	// ErrInvalidJitterFactor is returned when the jitter factor is not between 0.0 and 1.0.
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

// RetryableFunc represents a function that can be retried.
type RetryableFunc func(ctx context.Context) error

type retryConfig struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
}

// RetryOption configures RetryOnUnavailable.
type RetryOption func(*retryConfig) error

// WithMaxAttempts sets the total number of calls, the first one included.
func WithMaxAttempts(attempts int) RetryOption {
	return func(config *retryConfig) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		config.maxAttempts = attempts
		return nil
	}
}

// WithBaseDelay sets the delay before the first retry. It doubles on every further retry.
func WithBaseDelay(delay time.Duration) RetryOption {
	return func(config *retryConfig) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}
		config.baseDelay = delay
		return nil
	}
}

// WithJitterFactor sets the random share (0.0 to 1.0) added on top of each delay.
func WithJitterFactor(factor float64) RetryOption {
	return func(config *retryConfig) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}
		config.jitterFactor = factor
		return nil
	}
}

// RetryOnUnavailable calls fn until it succeeds, fails with an error other than
// domain.ErrStoreUnavailable, or maxAttempts is reached. Definite outcomes such as
// ErrAlreadyClaimed are returned immediately.
//
// A retried create whose first attempt did apply comes back as ErrAlreadyClaimed;
// callers that care must check the holder with a read.
func RetryOnUnavailable(ctx context.Context, fn RetryableFunc, options ...RetryOption) error {
	config := &retryConfig{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}
	for _, option := range options {
		if err := option(config); err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt < config.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := config.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * config.jitterFactor //nolint:gosec // math/rand is sufficient for jitter

			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !domain.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
