package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"library-reservation/internal/domain"
)

func unavailable() error {
	return domain.Unavailable("test", fmt.Errorf("connection refused"))
}

func TestRetryOnUnavailable_SuccessWithoutRetry(t *testing.T) {
	calls := 0
	err := RetryOnUnavailable(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryOnUnavailable_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := RetryOnUnavailable(context.Background(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return unavailable()
		}
		return nil
	}, WithBaseDelay(time.Millisecond))

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryOnUnavailable_DefiniteOutcomesFailFast(t *testing.T) {
	for _, sentinel := range []error{domain.ErrAlreadyClaimed, domain.ErrClaimNotFound, domain.ErrResourceNotFound} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			calls := 0
			err := RetryOnUnavailable(context.Background(), func(_ context.Context) error {
				calls++
				return fmt.Errorf("wrapped: %w", sentinel)
			}, WithBaseDelay(time.Millisecond))

			assert.ErrorIs(t, err, sentinel)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestRetryOnUnavailable_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := RetryOnUnavailable(context.Background(), func(_ context.Context) error {
		calls++
		return unavailable()
	}, WithMaxAttempts(3), WithBaseDelay(time.Millisecond), WithJitterFactor(0))

	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 3, calls)
}

func TestRetryOnUnavailable_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryOnUnavailable(ctx, func(_ context.Context) error {
		calls++
		cancel()
		return unavailable()
	}, WithBaseDelay(time.Second))

	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 1, calls)
}

func TestRetryOnUnavailable_InvalidOptions(t *testing.T) {
	fn := func(_ context.Context) error { return nil }

	assert.ErrorIs(t, RetryOnUnavailable(context.Background(), fn, WithMaxAttempts(0)), ErrInvalidMaxAttempts)
	assert.ErrorIs(t, RetryOnUnavailable(context.Background(), fn, WithBaseDelay(-time.Millisecond)), ErrNegativeBaseDelay)
	assert.ErrorIs(t, RetryOnUnavailable(context.Background(), fn, WithJitterFactor(1.5)), ErrInvalidJitterFactor)
}
