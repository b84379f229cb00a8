package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:        maxRetries,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestErrorClassification(t *testing.T) {
	t.Run("transient", func(t *testing.T) {
		err := NewTransientError("provider unreachable", errors.New("dial tcp: refused"))
		assert.True(t, IsTransient(err))
		assert.False(t, IsMalformed(err))
		assert.True(t, IsRetryable(err))
		assert.ErrorIs(t, err, ErrTransient)
	})

	t.Run("malformed", func(t *testing.T) {
		err := NewMalformedError("bad json", errors.New("unexpected end of input"))
		assert.True(t, IsMalformed(err))
		assert.False(t, IsTransient(err))
		assert.True(t, IsRetryable(err), "malformed output is retried before degrading")
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("wrapped errors keep their class", func(t *testing.T) {
		err := fmt.Errorf("call failed: %w", NewTransientError("", nil))
		assert.True(t, IsTransient(err))
	})

	t.Run("pattern matching", func(t *testing.T) {
		assert.True(t, IsRetryable(errors.New("503 service unavailable")))
		assert.True(t, IsRetryable(errors.New("rate limit exceeded")))
		assert.True(t, IsRetryable(context.DeadlineExceeded))
		assert.False(t, IsRetryable(errors.New("invalid api key")))
		assert.False(t, IsRetryable(nil))
	})

	t.Run("classify", func(t *testing.T) {
		assert.Nil(t, Classify(nil))

		malformed := NewMalformedError("x", nil)
		assert.Same(t, error(malformed), Classify(malformed), "already-classified errors pass through")

		classified := Classify(errors.New("connection reset"))
		assert.True(t, IsTransient(classified))
	})
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		result, err := Retry(ctx, fastRetry(3), func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", NewTransientError("not yet", nil)
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausts retries", func(t *testing.T) {
		calls := 0
		_, err := Retry(ctx, fastRetry(2), func(ctx context.Context) (int, error) {
			calls++
			return 0, NewTransientError("still down", nil)
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls, "one initial call plus two retries")
		assert.True(t, IsTransient(err))
	})

	t.Run("non-retryable fails immediately", func(t *testing.T) {
		calls := 0
		_, err := Retry(ctx, fastRetry(3), func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("invalid request")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancellation aborts backoff", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := Retry(cancelled, RetryConfig{MaxRetries: 2, InitialDelay: time.Hour}, func(ctx context.Context) (int, error) {
			return 0, NewTransientError("down", nil)
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWithTimeout(t *testing.T) {
	ctx := context.Background()

	t.Run("zero timeout means unbounded", func(t *testing.T) {
		result, err := WithTimeout(ctx, 0, func(ctx context.Context) (string, error) {
			_, hasDeadline := ctx.Deadline()
			assert.False(t, hasDeadline)
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
	})

	t.Run("deadline expiry becomes transient", func(t *testing.T) {
		_, err := WithTimeout(ctx, 5*time.Millisecond, func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
		require.Error(t, err)
		assert.True(t, IsTransient(err), "timeouts degrade like provider failures")
	})
}

func TestBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled breaker passes through", func(t *testing.T) {
		b := NewBreaker("test", BreakerConfig{Enabled: false})
		result, err := Do(ctx, b, func(ctx context.Context) (int, error) { return 7, nil })
		require.NoError(t, err)
		assert.Equal(t, 7, result)
	})

	t.Run("opens after repeated failures", func(t *testing.T) {
		b := NewBreaker("test", DefaultBreakerConfig())

		boom := errors.New("provider down")
		for i := 0; i < 5; i++ {
			_, _ = Do(ctx, b, func(ctx context.Context) (int, error) { return 0, boom })
		}

		_, err := Do(ctx, b, func(ctx context.Context) (int, error) {
			t.Fatal("open breaker must not invoke fn")
			return 0, nil
		})
		require.Error(t, err)
		assert.True(t, IsTransient(err), "open breaker surfaces as transient")
	})
}
