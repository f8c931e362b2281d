package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	client := &Client{cfg: Config{RetryAttempts: 3, RetryBaseDelay: time.Millisecond}}
	attempts := 0
	err := client.withRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return transientError{statusCode: 500}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestWithRetryStopsImmediatelyOnNonRetryableError(t *testing.T) {
	client := &Client{cfg: Config{RetryAttempts: 5, RetryBaseDelay: time.Millisecond}}
	attempts := 0
	err := client.withRetry(context.Background(), func() error {
		attempts++
		return transientError{statusCode: 400}
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestWithRetryExhaustsAttemptsOnPersistentFailure(t *testing.T) {
	client := &Client{cfg: Config{RetryAttempts: 3, RetryBaseDelay: time.Millisecond}}
	attempts := 0
	sentinel := errors.New("boom")
	err := client.withRetry(context.Background(), func() error {
		attempts++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 3, attempts)
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	client := &Client{cfg: Config{RetryAttempts: 5, RetryBaseDelay: 50 * time.Millisecond}}
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := client.withRetry(ctx, func() error {
		attempts++
		return transientError{statusCode: 500}
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestTransientErrorRetryable(t *testing.T) {
	require.True(t, transientError{statusCode: 0}.retryable())
	require.True(t, transientError{statusCode: 503}.retryable())
	require.True(t, transientError{statusCode: 429}.retryable())
	require.False(t, transientError{statusCode: 400}.retryable())
}
