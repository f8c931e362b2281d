package llmclient

import (
	"context"
	"time"
)

// transientError marks a failed attempt as retryable: 5xx, network errors,
// and a bare rate-limit are retried. Quota/exhaustion errors never reach
// here at all — the caller only constructs a transientError once it has
// already ruled out IsQuotaError, so a 429 arriving here is by construction
// a plain rate-limit, not an explicit quota signal.
type transientError struct {
	statusCode int
}

func (e transientError) Error() string {
	return "transient llm backend error"
}

func (e transientError) retryable() bool {
	return e.statusCode == 0 || e.statusCode >= 500 || e.statusCode == 429
}

// withRetry wraps an outbound call with bounded, exponential-backoff retry:
// up to cfg.RetryAttempts attempts, delay base*2^i between them. Mirrors the
// shape of a server-side retry middleware but applied client-side to
// outbound LLM calls.
func (c *Client) withRetry(ctx context.Context, call func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err

		if te, ok := err.(transientError); ok && !te.retryable() {
			return err
		}

		if attempt == c.cfg.RetryAttempts-1 {
			break
		}
		delay := c.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
