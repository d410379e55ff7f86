package processing

import "time"

// RetryPolicy bounds re-queueing after infrastructure failures.
// Attempt numbers count retries already performed; the first delivery is 0.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy retries three times after 1s, 2s and 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   time.Hour,
	}
}

// Delay returns the countdown before the retry that follows attempt:
// BaseDelay * 2^attempt, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Hour
	}

	// guard the shift against overflow
	if attempt >= 62 {
		return maxDelay
	}
	delay := base << attempt
	if delay <= 0 || delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Exhausted reports whether a failure on attempt may no longer be retried.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxRetries
}
