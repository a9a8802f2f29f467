package domain

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError is returned when the upstream API throttles (HTTP 429) or
// temporarily bans (HTTP 418) the client. RetryAfter is zero when the
// response carried no Retry-After header.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (status %d), retry after %s", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (status %d)", e.StatusCode)
}

// IsRateLimit reports whether err carries a rate-limit signal.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// RetryAfter extracts the server-advised retry delay from err, or zero when
// err is not a rate limit or the server gave no advice.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
