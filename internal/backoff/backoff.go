// Package backoff centralizes retry delay calculation: a bounded uniform
// jitter window plus Retry-After header parsing.
package backoff

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Jitter draws a uniform random delay in [base, min(max, base*2^attempt)) for
// the given retry attempt (1-indexed). The window widens with each attempt but
// never exceeds max; the draw never falls below base.
func Jitter(rng *rand.Rand, attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Cap the shift so the window arithmetic cannot overflow.
	if attempt > 30 {
		attempt = 30
	}

	upper := base << uint(attempt)
	if upper > max || upper <= 0 {
		upper = max
	}
	if upper <= base {
		return base
	}

	span := int64(upper - base)
	var n int64
	if rng != nil {
		n = rng.Int63n(span)
	} else {
		n = rand.Int63n(span)
	}
	return base + time.Duration(n)
}

// ParseRetryAfter parses a Retry-After header value. It supports both the
// delay-seconds format and the HTTP-date format, capping the result at one
// hour. Missing, malformed or non-positive values yield zero.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
