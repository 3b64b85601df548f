// Package headers provides parsing of provider response headers for
// rate-limit information.
package headers

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimit carries the rate-limit state a provider reported on one
// response.
type RateLimit struct {
	// RetryAfter is how long the provider asked us to back off. Zero
	// when the header was absent or unparseable.
	RetryAfter time.Duration
	// Remaining is the number of requests left in the current window,
	// -1 when unknown.
	Remaining int
	// Limit is the window size, -1 when unknown.
	Limit int
}

// ParseRateLimit extracts rate-limit information from response headers.
// Retry-After is accepted in both delta-seconds and HTTP-date form.
func ParseRateLimit(h http.Header) RateLimit {
	rl := RateLimit{Remaining: -1, Limit: -1}

	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			rl.RetryAfter = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(v); err == nil {
			if d := time.Until(at); d > 0 {
				rl.RetryAfter = d
			}
		}
	}

	if n, ok := parseIntHeader(h, "X-RateLimit-Remaining", "X-Rate-Limit-Remaining"); ok {
		rl.Remaining = n
	}
	if n, ok := parseIntHeader(h, "X-RateLimit-Limit", "X-Rate-Limit-Limit"); ok {
		rl.Limit = n
	}

	return rl
}

// RetryAfterOr returns the reported backoff, or fallback when the
// provider did not say.
func (r RateLimit) RetryAfterOr(fallback time.Duration) time.Duration {
	if r.RetryAfter > 0 {
		return r.RetryAfter
	}
	return fallback
}

func parseIntHeader(h http.Header, names ...string) (int, bool) {
	for _, name := range names {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n, true
		}
	}
	return 0, false
}
