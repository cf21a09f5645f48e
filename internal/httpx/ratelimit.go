package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dunglas/httpsfv"
)

// ServerDelay extracts the delay the upstream asks clients to wait before
// retrying. Checks Retry-After (RFC 9110) first, then the RateLimit
// structured field (draft-ietf-httpapi-ratelimit-headers Dictionary,
// e.g. RateLimit: limit=300, remaining=0, reset=17).
// Returns 0 when neither header advises a delay.
func ServerDelay(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	if d := parseRetryAfter(h.Get("Retry-After")); d > 0 {
		return d
	}
	return parseRateLimitReset(h.Values("RateLimit"))
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// parseRateLimitReset extracts the reset member from the RateLimit dictionary.
// Malformed headers are ignored rather than failing the retry path.
func parseRateLimitReset(values []string) time.Duration {
	if len(values) == 0 {
		return 0
	}

	dict, err := httpsfv.UnmarshalDictionary(values)
	if err != nil {
		return 0
	}

	member, ok := dict.Get("reset")
	if !ok {
		return 0
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return 0
	}
	reset, ok := item.Value.(int64)
	if !ok || reset <= 0 {
		return 0
	}

	return time.Duration(reset) * time.Second
}
