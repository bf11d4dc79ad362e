package rest

import (
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

// Policy is the retry policy applied uniformly to every request a Client
// makes: a bounded attempt count with exponential backoff and jitter, plus
// the set of HTTP statuses considered transient. One Policy value per client
// replaces per-call-site retry loops.
type Policy struct {
	MaxRetries     int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	JitterFraction float64

	// RetryStatuses are the HTTP status codes retried up to MaxRetries.
	// Network-level errors are always retryable.
	RetryStatuses map[int]bool
}

// DefaultPolicy returns the platform-wide retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     5,
		BaseBackoff:    1 * time.Second,
		MaxBackoff:     60 * time.Second,
		BackoffFactor:  2.0,
		JitterFraction: 0.25,
		RetryStatuses: map[int]bool{
			http.StatusRequestTimeout:      true,
			http.StatusTooManyRequests:     true,
			http.StatusInternalServerError: true,
			http.StatusBadGateway:          true,
			http.StatusServiceUnavailable:  true,
			http.StatusGatewayTimeout:      true,
		},
	}
}

// NoRetryPolicy disables retries entirely. Single-shot callers such as the
// identity provider exchange use their own error handling.
func NoRetryPolicy() Policy {
	p := DefaultPolicy()
	p.MaxRetries = 0

	return p
}

// retryable reports whether the status code is transient under this policy.
func (p Policy) retryable(code int) bool {
	return p.RetryStatuses[code]
}

// backoff computes the exponential backoff with jitter for the given attempt.
func (p Policy) backoff(attempt int) time.Duration {
	d := float64(p.BaseBackoff) * math.Pow(p.BackoffFactor, float64(attempt))
	if d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}

	jitter := d * p.JitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	d += jitter

	return time.Duration(d)
}
