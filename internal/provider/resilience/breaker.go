// Package resilience provides the HTTP client underneath the notification backend
// transport: per-request timeouts, a circuit breaker that fails fast while the
// backend is down, and opt-in retry with exponential backoff.
package resilience

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// BreakerPolicy decides when a client stops calling its backend.
type BreakerPolicy struct {
	// MinRequests is the sample size below which the breaker never trips.
	MinRequests uint32
	// FailureRatio trips the breaker once failures reach this share of requests.
	FailureRatio float64
	// OpenFor is how long an open breaker rejects calls before probing.
	OpenFor time.Duration
	// Probes is the number of calls let through while half-open.
	Probes uint32

	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerPolicy trips after 5 requests with at least 60% failing. The
// unread-count poll keeps request volume steady, so a plain ratio suffices.
func DefaultBreakerPolicy() BreakerPolicy {
	return BreakerPolicy{
		MinRequests:  5,
		FailureRatio: 0.6,
		OpenFor:      30 * time.Second,
		Probes:       1,
	}
}

// Trips reports whether counts should open the breaker.
func (p BreakerPolicy) Trips(counts gobreaker.Counts) bool {
	if counts.Requests < p.MinRequests || counts.Requests == 0 {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= p.FailureRatio
}

func newBreaker[T any](name string, p BreakerPolicy) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          name,
		MaxRequests:   p.Probes,
		Timeout:       p.OpenFor,
		ReadyToTrip:   p.Trips,
		OnStateChange: p.OnStateChange,
	})
}

// RetryPolicy bounds retries of failed calls. The zero value never retries.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = 200 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 5 * time.Second
	}
	return p
}

func (p RetryPolicy) backOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.MaxElapsedTime = 0
	return backoff.WithMaxRetries(bo, p.MaxRetries)
}
