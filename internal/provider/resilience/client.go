package resilience

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without calling the backend while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ServerError marks a 5xx response as a failure for the breaker and for retry.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// ClientConfig holds configuration for Client.
type ClientConfig struct {
	Name string

	// Timeout bounds each attempt, including reading the body. Default 15s.
	Timeout time.Duration

	// Retry is off by default: the feed and registration layers own retry.
	Retry RetryPolicy

	// Breaker falls back to DefaultBreakerPolicy when FailureRatio is zero.
	Breaker BreakerPolicy

	Transport http.RoundTripper

	// Registry, when set, tracks this client and the outcome of each call.
	Registry *Registry
}

// DefaultClientConfig returns defaults for the notification backend client.
func DefaultClientConfig(name string) ClientConfig {
	return ClientConfig{
		Name:    name,
		Timeout: 15 * time.Second,
		Breaker: DefaultBreakerPolicy(),
	}
}

// Client is an HTTP client guarded by a circuit breaker.
type Client struct {
	name     string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	retry    RetryPolicy
	registry *Registry
}

// NewClient creates a client and adds it to cfg.Registry.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Breaker.FailureRatio <= 0 {
		onChange := cfg.Breaker.OnStateChange
		cfg.Breaker = DefaultBreakerPolicy()
		cfg.Breaker.OnStateChange = onChange
	}

	c := &Client{
		name:     cfg.Name,
		http:     &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		breaker:  newBreaker[*http.Response](cfg.Name, cfg.Breaker),
		retry:    cfg.Retry.withDefaults(),
		registry: cfg.Registry,
	}
	if c.registry != nil {
		c.registry.Register(c)
	}
	return c
}

// Name returns the client name.
func (c *Client) Name() string { return c.name }

// State returns the breaker state.
func (c *Client) State() gobreaker.State { return c.breaker.State() }

// Counts returns the breaker's counts for the current generation.
func (c *Client) Counts() gobreaker.Counts { return c.breaker.Counts() }

// Do sends req under the breaker, bound to req's context. A 5xx response is
// returned as a response rather than an error, once retries are exhausted, so
// the caller can read the problem body. ErrCircuitOpen is never retried.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response

	attempt := func() error {
		discard(resp)
		resp = nil

		r, err := c.breaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // returned to caller
			return c.send(req)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		resp = r
		return err
	}

	err := backoff.Retry(attempt, backoff.WithContext(c.retry.backOff(), req.Context()))
	if c.registry != nil {
		c.registry.record(c.name, resp, err)
	}
	if resp != nil {
		return resp, nil
	}
	return nil, err
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		out.Body = body
	}

	resp, err := c.http.Do(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return resp, &ServerError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func discard(resp *http.Response) {
	if resp == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining for reuse
	resp.Body.Close()
}
