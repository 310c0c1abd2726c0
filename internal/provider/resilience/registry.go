package resilience

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Health is a point-in-time view of one client.
type Health struct {
	Name   string
	State  gobreaker.State
	Counts gobreaker.Counts

	// LastSuccess and LastFailure are zero until the first such call.
	LastSuccess time.Time
	LastFailure time.Time
	LastError   string
}

// Healthy reports a closed breaker.
func (h *Health) Healthy() bool { return h.State == gobreaker.StateClosed }

// Probing reports a half-open breaker.
func (h *Health) Probing() bool { return h.State == gobreaker.StateHalfOpen }

// Down reports an open breaker.
func (h *Health) Down() bool { return h.State == gobreaker.StateOpen }

// Registry tracks clients by name along with their last call outcomes.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*tracked
}

type tracked struct {
	client      *Client
	lastSuccess time.Time
	lastFailure time.Time
	lastError   string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*tracked)}
}

// Register tracks c under its name, replacing any client of the same name.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Name()] = &tracked{client: c}
}

// Health returns the health of the named client, or nil when it is unknown.
func (r *Registry) Health(name string) *Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.clients[name]
	if !ok {
		return nil
	}
	return t.health(name)
}

// All returns the health of every client, sorted by name.
func (r *Registry) All() []*Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Health, 0, len(r.clients))
	for name, t := range r.clients {
		out = append(out, t.health(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// record notes the outcome of one Do call. A 5xx response counts as a failure
// even though Do hands it back without an error.
func (r *Registry) record(name string, resp *http.Response, err error) {
	if err == nil && resp != nil && resp.StatusCode >= http.StatusInternalServerError {
		err = &ServerError{StatusCode: resp.StatusCode}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.clients[name]
	if !ok {
		return
	}
	now := time.Now()
	if err != nil {
		t.lastFailure = now
		t.lastError = err.Error()
		return
	}
	t.lastSuccess = now
}

func (t *tracked) health(name string) *Health {
	return &Health{
		Name:        name,
		State:       t.client.State(),
		Counts:      t.client.Counts(),
		LastSuccess: t.lastSuccess,
		LastFailure: t.lastFailure,
		LastError:   t.lastError,
	}
}
