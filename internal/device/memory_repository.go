package device

import (
	"context"
	"sort"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// The reference server uses it when no database is configured.
type InMemoryRepository struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint // keyed by endpoint ID
	tokens    map[string]string    // token -> endpoint ID mapping
}

// NewInMemoryRepository creates a new in-memory endpoint repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		endpoints: make(map[string]*Endpoint),
		tokens:    make(map[string]string),
	}
}

// Get retrieves an endpoint by user ID and endpoint ID.
func (r *InMemoryRepository) Get(_ context.Context, userID, endpointID string) (*Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoint, ok := r.endpoints[endpointID]
	if !ok || endpoint.UserID != userID {
		return nil, ErrEndpointNotFound
	}

	return copyEndpoint(endpoint), nil
}

// GetByToken retrieves an endpoint by token.
func (r *InMemoryRepository) GetByToken(_ context.Context, token string) (*Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpointID, ok := r.tokens[token]
	if !ok {
		return nil, ErrEndpointNotFound
	}

	return copyEndpoint(r.endpoints[endpointID]), nil
}

// ListByUser retrieves all endpoints for a user.
func (r *InMemoryRepository) ListByUser(_ context.Context, userID string) ([]*Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []*Endpoint
	for _, endpoint := range r.endpoints {
		if endpoint.UserID == userID {
			items = append(items, copyEndpoint(endpoint))
		}
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	return items, nil
}

// Upsert creates or updates an endpoint based on the token.
func (r *InMemoryRepository) Upsert(_ context.Context, endpoint *Endpoint) (*Endpoint, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.tokens[endpoint.Token]; ok {
		existing := r.endpoints[existingID]
		// A token moves to whichever user registered it last.
		existing.UserID = endpoint.UserID
		existing.Platform = endpoint.Platform
		existing.DeviceName = endpoint.DeviceName
		existing.AppVersion = endpoint.AppVersion
		existing.UpdatedAt = endpoint.UpdatedAt
		return copyEndpoint(existing), false, nil
	}

	stored := copyEndpoint(endpoint)
	r.endpoints[stored.ID] = stored
	r.tokens[stored.Token] = stored.ID
	return copyEndpoint(stored), true, nil
}

// Delete deletes an endpoint.
func (r *InMemoryRepository) Delete(_ context.Context, userID, endpointID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	endpoint, ok := r.endpoints[endpointID]
	if !ok || endpoint.UserID != userID {
		return ErrEndpointNotFound
	}

	delete(r.tokens, endpoint.Token)
	delete(r.endpoints, endpointID)
	return nil
}

// DeleteByUser deletes all endpoints for a user.
func (r *InMemoryRepository) DeleteByUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, endpoint := range r.endpoints {
		if endpoint.UserID == userID {
			delete(r.tokens, endpoint.Token)
			delete(r.endpoints, id)
		}
	}
	return nil
}

// copyEndpoint creates a deep copy of an endpoint.
func copyEndpoint(e *Endpoint) *Endpoint {
	if e == nil {
		return nil
	}

	cpy := *e
	if e.DeviceName != nil {
		val := *e.DeviceName
		cpy.DeviceName = &val
	}
	if e.AppVersion != nil {
		val := *e.AppVersion
		cpy.AppVersion = &val
	}

	return &cpy
}

var _ Repository = (*InMemoryRepository)(nil)
