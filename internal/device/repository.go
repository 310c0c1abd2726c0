package device

import "context"

// Repository defines the interface for endpoint persistence.
type Repository interface {
	// Get retrieves an endpoint by user ID and endpoint ID.
	Get(ctx context.Context, userID, endpointID string) (*Endpoint, error)

	// GetByToken retrieves an endpoint by device token.
	GetByToken(ctx context.Context, token string) (*Endpoint, error)

	// ListByUser retrieves all endpoints for a user, newest first.
	ListByUser(ctx context.Context, userID string) ([]*Endpoint, error)

	// Upsert stores endpoint keyed by its token. When the token is already
	// registered the existing ID and CreatedAt are kept and returned.
	Upsert(ctx context.Context, endpoint *Endpoint) (stored *Endpoint, created bool, err error)

	// Delete deletes an endpoint.
	Delete(ctx context.Context, userID, endpointID string) error

	// DeleteByUser deletes all endpoints for a user.
	DeleteByUser(ctx context.Context, userID string) error
}
