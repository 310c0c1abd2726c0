// Package store provides the local durable key/value store that keeps the device
// registration across process restarts.
package store

import (
	"context"
	"errors"
)

// Keys used for the persisted device registration. They are namespaced so they
// never collide with unrelated application storage.
const (
	KeyEndpointID  = "@notifysync/push_endpoint_id"
	KeyDeviceToken = "@notifysync/push_device_token"
	KeyEnabled     = "@notifysync/push_enabled"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Store defines the interface for the persistence store.
// Every operation is best-effort durable and may fail.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes a single value.
	Set(ctx context.Context, key, value string) error

	// SetMany writes all pairs atomically: either every pair is stored or none is.
	SetMany(ctx context.Context, values map[string]string) error

	// Remove deletes the given keys. Missing keys are ignored.
	Remove(ctx context.Context, keys ...string) error
}
