// Package inbox is the server-side store of in-app notifications and
// per-user delivery preferences behind the reference notifications API.
package inbox

import (
	"errors"

	"github.com/notifysync/notifysync/internal/notification"
)

// Paging bounds for List.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Errors returned by the inbox.
var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidCategory      = errors.New("unknown notification category")
	ErrInvalidPaging        = errors.New("limit and offset must not be negative")
	ErrInvalidQuietHours    = errors.New("quiet hours must be HH:MM")
)

// ListOptions selects a page of notifications.
type ListOptions struct {
	Category   *notification.Category
	UnreadOnly bool
	Limit      int
	Offset     int
}

// ListResult is one page plus the counts the client needs.
type ListResult struct {
	Items []notification.Record
	// Total is the number of notifications matching the filters.
	Total int
	// Unread is the user's unread count across all categories.
	Unread int
}

// DefaultPreferences are returned for users who never saved any.
func DefaultPreferences() notification.Preferences {
	return notification.Preferences{
		PushEnabled:  true,
		EmailEnabled: false,
		Categories:   map[notification.Category]bool{},
	}
}
