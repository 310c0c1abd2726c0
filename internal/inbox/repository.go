package inbox

import (
	"context"

	"github.com/notifysync/notifysync/internal/notification"
)

// Repository defines the interface for notification persistence. Records are
// kept newest first per user.
type Repository interface {
	Add(ctx context.Context, userID string, record notification.Record) error
	List(ctx context.Context, userID string, opts ListOptions) (*ListResult, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string, category *notification.Category) (int, error)
	Delete(ctx context.Context, userID, id string) error
	DeleteAll(ctx context.Context, userID string, category *notification.Category) (int, error)
	GetPreferences(ctx context.Context, userID string) (*notification.Preferences, error)
	SavePreferences(ctx context.Context, userID string, prefs notification.Preferences) error
}
