package feed

import (
	"time"

	"github.com/notifysync/notifysync/internal/notification"
)

// State is the feed as seen by consumers.
type State struct {
	// Items are in server order, newest first.
	Items []notification.Record

	// UnreadCount comes from the backend, never from counting Items.
	UnreadCount int
	TotalCount  int

	// Cursor is the offset of the next page.
	Cursor  int
	HasMore bool

	CategoryFilter *notification.Category
	UnreadOnly     bool

	Refreshing  bool
	LoadingMore bool

	// LastError is the most recent failed fetch, cleared by the next successful one.
	LastError    error
	LastSyncedAt time.Time
}

// Item returns the loaded record with id.
func (s State) Item(id string) (notification.Record, bool) {
	for _, item := range s.Items {
		if item.ID == id {
			return item, true
		}
	}
	return notification.Record{}, false
}

func (s State) clone() State {
	c := s
	c.Items = append([]notification.Record(nil), s.Items...)
	if c.Items == nil {
		c.Items = []notification.Record{}
	}
	if s.CategoryFilter != nil {
		category := *s.CategoryFilter
		c.CategoryFilter = &category
	}
	return c
}
