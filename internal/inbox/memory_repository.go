package inbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifysync/notifysync/internal/notification"
)

// InMemoryRepository is an in-memory implementation of Repository.
type InMemoryRepository struct {
	mu          sync.RWMutex
	records     map[string][]notification.Record // user ID -> records, newest first
	preferences map[string]notification.Preferences
	now         func() time.Time
}

// NewInMemoryRepository creates a new in-memory inbox repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records:     make(map[string][]notification.Record),
		preferences: make(map[string]notification.Preferences),
		now:         time.Now,
	}
}

// Add inserts record keeping the user's list ordered newest first.
func (r *InMemoryRepository) Add(_ context.Context, userID string, record notification.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := append(r.records[userID], record)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	r.records[userID] = list
	return nil
}

// List returns the page selected by opts. Expired and dismissed records are
// never returned.
func (r *InMemoryRepository) List(_ context.Context, userID string, opts ListOptions) (*ListResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	var matching []notification.Record
	unread := 0
	for _, rec := range r.records[userID] {
		if !visible(rec, now) {
			continue
		}
		if !rec.Read {
			unread++
		}
		if opts.Category != nil && rec.Category != *opts.Category {
			continue
		}
		if opts.UnreadOnly && rec.Read {
			continue
		}
		matching = append(matching, rec)
	}

	result := &ListResult{
		Items:  []notification.Record{},
		Total:  len(matching),
		Unread: unread,
	}
	if opts.Offset < len(matching) {
		end := opts.Offset + opts.Limit
		if end > len(matching) {
			end = len(matching)
		}
		result.Items = append(result.Items, matching[opts.Offset:end]...)
	}

	return result, nil
}

// UnreadCount returns the number of visible unread records.
func (r *InMemoryRepository) UnreadCount(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	count := 0
	for _, rec := range r.records[userID] {
		if visible(rec, now) && !rec.Read {
			count++
		}
	}
	return count, nil
}

// MarkRead marks one record read. Marking a read record again is not an error.
func (r *InMemoryRepository) MarkRead(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.records[userID]
	for i := range list {
		if list[i].ID == id {
			list[i].Read = true
			return nil
		}
	}
	return ErrNotificationNotFound
}

// MarkAllRead marks every unread record, or those in category, read and
// returns how many changed.
func (r *InMemoryRepository) MarkAllRead(_ context.Context, userID string, category *notification.Category) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	list := r.records[userID]
	count := 0
	for i := range list {
		if list[i].Read || !visible(list[i], now) {
			continue
		}
		if category != nil && list[i].Category != *category {
			continue
		}
		list[i].Read = true
		count++
	}
	return count, nil
}

// Delete removes one record.
func (r *InMemoryRepository) Delete(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.records[userID]
	for i := range list {
		if list[i].ID == id {
			r.records[userID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotificationNotFound
}

// DeleteAll removes every record, or those in category, and returns how many
// visible records were removed.
func (r *InMemoryRepository) DeleteAll(_ context.Context, userID string, category *notification.Category) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var kept []notification.Record
	count := 0
	for _, rec := range r.records[userID] {
		if category != nil && rec.Category != *category {
			kept = append(kept, rec)
			continue
		}
		if visible(rec, now) {
			count++
		}
	}
	r.records[userID] = kept
	return count, nil
}

// GetPreferences returns the saved preferences or DefaultPreferences.
func (r *InMemoryRepository) GetPreferences(_ context.Context, userID string) (*notification.Preferences, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefs, ok := r.preferences[userID]
	if !ok {
		prefs = DefaultPreferences()
	}
	return copyPreferences(prefs), nil
}

// SavePreferences replaces the user's preferences.
func (r *InMemoryRepository) SavePreferences(_ context.Context, userID string, prefs notification.Preferences) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.preferences[userID] = *copyPreferences(prefs)
	return nil
}

func visible(rec notification.Record, now time.Time) bool {
	return !rec.Dismissed && !rec.Expired(now)
}

func copyPreferences(p notification.Preferences) *notification.Preferences {
	cpy := p
	cpy.Categories = make(map[notification.Category]bool, len(p.Categories))
	for k, v := range p.Categories {
		cpy.Categories[k] = v
	}
	if p.QuietHoursStart != nil {
		v := *p.QuietHoursStart
		cpy.QuietHoursStart = &v
	}
	if p.QuietHoursEnd != nil {
		v := *p.QuietHoursEnd
		cpy.QuietHoursEnd = &v
	}
	return &cpy
}

var _ Repository = (*InMemoryRepository)(nil)
