// Package feed keeps a locally held, paginated list of in-app notifications
// consistent with the backend while the user reads, deletes and filters them.
//
// Mutations are optimistic and never rolled back: the local list converges on
// server truth at the next Refresh or unread-count poll. The synchronizer's
// mutex is never held across a backend call.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/notifysync/notifysync/internal/notification"
	"github.com/notifysync/notifysync/internal/transport"
	"github.com/notifysync/notifysync/internal/watch"
)

const (
	DefaultPageSize     = 20
	DefaultPollInterval = 30 * time.Second

	instrumentationName = "github.com/notifysync/notifysync/internal/feed"
)

// Backend is the subset of the transport client the synchronizer needs.
type Backend interface {
	ListNotifications(ctx context.Context, q transport.ListQuery) (*transport.Page, error)
	GetUnreadCount(ctx context.Context) (int, error)
	MarkAsRead(ctx context.Context, id string) error
	MarkAllAsRead(ctx context.Context, category *notification.Category) (int, error)
	DeleteNotification(ctx context.Context, id string) error
	DeleteAll(ctx context.Context, category *notification.Category) (int, error)
}

// Config holds configuration for the synchronizer.
type Config struct {
	Backend Backend

	// PageSize is the number of records per page. Default: 20
	PageSize int

	// PollInterval is the unread-count poll period. Default: 30 seconds
	PollInterval time.Duration

	Logger zerolog.Logger

	// Now overrides the clock (optional).
	Now func() time.Time
}

// Synchronizer owns the feed state.
type Synchronizer struct {
	backend      Backend
	pageSize     int
	pollInterval time.Duration
	logger       zerolog.Logger
	now          func() time.Time

	operations  metric.Int64Counter
	pollSkipped metric.Int64Counter

	mu    sync.Mutex
	state State
	alive bool

	// generation changes with every filter change; responses issued under an
	// older generation are discarded.
	generation uint64
	// epoch changes with every refresh start and filter change; a page loaded
	// under an older epoch is not appended.
	epoch          uint64
	refreshing     int
	pendingRefresh bool
	polling        bool
	pollCancel     context.CancelFunc

	watchers watch.Value[State]
}

// NewSynchronizer creates a feed synchronizer with an empty feed.
func NewSynchronizer(cfg Config) *Synchronizer {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	meter := otel.Meter(instrumentationName)
	operations, err := meter.Int64Counter("feed.sync.operations",
		metric.WithDescription("Feed synchronization operations by op and outcome"))
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("feed metrics disabled")
		operations = noop.Int64Counter{}
	}
	pollSkipped, err := meter.Int64Counter("feed.poll.skipped",
		metric.WithDescription("Unread-count polls skipped because a fetch was in flight"))
	if err != nil {
		pollSkipped = noop.Int64Counter{}
	}

	return &Synchronizer{
		backend:      cfg.Backend,
		pageSize:     pageSize,
		pollInterval: pollInterval,
		logger:       cfg.Logger,
		now:          now,
		operations:   operations,
		pollSkipped:  pollSkipped,
		state: State{
			Items:   []notification.Record{},
			HasMore: true,
		},
		alive: true,
	}
}

// Snapshot returns a copy of the current state.
func (s *Synchronizer) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn to receive state changes in the order they happened.
// Under concurrent mutations intermediate states may be skipped, but the last
// state fn receives is the current one. The returned function removes the
// listener.
func (s *Synchronizer) Subscribe(fn func(State)) func() {
	return s.watchers.Subscribe(fn)
}

// Refresh fetches the first page under the current filters and replaces the
// loaded items. Overlapping refreshes all run and the last one to complete
// wins; a response issued before a filter change is discarded. On failure the
// loaded items stay as they are.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return nil
	}
	generation := s.generation
	s.epoch++
	s.refreshing++
	s.state.Refreshing = true
	q := s.queryLocked(0)
	notify := s.publishLocked()
	s.mu.Unlock()
	notify()

	page, err := s.backend.ListNotifications(ctx, q)

	s.mu.Lock()
	s.refreshing--
	s.state.Refreshing = s.refreshing > 0
	if !s.alive {
		s.mu.Unlock()
		return nil
	}

	switch {
	case generation != s.generation:
		s.logger.Debug().Msg("discarding refresh issued under previous filters")
	case err != nil:
		s.state.LastError = err
	default:
		s.state.Items = append([]notification.Record(nil), page.Notifications...)
		s.state.Cursor = len(page.Notifications)
		s.state.HasMore = s.fullPageLocked(page)
		s.state.UnreadCount = nonNegative(page.UnreadCount)
		s.state.TotalCount = page.TotalCount
		s.state.LastError = nil
		s.state.LastSyncedAt = s.now()
		s.pendingRefresh = false
	}
	notify = s.publishLocked()
	s.mu.Unlock()
	notify()

	s.record(ctx, "refresh", err)
	return err
}

// LoadMore fetches the page at the cursor and appends it. It is a no-op when
// there are no more pages or a fetch is already in flight. After a filter
// change that has not been fetched yet it refreshes instead.
func (s *Synchronizer) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if !s.alive || s.refreshing > 0 || s.state.LoadingMore {
		s.mu.Unlock()
		return nil
	}
	if s.pendingRefresh {
		s.mu.Unlock()
		return s.Refresh(ctx)
	}
	if !s.state.HasMore {
		s.mu.Unlock()
		return nil
	}
	epoch := s.epoch
	s.state.LoadingMore = true
	q := s.queryLocked(s.state.Cursor)
	notify := s.publishLocked()
	s.mu.Unlock()
	notify()

	page, err := s.backend.ListNotifications(ctx, q)

	s.mu.Lock()
	s.state.LoadingMore = false
	if !s.alive {
		s.mu.Unlock()
		return nil
	}

	switch {
	case epoch != s.epoch:
		s.logger.Debug().Int("offset", q.Offset).Msg("discarding page loaded before a refresh or filter change")
		err = nil
	case err != nil:
		s.state.LastError = err
	default:
		s.appendLocked(page.Notifications)
		s.state.Cursor += len(page.Notifications)
		s.state.HasMore = s.fullPageLocked(page)
		s.state.UnreadCount = nonNegative(page.UnreadCount)
		s.state.TotalCount = page.TotalCount
		s.state.LastError = nil
		s.state.LastSyncedAt = s.now()
	}
	notify = s.publishLocked()
	s.mu.Unlock()
	notify()

	s.record(ctx, "load_more", err)
	return err
}

// MarkAsRead marks a notification read locally, then on the backend. The local
// change is not rolled back if the backend call fails.
func (s *Synchronizer) MarkAsRead(ctx context.Context, id string) error {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return nil
	}
	for i := range s.state.Items {
		if s.state.Items[i].ID != id {
			continue
		}
		if !s.state.Items[i].Read {
			s.state.Items[i].Read = true
			s.state.UnreadCount = nonNegative(s.state.UnreadCount - 1)
		}
		break
	}
	notify := s.publishLocked()
	s.mu.Unlock()
	notify()

	err := s.backend.MarkAsRead(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("notification_id", id).Msg("mark as read failed")
	}
	s.record(ctx, "mark_as_read", err)
	return err
}

// MarkAllAsRead marks every loaded notification, or those in category, read
// locally, then on the backend, and re-fetches the authoritative unread count.
// It returns the number of notifications the backend changed.
func (s *Synchronizer) MarkAllAsRead(ctx context.Context, category *notification.Category) (int, error) {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return 0, nil
	}
	flipped := 0
	for i := range s.state.Items {
		item := &s.state.Items[i]
		if item.Read || !matches(item, category) {
			continue
		}
		item.Read = true
		flipped++
	}
	if category == nil {
		s.state.UnreadCount = 0
	} else {
		s.state.UnreadCount = nonNegative(s.state.UnreadCount - flipped)
	}
	notify := s.publishLocked()
	s.mu.Unlock()
	notify()

	count, err := s.backend.MarkAllAsRead(ctx, category)
	s.record(ctx, "mark_all_as_read", err)
	if err != nil {
		s.logger.Warn().Err(err).Msg("mark all as read failed")
		return 0, err
	}

	s.syncUnreadCount(ctx)
	return count, nil
}

// DeleteNotification removes a notification locally, then on the backend.
func (s *Synchronizer) DeleteNotification(ctx context.Context, id string) error {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return nil
	}
	for i := range s.state.Items {
		if s.state.Items[i].ID != id {
			continue
		}
		if !s.state.Items[i].Read {
			s.state.UnreadCount = nonNegative(s.state.UnreadCount - 1)
		}
		s.state.Items = append(s.state.Items[:i:i], s.state.Items[i+1:]...)
		// The server list shrinks too, so the next page starts one earlier.
		s.state.Cursor = nonNegative(s.state.Cursor - 1)
		s.state.TotalCount = nonNegative(s.state.TotalCount - 1)
		break
	}
	notify := s.publishLocked()
	s.mu.Unlock()
	notify()

	err := s.backend.DeleteNotification(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("notification_id", id).Msg("delete notification failed")
	}
	s.record(ctx, "delete", err)
	return err
}

// ClearAll removes every loaded notification, or those in category, locally,
// then on the backend, and re-fetches the unread count. It returns the number
// of notifications the backend deleted.
func (s *Synchronizer) ClearAll(ctx context.Context, category *notification.Category) (int, error) {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return 0, nil
	}
	kept := s.state.Items[:0:0]
	removed, removedUnread := 0, 0
	for _, item := range s.state.Items {
		if matches(&item, category) {
			removed++
			if !item.Read {
				removedUnread++
			}
			continue
		}
		kept = append(kept, item)
	}
	s.state.Items = kept
	if category == nil {
		s.state.Cursor = 0
		s.state.HasMore = false
		s.state.TotalCount = 0
		s.state.UnreadCount = 0
	} else {
		s.state.Cursor = nonNegative(s.state.Cursor - removed)
		s.state.TotalCount = nonNegative(s.state.TotalCount - removed)
		s.state.UnreadCount = nonNegative(s.state.UnreadCount - removedUnread)
	}
	notify := s.publishLocked()
	s.mu.Unlock()
	notify()

	count, err := s.backend.DeleteAll(ctx, category)
	s.record(ctx, "clear_all", err)
	if err != nil {
		s.logger.Warn().Err(err).Msg("clear all failed")
		return 0, err
	}

	s.syncUnreadCount(ctx)
	return count, nil
}

// FilterByCategory restricts the feed to category, or lifts the restriction when
// category is nil, and refreshes. Setting the current filter again does nothing.
func (s *Synchronizer) FilterByCategory(ctx context.Context, category *notification.Category) error {
	s.mu.Lock()
	if !s.alive || sameCategory(s.state.CategoryFilter, category) {
		s.mu.Unlock()
		return nil
	}
	if category != nil {
		c := *category
		s.state.CategoryFilter = &c
	} else {
		s.state.CategoryFilter = nil
	}
	notify := s.filterChangedLocked()
	s.mu.Unlock()
	notify()

	return s.Refresh(ctx)
}

// FilterUnreadOnly restricts the feed to unread notifications and refreshes.
// Setting the current filter again does nothing.
func (s *Synchronizer) FilterUnreadOnly(ctx context.Context, unreadOnly bool) error {
	s.mu.Lock()
	if !s.alive || s.state.UnreadOnly == unreadOnly {
		s.mu.Unlock()
		return nil
	}
	s.state.UnreadOnly = unreadOnly
	notify := s.filterChangedLocked()
	s.mu.Unlock()
	notify()

	return s.Refresh(ctx)
}

// Start launches the background unread-count poll. It does not fetch the feed.
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.alive || s.pollCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.pollCancel = cancel

	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// In-flight requests outlive Stop; their results are discarded.
				s.Poll(context.WithoutCancel(ctx))
			}
		}
	}()

	s.logger.Debug().Dur("interval", s.pollInterval).Msg("unread count poll started")
}

// Poll runs one unread-count poll unless a fetch or another poll is in flight.
// It reports whether the poll ran.
func (s *Synchronizer) Poll(ctx context.Context) bool {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return false
	}
	if s.refreshing > 0 || s.state.LoadingMore || s.polling {
		s.mu.Unlock()
		s.pollSkipped.Add(ctx, 1)
		return false
	}
	s.polling = true
	s.mu.Unlock()

	count, err := s.backend.GetUnreadCount(ctx)

	s.mu.Lock()
	s.polling = false
	if !s.alive {
		s.mu.Unlock()
		return true
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Debug().Err(err).Msg("unread count poll failed")
		s.record(ctx, "poll", err)
		return true
	}
	s.state.UnreadCount = nonNegative(count)
	notify := s.publishLocked()
	s.mu.Unlock()
	notify()

	s.record(ctx, "poll", nil)
	return true
}

// Stop ends the poll and detaches all listeners. Responses that arrive later
// are discarded.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alive = false
	if s.pollCancel != nil {
		s.pollCancel()
		s.pollCancel = nil
	}
	s.watchers.Reset()
}

func (s *Synchronizer) syncUnreadCount(ctx context.Context) {
	count, err := s.backend.GetUnreadCount(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("unread count refetch failed")
		return
	}

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return
	}
	s.state.UnreadCount = nonNegative(count)
	notify := s.publishLocked()
	s.mu.Unlock()
	notify()
}

func (s *Synchronizer) filterChangedLocked() func() {
	s.generation++
	s.epoch++
	s.pendingRefresh = true
	s.state.Cursor = 0
	s.state.HasMore = true
	return s.publishLocked()
}

func (s *Synchronizer) queryLocked(offset int) transport.ListQuery {
	q := transport.ListQuery{
		UnreadOnly: s.state.UnreadOnly,
		Limit:      s.pageSize,
		Offset:     offset,
	}
	if s.state.CategoryFilter != nil {
		c := *s.state.CategoryFilter
		q.Category = &c
	}
	return q
}

// appendLocked appends records not already loaded. Pages can overlap when new
// notifications arrive between fetches.
func (s *Synchronizer) appendLocked(records []notification.Record) {
	loaded := make(map[string]struct{}, len(s.state.Items))
	for _, item := range s.state.Items {
		loaded[item.ID] = struct{}{}
	}
	for _, r := range records {
		if _, dup := loaded[r.ID]; dup {
			continue
		}
		s.state.Items = append(s.state.Items, r)
	}
}

// fullPageLocked reports whether page was as long as requested. A backend that
// caps the page size echoes the smaller limit, which then becomes the page
// size for later requests.
func (s *Synchronizer) fullPageLocked(page *transport.Page) bool {
	if page.Limit > 0 && page.Limit < s.pageSize {
		s.logger.Debug().Int("requested", s.pageSize).Int("limit", page.Limit).Msg("backend capped page size")
		s.pageSize = page.Limit
	}
	return len(page.Notifications) >= s.pageSize
}

// publishLocked stages the state for listeners. The returned function must be
// called after the mutex is released.
func (s *Synchronizer) publishLocked() func() {
	s.watchers.Stage(s.state.clone())
	return s.watchers.Flush
}

func (s *Synchronizer) record(ctx context.Context, op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(notification.KindOf(err))
	}
	s.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func matches(item *notification.Record, category *notification.Category) bool {
	return category == nil || item.Category == *category
}

func sameCategory(a, b *notification.Category) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
