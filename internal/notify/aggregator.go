// Package notify is the consumer-facing surface of notifysync. It composes the
// registration manager and the feed synchronizer into one subscribable state
// and passes preference reads and writes straight through to the backend.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/notifysync/notifysync/internal/feed"
	"github.com/notifysync/notifysync/internal/notification"
	"github.com/notifysync/notifysync/internal/provider/resilience"
	"github.com/notifysync/notifysync/internal/registration"
	"github.com/notifysync/notifysync/internal/store"
	"github.com/notifysync/notifysync/internal/transport"
	"github.com/notifysync/notifysync/internal/watch"
)

// Backend is everything the aggregator needs from the notification backend.
// *transport.Client implements it.
type Backend interface {
	registration.Backend
	feed.Backend
	GetPreferences(ctx context.Context) (*notification.Preferences, error)
	UpdatePreferences(ctx context.Context, prefs notification.Preferences) (*notification.Preferences, error)
}

var _ Backend = (*transport.Client)(nil)

// Snapshot is the combined state seen by consumers.
type Snapshot struct {
	Registration registration.State
	Feed         feed.State
}

// Config holds configuration for the aggregator.
type Config struct {
	Backend   Backend
	Store     store.Store
	Messaging registration.Messaging
	Build     registration.BuildInfo

	PageSize          int
	PollInterval      time.Duration
	AutoRegisterDelay time.Duration

	// SyncBadge keeps the OS badge equal to the feed's unread count.
	SyncBadge bool

	// Health is the registry the transport client reports to (optional).
	Health *resilience.Registry

	Logger zerolog.Logger
}

// Aggregator is the public facade.
type Aggregator struct {
	registration *registration.Manager
	feed         *feed.Synchronizer
	backend      Backend
	health       *resilience.Registry
	syncBadge    bool
	logger       zerolog.Logger

	watchers watch.Value[Snapshot]

	mu      sync.Mutex
	started bool
	stopped bool
	detach  []func()
	badge   int
	// current is built only from delivered component states, so each half
	// moves forward in the order its component changed.
	current Snapshot
}

// New creates an aggregator. Call Start to restore registration and load the feed.
func New(cfg Config) *Aggregator {
	a := &Aggregator{
		registration: registration.NewManager(registration.Config{
			Store:             cfg.Store,
			Backend:           cfg.Backend,
			Messaging:         cfg.Messaging,
			Build:             cfg.Build,
			AutoRegisterDelay: cfg.AutoRegisterDelay,
			Logger:            cfg.Logger.With().Str("component", "registration").Logger(),
		}),
		feed: feed.NewSynchronizer(feed.Config{
			Backend:      cfg.Backend,
			PageSize:     cfg.PageSize,
			PollInterval: cfg.PollInterval,
			Logger:       cfg.Logger.With().Str("component", "feed").Logger(),
		}),
		backend:   cfg.Backend,
		health:    cfg.Health,
		syncBadge: cfg.SyncBadge,
		logger:    cfg.Logger,
		badge:     -1,
	}
	a.current = Snapshot{
		Registration: a.registration.State(),
		Feed:         a.feed.Snapshot(),
	}

	a.detach = append(a.detach,
		a.registration.Subscribe(func(s registration.State) {
			a.publish(func(snap *Snapshot) { snap.Registration = s })
		}),
		a.feed.Subscribe(func(s feed.State) {
			a.followBadge(s.UnreadCount)
			a.publish(func(snap *Snapshot) { snap.Feed = s })
		}),
	)

	return a
}

// Start restores the registration, performs the initial feed fetch and starts
// the unread-count poll. A failed initial fetch is not fatal: it is reported in
// the feed's LastError and the poll still starts.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started || a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()

	if err := a.registration.Start(ctx); err != nil {
		return err
	}

	if err := a.feed.Refresh(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("initial feed fetch failed")
	}

	a.feed.Start(ctx)
	return nil
}

// Stop ends the poll, cancels pending automatic registration and detaches all
// listeners.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	detach := a.detach
	a.detach = nil
	a.watchers.Reset()
	a.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	a.feed.Stop()
	a.registration.Stop()
}

// Snapshot returns the current combined state.
func (a *Aggregator) Snapshot() Snapshot {
	return Snapshot{
		Registration: a.registration.State(),
		Feed:         a.feed.Snapshot(),
	}
}

// Subscribe registers fn to receive changes of either component in the order
// they happened. The returned function removes the listener.
func (a *Aggregator) Subscribe(fn func(Snapshot)) func() {
	return a.watchers.Subscribe(fn)
}

// RequestPermissions asks the OS for push permission.
func (a *Aggregator) RequestPermissions(ctx context.Context) (bool, error) {
	return a.registration.RequestPermissions(ctx)
}

// Register registers the device for pushes.
func (a *Aggregator) Register(ctx context.Context) (*notification.Registration, error) {
	return a.registration.Register(ctx)
}

// Unregister stops pushes to this device.
func (a *Aggregator) Unregister(ctx context.Context) error {
	return a.registration.Unregister(ctx)
}

// SetBadgeCount sets the OS badge.
func (a *Aggregator) SetBadgeCount(ctx context.Context, count int) error {
	return a.registration.SetBadgeCount(ctx, count)
}

// ClearBadge clears the OS badge.
func (a *Aggregator) ClearBadge(ctx context.Context) error {
	return a.registration.ClearBadge(ctx)
}

// ScheduleLocalNotification schedules a notification on the device.
func (a *Aggregator) ScheduleLocalNotification(ctx context.Context, n notification.LocalNotification) (string, error) {
	return a.registration.ScheduleLocal(ctx, n)
}

// CancelLocalNotification cancels a scheduled local notification.
func (a *Aggregator) CancelLocalNotification(ctx context.Context, id string) error {
	return a.registration.CancelLocal(ctx, id)
}

// Refresh reloads the first page of the feed.
func (a *Aggregator) Refresh(ctx context.Context) error {
	return a.feed.Refresh(ctx)
}

// LoadMore appends the next page of the feed.
func (a *Aggregator) LoadMore(ctx context.Context) error {
	return a.feed.LoadMore(ctx)
}

// MarkAsRead marks one notification read.
func (a *Aggregator) MarkAsRead(ctx context.Context, id string) error {
	return a.feed.MarkAsRead(ctx, id)
}

// MarkAllAsRead marks all notifications, or those in category, read.
func (a *Aggregator) MarkAllAsRead(ctx context.Context, category *notification.Category) (int, error) {
	return a.feed.MarkAllAsRead(ctx, category)
}

// DeleteNotification deletes one notification.
func (a *Aggregator) DeleteNotification(ctx context.Context, id string) error {
	return a.feed.DeleteNotification(ctx, id)
}

// ClearAll deletes all notifications, or those in category.
func (a *Aggregator) ClearAll(ctx context.Context, category *notification.Category) (int, error) {
	return a.feed.ClearAll(ctx, category)
}

// FilterByCategory restricts the feed to category, or lifts the restriction when nil.
func (a *Aggregator) FilterByCategory(ctx context.Context, category *notification.Category) error {
	return a.feed.FilterByCategory(ctx, category)
}

// FilterUnreadOnly restricts the feed to unread notifications.
func (a *Aggregator) FilterUnreadOnly(ctx context.Context, unreadOnly bool) error {
	return a.feed.FilterUnreadOnly(ctx, unreadOnly)
}

// GetPreferences reads preferences from the backend. They are never cached.
func (a *Aggregator) GetPreferences(ctx context.Context) (*notification.Preferences, error) {
	return a.backend.GetPreferences(ctx)
}

// UpdatePreferences writes preferences to the backend.
func (a *Aggregator) UpdatePreferences(ctx context.Context, prefs notification.Preferences) (*notification.Preferences, error) {
	return a.backend.UpdatePreferences(ctx, prefs)
}

// TransportHealth returns the health of the backend client, or nil when no
// health registry is configured.
func (a *Aggregator) TransportHealth() *resilience.Health {
	if a.health == nil {
		return nil
	}
	return a.health.Health(transport.ClientName)
}

func (a *Aggregator) followBadge(unread int) {
	if !a.syncBadge {
		return
	}

	a.mu.Lock()
	if a.stopped || a.badge == unread {
		a.mu.Unlock()
		return
	}
	a.badge = unread
	a.mu.Unlock()

	if err := a.registration.SetBadgeCount(context.Background(), unread); err != nil {
		a.logger.Debug().Err(err).Msg("badge sync failed")
	}
}

func (a *Aggregator) publish(apply func(*Snapshot)) {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	apply(&a.current)
	a.watchers.Stage(a.current)
	a.mu.Unlock()

	a.watchers.Flush()
}
