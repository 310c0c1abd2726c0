// Package registration manages the device push registration lifecycle: permission,
// token acquisition, idempotent register/unregister against the backend, and
// persistence of the acknowledged registration across restarts.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/notifysync/notifysync/internal/notification"
	"github.com/notifysync/notifysync/internal/store"
	"github.com/notifysync/notifysync/internal/transport"
	"github.com/notifysync/notifysync/internal/watch"
)

// DefaultAutoRegisterDelay is how long Start waits before the single automatic
// registration attempt.
const DefaultAutoRegisterDelay = 2 * time.Second

// ErrSuperseded is returned by a registration that completed after Unregister
// was called. The endpoint it created is removed again.
var ErrSuperseded = errors.New("registration superseded by unregister")

// Status is a registration state machine state.
type Status string

const (
	StatusUnknown       Status = "unknown"
	StatusRestoring     Status = "restoring"
	StatusRegistered    Status = "registered"
	StatusUnregistered  Status = "unregistered"
	StatusRegistering   Status = "registering"
	StatusFailed        Status = "failed"
	StatusUnregistering Status = "unregistering"
)

// State is the runtime registration state. It is never persisted.
type State struct {
	Status       Status
	Permission   Permission
	Registration *notification.Registration
	LastError    error
}

// IsRegistered reports whether the device is considered registered.
func (s State) IsRegistered() bool {
	return s.Status == StatusRegistered
}

// IsLoading reports whether a transition is in progress.
func (s State) IsLoading() bool {
	switch s.Status {
	case StatusRestoring, StatusRegistering, StatusUnregistering:
		return true
	default:
		return false
	}
}

// Backend is the subset of the transport client the manager needs.
type Backend interface {
	RegisterDevice(ctx context.Context, in transport.RegisterDeviceRequest) (string, error)
	UnregisterDevice(ctx context.Context, endpointID string) error
}

// BuildInfo describes the running application build.
type BuildInfo struct {
	// OS is "ios" or "android".
	OS string
	// Sandbox marks debug builds that receive pushes through the sandbox gateway.
	Sandbox    bool
	DeviceName string
	AppVersion string
}

// Platform derives the backend platform tag.
func (b BuildInfo) Platform() (notification.Platform, error) {
	switch strings.ToLower(b.OS) {
	case "ios":
		if b.Sandbox {
			return notification.PlatformIOSSandbox, nil
		}
		return notification.PlatformIOS, nil
	case "android":
		return notification.PlatformAndroid, nil
	default:
		return "", fmt.Errorf("unsupported operating system %q", b.OS)
	}
}

// Config holds configuration for the registration manager.
type Config struct {
	Store     store.Store
	Backend   Backend
	Messaging Messaging
	Build     BuildInfo

	// AutoRegisterDelay is the delay before the automatic registration attempt.
	// Zero uses DefaultAutoRegisterDelay; a negative value disables it.
	AutoRegisterDelay time.Duration

	Logger zerolog.Logger

	// Now overrides the clock (optional).
	Now func() time.Time
}

// Manager runs the device registration state machine.
type Manager struct {
	store     store.Store
	backend   Backend
	messaging Messaging
	build     BuildInfo
	delay     time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	inflight singleflight.Group
	watchers watch.Value[State]

	// persistMu orders writes of the registration keys against Unregister.
	persistMu sync.Mutex

	mu    sync.Mutex
	state State
	// epoch changes with every Unregister. A registration started under an
	// older epoch must not persist or publish its result.
	epoch        uint64
	started      bool
	stopped      bool
	autoTimer    *time.Timer
	stopRotation func()
}

// NewManager creates a registration manager. Call Start to restore persisted state.
func NewManager(cfg Config) *Manager {
	delay := cfg.AutoRegisterDelay
	if delay == 0 {
		delay = DefaultAutoRegisterDelay
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		store:     cfg.Store,
		backend:   cfg.Backend,
		messaging: cfg.Messaging,
		build:     cfg.Build,
		delay:     delay,
		logger:    cfg.Logger,
		now:       now,
		state: State{
			Status:     StatusUnknown,
			Permission: PermissionUndetermined,
		},
	}
}

// Start restores the persisted registration, subscribes to token rotation and
// schedules the automatic registration attempt when it applies.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.update(func(s *State) { s.Status = StatusRestoring })

	reg, restoreErr := m.restore(ctx)

	permission, err := m.messaging.PermissionStatus(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("reading push permission failed")
		permission = PermissionUndetermined
	}

	m.update(func(s *State) {
		s.Permission = permission
		s.Registration = reg
		s.LastError = restoreErr
		if reg != nil {
			s.Status = StatusRegistered
		} else {
			s.Status = StatusUnregistered
		}
	})

	if reg != nil {
		m.logger.Info().
			Str("endpoint_id", reg.RegistrationID).
			Msg("restored push registration")
	}

	cancel := m.messaging.OnTokenRefresh(m.handleTokenRefresh)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		cancel()
		return nil
	}
	m.stopRotation = cancel

	if reg == nil && permission == PermissionGranted && m.delay > 0 && m.messaging.IsPhysicalDevice() {
		m.logger.Debug().Dur("delay", m.delay).Msg("scheduling automatic push registration")
		m.autoTimer = time.AfterFunc(m.delay, m.autoRegister)
	}

	return nil
}

// Stop cancels the pending automatic registration and the token rotation
// listener. In-flight backend calls complete but no further listeners are notified.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.stopped = true

	if m.autoTimer != nil {
		m.autoTimer.Stop()
		m.autoTimer = nil
	}
	if m.stopRotation != nil {
		m.stopRotation()
		m.stopRotation = nil
	}
	m.watchers.Reset()
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers fn to receive state changes in the order they happened.
// The returned function removes the listener.
func (m *Manager) Subscribe(fn func(State)) func() {
	return m.watchers.Subscribe(fn)
}

// RequestPermissions asks the OS for push permission. A denial is not an error:
// it returns false and leaves the manager unregistered with a PermissionDenied
// last error.
func (m *Manager) RequestPermissions(ctx context.Context) (bool, error) {
	const op = "request_permissions"

	if !m.messaging.IsPhysicalDevice() {
		err := notification.NewError(notification.KindUnsupportedEnvironment, op, nil)
		m.markInactive(err)
		return false, err
	}

	permission, err := m.messaging.RequestPermission(ctx)
	if err != nil {
		return false, notification.NewError(notification.KindUnknown, op, err)
	}

	m.update(func(s *State) {
		s.Permission = permission
		if permission == PermissionGranted {
			if errors.Is(s.LastError, notification.ErrPermissionDenied) {
				s.LastError = nil
			}
			return
		}
		s.LastError = notification.NewError(notification.KindPermissionDenied, op, nil)
		if s.Status != StatusRegistered {
			s.Status = StatusUnregistered
		}
	})

	return permission == PermissionGranted, nil
}

// Register registers the device's current token with the backend. It never
// calls the backend on a simulator or without permission. Repeated calls with
// an unchanged token leave exactly one persisted registration.
func (m *Manager) Register(ctx context.Context) (*notification.Registration, error) {
	const op = "register"

	if !m.messaging.IsPhysicalDevice() {
		err := notification.NewError(notification.KindUnsupportedEnvironment, op, nil)
		m.markInactive(err)
		return nil, err
	}

	permission, err := m.messaging.PermissionStatus(ctx)
	if err != nil {
		return nil, notification.NewError(notification.KindUnknown, op, err)
	}
	if permission == PermissionUndetermined {
		if permission, err = m.messaging.RequestPermission(ctx); err != nil {
			return nil, notification.NewError(notification.KindUnknown, op, err)
		}
	}
	m.update(func(s *State) { s.Permission = permission })

	if permission != PermissionGranted {
		err := notification.NewError(notification.KindPermissionDenied, op, nil)
		m.markInactive(err)
		return nil, err
	}

	token, err := m.messaging.DeviceToken(ctx)
	if err != nil {
		err := notification.NewError(notification.KindUnknown, op, fmt.Errorf("acquiring device token: %w", err))
		m.update(func(s *State) {
			s.Status = StatusFailed
			s.LastError = err
		})
		return nil, err
	}

	return m.registerToken(ctx, token)
}

// RegisterWithToken registers a token supplied by the caller, for example one
// delivered by a token rotation event.
func (m *Manager) RegisterWithToken(ctx context.Context, token string) (*notification.Registration, error) {
	if token == "" {
		return nil, notification.NewError(notification.KindUnknown, "register", errors.New("empty device token"))
	}
	return m.registerToken(ctx, token)
}

// Unregister removes the registration. The backend call is best effort: local
// state is always cleared, and a backend failure is only recorded as LastError.
// A registration still in flight is cancelled: its endpoint is removed from the
// backend when it arrives and never persisted.
func (m *Manager) Unregister(ctx context.Context) error {
	const op = "unregister"

	m.persistMu.Lock()
	m.mu.Lock()
	m.epoch++
	if m.autoTimer != nil {
		m.autoTimer.Stop()
		m.autoTimer = nil
	}
	m.mu.Unlock()

	endpointID := ""
	if v, ok, err := m.store.Get(ctx, store.KeyEndpointID); err == nil && ok {
		endpointID = v
	}
	m.persistMu.Unlock()
	m.update(func(s *State) {
		s.Status = StatusUnregistering
		if endpointID == "" && s.Registration != nil {
			endpointID = s.Registration.RegistrationID
		}
	})

	var lastErr error
	if endpointID != "" {
		if err := m.backend.UnregisterDevice(ctx, endpointID); err != nil {
			m.logger.Warn().
				Err(err).
				Str("endpoint_id", endpointID).
				Msg("backend unregister failed, clearing local registration anyway")
			lastErr = err
		}
	}

	var storageErr error
	if err := m.store.Remove(ctx, store.KeyEndpointID, store.KeyDeviceToken, store.KeyEnabled); err != nil {
		storageErr = notification.NewError(notification.KindStorageFailure, op, err)
		lastErr = storageErr
	}

	m.update(func(s *State) {
		s.Status = StatusUnregistered
		s.Registration = nil
		s.LastError = lastErr
	})

	m.logger.Info().Str("endpoint_id", endpointID).Msg("push registration removed")

	return storageErr
}

// SetBadgeCount sets the application badge. Negative counts are clamped to 0.
func (m *Manager) SetBadgeCount(ctx context.Context, count int) error {
	if count < 0 {
		count = 0
	}
	if err := m.messaging.SetBadgeCount(ctx, count); err != nil {
		return notification.NewError(notification.KindUnknown, "set_badge_count", err)
	}
	return nil
}

// ClearBadge removes the application badge.
func (m *Manager) ClearBadge(ctx context.Context) error {
	return m.SetBadgeCount(ctx, 0)
}

// ScheduleLocal schedules a notification on the device and returns its id.
func (m *Manager) ScheduleLocal(ctx context.Context, n notification.LocalNotification) (string, error) {
	id, err := m.messaging.ScheduleLocal(ctx, n)
	if err != nil {
		return "", notification.NewError(notification.KindUnknown, "schedule_local", err)
	}
	return id, nil
}

// CancelLocal cancels a scheduled local notification.
func (m *Manager) CancelLocal(ctx context.Context, id string) error {
	if err := m.messaging.CancelLocal(ctx, id); err != nil {
		return notification.NewError(notification.KindUnknown, "cancel_local", err)
	}
	return nil
}

func (m *Manager) registerToken(ctx context.Context, token string) (*notification.Registration, error) {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	// Calls after an Unregister must not join a flight it cancelled.
	key := fmt.Sprintf("%d/%s", epoch, token)
	v, err, _ := m.inflight.Do(key, func() (any, error) {
		return m.doRegister(ctx, token, epoch)
	})
	reg, _ := v.(*notification.Registration)
	if reg != nil {
		cp := *reg
		reg = &cp
	}
	return reg, err
}

func (m *Manager) doRegister(ctx context.Context, token string, epoch uint64) (*notification.Registration, error) {
	const op = "register"

	platform, err := m.build.Platform()
	if err != nil {
		err := notification.NewError(notification.KindUnsupportedEnvironment, op, err)
		m.markInactive(err)
		return nil, err
	}

	m.updateIn(epoch, func(s *State) {
		s.Status = StatusRegistering
		s.LastError = nil
	})

	endpointID, err := m.backend.RegisterDevice(ctx, transport.RegisterDeviceRequest{
		DeviceToken: token,
		Platform:    platform,
		DeviceName:  m.build.DeviceName,
		AppVersion:  m.build.AppVersion,
	})
	if err != nil {
		m.logger.Error().Err(err).Str("platform", string(platform)).Msg("push registration failed")

		m.persistMu.Lock()
		if m.currentEpoch() == epoch {
			if rmErr := m.store.Remove(ctx, store.KeyEndpointID, store.KeyDeviceToken, store.KeyEnabled); rmErr != nil {
				m.logger.Warn().Err(rmErr).Msg("clearing stale registration failed")
			}
		}
		m.persistMu.Unlock()

		m.updateIn(epoch, func(s *State) {
			s.Status = StatusFailed
			s.Registration = nil
			s.LastError = err
		})
		return nil, err
	}

	reg := &notification.Registration{
		Platform:       platform,
		DeviceToken:    token,
		RegistrationID: endpointID,
		RegisteredAt:   m.now(),
	}

	var storageErr error
	m.persistMu.Lock()
	superseded := m.currentEpoch() != epoch
	if !superseded {
		if err := m.store.SetMany(ctx, map[string]string{
			store.KeyEndpointID:  endpointID,
			store.KeyDeviceToken: token,
			store.KeyEnabled:     "true",
		}); err != nil {
			m.logger.Warn().Err(err).Msg("persisting push registration failed, registered for this session only")
			storageErr = notification.NewError(notification.KindStorageFailure, op, err)
		}
	}
	m.persistMu.Unlock()

	if superseded {
		return nil, m.discardLate(ctx, endpointID)
	}

	if !m.updateIn(epoch, func(s *State) {
		s.Status = StatusRegistered
		s.Registration = reg
		s.LastError = storageErr
	}) {
		// Unregister started after the keys were written; it reads them back
		// and removes this endpoint itself.
		return nil, notification.NewError(notification.KindUnknown, op, ErrSuperseded)
	}

	m.logger.Info().
		Str("endpoint_id", endpointID).
		Str("platform", string(platform)).
		Msg("push registration succeeded")

	return reg, storageErr
}

// discardLate removes an endpoint the backend created after Unregister was
// called, so the device stops receiving pushes as the user asked.
func (m *Manager) discardLate(ctx context.Context, endpointID string) error {
	m.logger.Info().Str("endpoint_id", endpointID).Msg("registration completed after unregister, removing endpoint")

	if err := m.backend.UnregisterDevice(context.WithoutCancel(ctx), endpointID); err != nil {
		m.logger.Warn().
			Err(err).
			Str("endpoint_id", endpointID).
			Msg("removing late endpoint failed")
	}
	return notification.NewError(notification.KindUnknown, "register", ErrSuperseded)
}

func (m *Manager) restore(ctx context.Context) (*notification.Registration, error) {
	endpointID, ok, err := m.store.Get(ctx, store.KeyEndpointID)
	if err != nil {
		return nil, notification.NewError(notification.KindStorageFailure, "restore", err)
	}
	if !ok || endpointID == "" {
		return nil, nil
	}

	enabled, _, err := m.store.Get(ctx, store.KeyEnabled)
	if err != nil {
		return nil, notification.NewError(notification.KindStorageFailure, "restore", err)
	}
	if enabled != "true" {
		return nil, nil
	}

	token, _, err := m.store.Get(ctx, store.KeyDeviceToken)
	if err != nil {
		return nil, notification.NewError(notification.KindStorageFailure, "restore", err)
	}

	platform, _ := m.build.Platform()
	return &notification.Registration{
		Platform:       platform,
		DeviceToken:    token,
		RegistrationID: endpointID,
	}, nil
}

func (m *Manager) autoRegister() {
	m.mu.Lock()
	m.autoTimer = nil
	skip := m.stopped || m.state.Status == StatusRegistered || m.state.Status == StatusRegistering
	m.mu.Unlock()
	if skip {
		return
	}

	if _, err := m.Register(context.Background()); err != nil {
		m.logger.Warn().Err(err).Msg("automatic push registration failed")
	}
}

func (m *Manager) handleTokenRefresh(token string) {
	m.mu.Lock()
	current := ""
	if m.state.Registration != nil {
		current = m.state.Registration.DeviceToken
	}
	rotate := !m.stopped && m.state.Status == StatusRegistered && token != "" && token != current
	m.mu.Unlock()
	if !rotate {
		return
	}

	m.logger.Info().Msg("device token rotated, re-registering")
	if _, err := m.registerToken(context.Background(), token); err != nil {
		m.logger.Warn().Err(err).Msg("re-registration after token rotation failed")
	}
}

// markInactive records err and leaves the manager unregistered unless it is
// already registered.
func (m *Manager) markInactive(err error) {
	m.update(func(s *State) {
		s.LastError = err
		if s.Status != StatusRegistered {
			s.Status = StatusUnregistered
		}
	})
}

func (m *Manager) update(fn func(*State)) {
	m.mu.Lock()
	fn(&m.state)
	m.watchers.Stage(m.snapshotLocked())
	m.mu.Unlock()

	m.watchers.Flush()
}

// updateIn applies fn only if no Unregister happened since epoch, and reports
// whether it did.
func (m *Manager) updateIn(epoch uint64, fn func(*State)) bool {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return false
	}
	fn(&m.state)
	m.watchers.Stage(m.snapshotLocked())
	m.mu.Unlock()

	m.watchers.Flush()
	return true
}

func (m *Manager) currentEpoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

func (m *Manager) snapshotLocked() State {
	s := m.state
	if s.Registration != nil {
		reg := *s.Registration
		s.Registration = &reg
	}
	return s
}
