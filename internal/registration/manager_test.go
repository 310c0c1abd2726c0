package registration_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifysync/notifysync/internal/notification"
	"github.com/notifysync/notifysync/internal/registration"
	"github.com/notifysync/notifysync/internal/store"
	"github.com/notifysync/notifysync/internal/transport"
)

// mockBackend is a mock implementation of registration.Backend.
type mockBackend struct {
	mu            sync.Mutex
	endpointID    string
	registerErr   error
	unregisterErr error
	registered    []transport.RegisterDeviceRequest
	unregistered  []string

	// beforeRegister runs outside the lock, so a test can hold a call in flight.
	beforeRegister func()
}

func (m *mockBackend) RegisterDevice(_ context.Context, in transport.RegisterDeviceRequest) (string, error) {
	m.mu.Lock()
	hook := m.beforeRegister
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = append(m.registered, in)
	if m.registerErr != nil {
		return "", m.registerErr
	}
	return m.endpointID, nil
}

func (m *mockBackend) UnregisterDevice(_ context.Context, endpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unregistered = append(m.unregistered, endpointID)
	return m.unregisterErr
}

func (m *mockBackend) registerCalls() []transport.RegisterDeviceRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transport.RegisterDeviceRequest(nil), m.registered...)
}

func (m *mockBackend) unregisterCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unregistered...)
}

type fixture struct {
	store     *store.Memory
	backend   *mockBackend
	messaging *registration.StaticMessaging
	manager   *registration.Manager
}

func newFixture(t *testing.T, msgCfg registration.StaticMessagingConfig, mutate ...func(*registration.Config)) *fixture {
	t.Helper()

	f := &fixture{
		store:     store.NewMemory(),
		backend:   &mockBackend{endpointID: "ep-123"},
		messaging: registration.NewStaticMessaging(msgCfg),
	}

	cfg := registration.Config{
		Store:             f.store,
		Backend:           f.backend,
		Messaging:         f.messaging,
		Build:             registration.BuildInfo{OS: "ios", DeviceName: "Test iPhone", AppVersion: "1.4.0"},
		AutoRegisterDelay: -1,
		Logger:            zerolog.Nop(),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	f.manager = registration.NewManager(cfg)
	t.Cleanup(f.manager.Stop)
	return f
}

func grantedDevice(token string) registration.StaticMessagingConfig {
	return registration.StaticMessagingConfig{
		Token:      token,
		Physical:   true,
		Permission: registration.PermissionGranted,
	}
}

func storedValue(t *testing.T, s store.Store, key string) (string, bool) {
	t.Helper()
	v, ok, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}

func TestManager_FreshInstallPermissionGranted(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"))
	ctx := context.Background()

	require.NoError(t, f.manager.Start(ctx))
	assert.Equal(t, registration.StatusUnregistered, f.manager.State().Status)

	reg, err := f.manager.Register(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ep-123", reg.RegistrationID)
	assert.Equal(t, "tok-A", reg.DeviceToken)
	assert.Equal(t, notification.PlatformIOS, reg.Platform)

	endpointID, _ := storedValue(t, f.store, store.KeyEndpointID)
	token, _ := storedValue(t, f.store, store.KeyDeviceToken)
	enabled, _ := storedValue(t, f.store, store.KeyEnabled)
	assert.Equal(t, "ep-123", endpointID)
	assert.Equal(t, "tok-A", token)
	assert.Equal(t, "true", enabled)

	state := f.manager.State()
	assert.True(t, state.IsRegistered())
	assert.False(t, state.IsLoading())
	assert.NoError(t, state.LastError)

	calls := f.backend.registerCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Test iPhone", calls[0].DeviceName)
	assert.Equal(t, "1.4.0", calls[0].AppVersion)
}

func TestManager_PermissionDenied(t *testing.T) {
	f := newFixture(t, registration.StaticMessagingConfig{Token: "tok-A", Physical: true})
	ctx := context.Background()
	require.NoError(t, f.manager.Start(ctx))

	granted, err := f.manager.RequestPermissions(ctx)
	require.NoError(t, err)
	assert.False(t, granted)

	_, err = f.manager.Register(ctx)
	assert.ErrorIs(t, err, notification.ErrPermissionDenied)

	assert.Empty(t, f.backend.registerCalls())
	state := f.manager.State()
	assert.Equal(t, registration.StatusUnregistered, state.Status)
	assert.Equal(t, registration.PermissionDenied, state.Permission)
	assert.ErrorIs(t, state.LastError, notification.ErrPermissionDenied)
	assert.Equal(t, 0, f.store.Len())
}

func TestManager_RegisterAsksForUndeterminedPermission(t *testing.T) {
	f := newFixture(t, registration.StaticMessagingConfig{Token: "tok-A", Physical: true, GrantOnRequest: true})

	_, err := f.manager.Register(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.messaging.PermissionRequests())
	assert.Equal(t, registration.PermissionGranted, f.manager.State().Permission)
}

func TestManager_RegisterIsIdempotent(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"))
	ctx := context.Background()

	first, err := f.manager.Register(ctx)
	require.NoError(t, err)
	second, err := f.manager.Register(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.RegistrationID, second.RegistrationID)
	assert.Equal(t, 3, f.store.Len(), "exactly one persisted registration")
	endpointID, _ := storedValue(t, f.store, store.KeyEndpointID)
	assert.Equal(t, "ep-123", endpointID)
}

func TestManager_UnregisterClearsLocalStateOnNetworkFailure(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"))
	ctx := context.Background()

	_, err := f.manager.Register(ctx)
	require.NoError(t, err)

	f.backend.unregisterErr = notification.NewError(notification.KindNetworkFailure, "unregister_device", assert.AnError)

	require.NoError(t, f.manager.Unregister(ctx))

	assert.Equal(t, []string{"ep-123"}, f.backend.unregisterCalls())
	assert.Equal(t, 0, f.store.Len())

	state := f.manager.State()
	assert.Equal(t, registration.StatusUnregistered, state.Status)
	assert.Nil(t, state.Registration)
	assert.ErrorIs(t, state.LastError, notification.ErrNetworkFailure)
}

func TestManager_UnregisterDuringRegisterStaysUnregistered(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"))
	ctx := context.Background()
	require.NoError(t, f.manager.Start(ctx))

	started := make(chan struct{})
	release := make(chan struct{})
	f.backend.mu.Lock()
	f.backend.beforeRegister = func() {
		close(started)
		<-release
	}
	f.backend.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Register(ctx)
		done <- err
	}()
	<-started

	require.NoError(t, f.manager.Unregister(ctx))
	assert.Equal(t, registration.StatusUnregistered, f.manager.State().Status)

	close(release)
	err := <-done
	assert.ErrorIs(t, err, registration.ErrSuperseded)

	state := f.manager.State()
	assert.Equal(t, registration.StatusUnregistered, state.Status)
	assert.Nil(t, state.Registration)
	_, ok := storedValue(t, f.store, store.KeyEndpointID)
	assert.False(t, ok, "late registration must not be persisted")
	assert.Equal(t, []string{"ep-123"}, f.backend.unregisterCalls(), "late endpoint removed from the backend")

	// A later registration runs on its own rather than joining the cancelled one.
	f.backend.mu.Lock()
	f.backend.beforeRegister = nil
	f.backend.mu.Unlock()

	reg, err := f.manager.Register(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ep-123", reg.RegistrationID)
	assert.True(t, f.manager.State().IsRegistered())
	endpointID, _ := storedValue(t, f.store, store.KeyEndpointID)
	assert.Equal(t, "ep-123", endpointID)
	assert.Len(t, f.backend.registerCalls(), 2)
}

func TestManager_UnregisterWithoutRegistrationSkipsBackend(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"))

	require.NoError(t, f.manager.Unregister(context.Background()))

	assert.Empty(t, f.backend.unregisterCalls())
	assert.Equal(t, registration.StatusUnregistered, f.manager.State().Status)
}

func TestManager_RestoresPersistedRegistration(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"))
	ctx := context.Background()

	require.NoError(t, f.store.SetMany(ctx, map[string]string{
		store.KeyEndpointID:  "ep-9",
		store.KeyDeviceToken: "tok-A",
		store.KeyEnabled:     "true",
	}))

	require.NoError(t, f.manager.Start(ctx))

	state := f.manager.State()
	assert.Equal(t, registration.StatusRegistered, state.Status)
	require.NotNil(t, state.Registration)
	assert.Equal(t, "ep-9", state.Registration.RegistrationID)
	assert.Empty(t, f.backend.registerCalls(), "restore needs no network round trip")
}

func TestManager_RestoreRequiresEnabledFlag(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"))
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, store.KeyEndpointID, "ep-9"))
	require.NoError(t, f.manager.Start(ctx))

	assert.Equal(t, registration.StatusUnregistered, f.manager.State().Status)
}

func TestManager_AutoRegistersOnce(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"), func(cfg *registration.Config) {
		cfg.AutoRegisterDelay = 10 * time.Millisecond
	})

	require.NoError(t, f.manager.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return f.manager.State().IsRegistered()
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, f.backend.registerCalls(), 1)
}

func TestManager_AutoRegisterSkippedWithoutPermission(t *testing.T) {
	f := newFixture(t, registration.StaticMessagingConfig{Token: "tok-A", Physical: true}, func(cfg *registration.Config) {
		cfg.AutoRegisterDelay = 5 * time.Millisecond
	})

	require.NoError(t, f.manager.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, f.backend.registerCalls())
	assert.Equal(t, 0, f.messaging.PermissionRequests(), "automatic registration never prompts")
}

func TestManager_StopCancelsAutoRegister(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"), func(cfg *registration.Config) {
		cfg.AutoRegisterDelay = 20 * time.Millisecond
	})

	require.NoError(t, f.manager.Start(context.Background()))
	f.manager.Stop()
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, f.backend.registerCalls())
}

func TestManager_TokenRotationReRegisters(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"))
	ctx := context.Background()
	require.NoError(t, f.manager.Start(ctx))

	_, err := f.manager.Register(ctx)
	require.NoError(t, err)

	f.backend.mu.Lock()
	f.backend.endpointID = "ep-456"
	f.backend.mu.Unlock()

	f.messaging.RotateToken("tok-A")
	assert.Len(t, f.backend.registerCalls(), 1, "an unchanged token is ignored")

	f.messaging.RotateToken("tok-B")

	calls := f.backend.registerCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "tok-B", calls[1].DeviceToken)

	token, _ := storedValue(t, f.store, store.KeyDeviceToken)
	endpointID, _ := storedValue(t, f.store, store.KeyEndpointID)
	assert.Equal(t, "tok-B", token)
	assert.Equal(t, "ep-456", endpointID)
}

func TestManager_TokenRotationIgnoredWhenUnregistered(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"))
	require.NoError(t, f.manager.Start(context.Background()))

	f.messaging.RotateToken("tok-B")

	assert.Empty(t, f.backend.registerCalls())
}

func TestManager_UnsupportedEnvironment(t *testing.T) {
	f := newFixture(t, registration.StaticMessagingConfig{Token: "tok-A", Permission: registration.PermissionGranted})

	_, err := f.manager.Register(context.Background())
	assert.ErrorIs(t, err, notification.ErrUnsupportedEnvironment)

	granted, err := f.manager.RequestPermissions(context.Background())
	assert.False(t, granted)
	assert.ErrorIs(t, err, notification.ErrUnsupportedEnvironment)

	assert.Empty(t, f.backend.registerCalls())
	assert.Equal(t, registration.StatusUnregistered, f.manager.State().Status)
}

func TestManager_StorageFailureKeepsSessionRegistration(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"))
	f.store.FailWrites(true)

	reg, err := f.manager.Register(context.Background())
	assert.ErrorIs(t, err, notification.ErrStorageFailure)
	require.NotNil(t, reg)

	state := f.manager.State()
	assert.Equal(t, registration.StatusRegistered, state.Status)
	assert.ErrorIs(t, state.LastError, notification.ErrStorageFailure)
	assert.Equal(t, 0, f.store.Len())
}

func TestManager_BackendFailurePersistsNothing(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"))
	f.backend.registerErr = &notification.Error{
		Kind:       notification.KindServerRejected,
		Op:         "register_device",
		Message:    "invalid token",
		StatusCode: 400,
	}

	reg, err := f.manager.Register(context.Background())
	assert.Nil(t, reg)
	assert.ErrorIs(t, err, notification.ErrServerRejected)

	state := f.manager.State()
	assert.Equal(t, registration.StatusFailed, state.Status)
	assert.Equal(t, 0, f.store.Len())
}

func TestManager_MissingTokenFails(t *testing.T) {
	f := newFixture(t, grantedDevice(""))

	_, err := f.manager.Register(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, registration.ErrNoDeviceToken)
	assert.Equal(t, registration.StatusFailed, f.manager.State().Status)
	assert.Empty(t, f.backend.registerCalls())
}

func TestManager_SubscribeSeesTransitions(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"))

	var mu sync.Mutex
	var seen []registration.Status
	unsubscribe := f.manager.Subscribe(func(s registration.State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Status)
	})

	_, err := f.manager.Register(context.Background())
	require.NoError(t, err)
	unsubscribe()
	require.NoError(t, f.manager.Unregister(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, registration.StatusRegistering)
	assert.Equal(t, registration.StatusRegistered, seen[len(seen)-1])
}

func TestManager_BadgeAndLocalNotifications(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"))
	ctx := context.Background()

	require.NoError(t, f.manager.SetBadgeCount(ctx, 4))
	assert.Equal(t, 4, f.messaging.Badge())
	require.NoError(t, f.manager.SetBadgeCount(ctx, -2))
	assert.Equal(t, 0, f.messaging.Badge())
	require.NoError(t, f.manager.SetBadgeCount(ctx, 3))
	require.NoError(t, f.manager.ClearBadge(ctx))
	assert.Equal(t, 0, f.messaging.Badge())

	id, err := f.manager.ScheduleLocal(ctx, notification.LocalNotification{Title: "Cashback", Body: "You earned 5 EUR"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.messaging.Scheduled())
	require.NoError(t, f.manager.CancelLocal(ctx, id))
	assert.Equal(t, 0, f.messaging.Scheduled())
}

func TestBuildInfo_Platform(t *testing.T) {
	tests := []struct {
		name     string
		build    registration.BuildInfo
		expected notification.Platform
		wantErr  bool
	}{
		{"ios production", registration.BuildInfo{OS: "ios"}, notification.PlatformIOS, false},
		{"ios sandbox", registration.BuildInfo{OS: "iOS", Sandbox: true}, notification.PlatformIOSSandbox, false},
		{"android", registration.BuildInfo{OS: "android"}, notification.PlatformAndroid, false},
		{"android ignores sandbox", registration.BuildInfo{OS: "android", Sandbox: true}, notification.PlatformAndroid, false},
		{"unknown", registration.BuildInfo{OS: "web"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform, err := tt.build.Platform()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, platform)
		})
	}
}

func TestManager_SandboxBuildRegistersSandboxPlatform(t *testing.T) {
	f := newFixture(t, grantedDevice("tok-A"), func(cfg *registration.Config) {
		cfg.Build.Sandbox = true
	})

	_, err := f.manager.Register(context.Background())
	require.NoError(t, err)

	calls := f.backend.registerCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, notification.PlatformIOSSandbox, calls[0].Platform)
}
