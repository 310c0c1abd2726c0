package registration

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/notifysync/notifysync/internal/notification"
)

// Permission is the OS-level push permission.
type Permission string

const (
	PermissionUndetermined Permission = "undetermined"
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
)

// ErrNoDeviceToken is returned by StaticMessaging when it has no token to hand out.
var ErrNoDeviceToken = errors.New("no device token available")

// Messaging is the OS messaging layer (APNs/FCM equivalent). It delivers opaque
// tokens and owns the badge and local notification scheduling.
type Messaging interface {
	// IsPhysicalDevice reports whether the device can receive remote pushes at all.
	IsPhysicalDevice() bool

	// PermissionStatus returns the current permission without prompting.
	PermissionStatus(ctx context.Context) (Permission, error)

	// RequestPermission prompts the user if the permission is undetermined.
	RequestPermission(ctx context.Context) (Permission, error)

	// DeviceToken returns the current push token.
	DeviceToken(ctx context.Context) (string, error)

	// OnTokenRefresh registers fn to be called whenever the OS rotates the token.
	// The returned function removes the listener.
	OnTokenRefresh(fn func(token string)) (cancel func())

	SetBadgeCount(ctx context.Context, count int) error
	ScheduleLocal(ctx context.Context, n notification.LocalNotification) (string, error)
	CancelLocal(ctx context.Context, id string) error
}

// StaticMessagingConfig configures a StaticMessaging.
type StaticMessagingConfig struct {
	Token      string
	Physical   bool
	Permission Permission

	// GrantOnRequest makes RequestPermission grant an undetermined permission.
	GrantOnRequest bool
}

// StaticMessaging is a headless Messaging for command-line use and tests.
// Tokens are supplied by the caller rather than by an OS push service.
type StaticMessaging struct {
	mu             sync.Mutex
	physical       bool
	permission     Permission
	grantOnRequest bool
	token          string
	badge          int
	scheduled      map[string]notification.LocalNotification
	listeners      map[int]func(string)
	nextListener   int
	requests       int
}

// NewStaticMessaging creates a StaticMessaging.
func NewStaticMessaging(cfg StaticMessagingConfig) *StaticMessaging {
	permission := cfg.Permission
	if permission == "" {
		permission = PermissionUndetermined
	}
	return &StaticMessaging{
		physical:       cfg.Physical,
		permission:     permission,
		grantOnRequest: cfg.GrantOnRequest,
		token:          cfg.Token,
		scheduled:      make(map[string]notification.LocalNotification),
		listeners:      make(map[int]func(string)),
	}
}

// IsPhysicalDevice implements Messaging.
func (s *StaticMessaging) IsPhysicalDevice() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.physical
}

// PermissionStatus implements Messaging.
func (s *StaticMessaging) PermissionStatus(_ context.Context) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission, nil
}

// RequestPermission implements Messaging.
func (s *StaticMessaging) RequestPermission(_ context.Context) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests++
	if s.permission == PermissionUndetermined {
		if s.grantOnRequest {
			s.permission = PermissionGranted
		} else {
			s.permission = PermissionDenied
		}
	}
	return s.permission, nil
}

// DeviceToken implements Messaging.
func (s *StaticMessaging) DeviceToken(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrNoDeviceToken
	}
	return s.token, nil
}

// OnTokenRefresh implements Messaging.
func (s *StaticMessaging) OnTokenRefresh(fn func(token string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// SetBadgeCount implements Messaging.
func (s *StaticMessaging) SetBadgeCount(_ context.Context, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badge = count
	return nil
}

// ScheduleLocal implements Messaging.
func (s *StaticMessaging) ScheduleLocal(_ context.Context, n notification.LocalNotification) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.scheduled[id] = n
	return id, nil
}

// CancelLocal implements Messaging.
func (s *StaticMessaging) CancelLocal(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, id)
	return nil
}

// RotateToken replaces the token and notifies listeners synchronously.
func (s *StaticMessaging) RotateToken(token string) {
	s.mu.Lock()
	s.token = token
	listeners := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(token)
	}
}

// SetPermission changes the permission as if the user had edited OS settings.
func (s *StaticMessaging) SetPermission(p Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permission = p
}

// Badge returns the last badge count set.
func (s *StaticMessaging) Badge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.badge
}

// Scheduled returns the number of pending local notifications.
func (s *StaticMessaging) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

// PermissionRequests returns how many times RequestPermission was called.
func (s *StaticMessaging) PermissionRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

var _ Messaging = (*StaticMessaging)(nil)
