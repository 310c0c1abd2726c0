package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifysync/notifysync/internal/api"
	"github.com/notifysync/notifysync/internal/api/handler"
	"github.com/notifysync/notifysync/internal/api/models"
	"github.com/notifysync/notifysync/internal/auth"
	"github.com/notifysync/notifysync/internal/device"
	"github.com/notifysync/notifysync/internal/inbox"
)

const testUserID = "usr_testuser123"

// testTokens creates a JWT service for generating test tokens.
func testTokens() *auth.Tokens {
	return auth.NewTokens(auth.TokenConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "https://api.notifysync.dev",
		Audience:   "notifysync-api",
	})
}

type testServer struct {
	router  http.Handler
	inbox   *inbox.Service
	devices *device.InMemoryRepository
}

func newTestServer(t *testing.T, seed int) *testServer {
	t.Helper()
	logger := zerolog.New(io.Discard)

	deviceRepo := device.NewInMemoryRepository()
	inboxSvc := inbox.NewService(inbox.NewInMemoryRepository(), logger)
	if seed > 0 {
		require.NoError(t, inboxSvc.Seed(context.Background(), testUserID, seed))
	}

	return &testServer{
		router: api.NewRouter(api.RouterConfig{
			Version:   "test",
			BuildTime: "2024-01-01T00:00:00Z",
			Logger:    logger,
			Tokens:    testTokens(),
			Devices:   device.NewService(deviceRepo, logger),
			Inbox:     inboxSvc,
		}),
		inbox:   inboxSvc,
		devices: deviceRepo,
	}
}

// do sends an authenticated request and returns the recorder.
func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, _, err := testTokens().Issue(testUserID)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-User-Id", testUserID)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRouter_HealthCheck(t *testing.T) {
	srv := newTestServer(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	health := decode[models.Health](t, w)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Version)
	assert.False(t, health.Time.IsZero())
}

func TestRouter_ReadinessCheck(t *testing.T) {
	logger := zerolog.New(io.Discard)
	router := api.NewRouter(api.RouterConfig{
		Logger:  logger,
		Tokens:  testTokens(),
		Devices: device.NewService(device.NewInMemoryRepository(), logger),
		Inbox:   inbox.NewService(inbox.NewInMemoryRepository(), logger),
		ReadinessChecks: map[string]handler.ReadinessCheck{
			"postgres": func(context.Context) error { return errors.New("connection refused") },
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/ready", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	health := decode[models.Health](t, w)
	assert.Equal(t, models.HealthStatusFail, health.Status)
	assert.Equal(t, "connection refused", health.Checks["postgres"])
}

func TestRouter_RequiresAuth(t *testing.T) {
	srv := newTestServer(t, 0)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/notifications"},
		{http.MethodGet, "/v1/notifications/unread-count"},
		{http.MethodPost, "/v1/push/register-device"},
		{http.MethodGet, "/v1/notifications/preferences"},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			req := httptest.NewRequest(p.method, p.path, http.NoBody)
			w := httptest.NewRecorder()

			srv.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}
}

func TestRouter_RegisterAndUnregisterDevice(t *testing.T) {
	srv := newTestServer(t, 0)

	w := srv.do(t, http.MethodPost, "/v1/push/register-device", models.RegisterDeviceRequest{
		DeviceToken: "apns-token-1234",
		Platform:    "ios",
		DeviceName:  "Test iPhone",
		AppVersion:  "1.0.0",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[models.RegisterDeviceResponse](t, w)
	assert.True(t, first.Success)
	assert.NotEmpty(t, first.EndpointID)

	// Same token again yields the same endpoint.
	w = srv.do(t, http.MethodPost, "/v1/push/register-device", models.RegisterDeviceRequest{
		DeviceToken: "apns-token-1234",
		Platform:    "ios",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first.EndpointID, decode[models.RegisterDeviceResponse](t, w).EndpointID)

	w = srv.do(t, http.MethodPost, "/v1/push/unregister-device", models.UnregisterDeviceRequest{EndpointID: first.EndpointID})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.SuccessResponse](t, w).Success)

	_, err := srv.devices.GetByToken(context.Background(), "apns-token-1234")
	assert.ErrorIs(t, err, device.ErrEndpointNotFound)

	// Unknown endpoints still succeed.
	w = srv.do(t, http.MethodPost, "/v1/push/unregister-device", models.UnregisterDeviceRequest{EndpointID: first.EndpointID})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_RegisterDeviceValidation(t *testing.T) {
	srv := newTestServer(t, 0)

	tests := []struct {
		name  string
		body  models.RegisterDeviceRequest
		field string
	}{
		{"missing token", models.RegisterDeviceRequest{Platform: "android"}, "device_token"},
		{"bad platform", models.RegisterDeviceRequest{DeviceToken: "tok", Platform: "web"}, "platform"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodPost, "/v1/push/register-device", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			problem := decode[models.Problem](t, w)
			require.Len(t, problem.Errors, 1)
			assert.Equal(t, tt.field, problem.Errors[0].Field)
		})
	}
}

func TestRouter_ListNotifications(t *testing.T) {
	srv := newTestServer(t, 50)

	w := srv.do(t, http.MethodGet, "/v1/notifications?limit=20&offset=0", nil)
	require.Equal(t, http.StatusOK, w.Code)

	page := decode[models.NotificationPage](t, w)
	assert.Len(t, page.Notifications, 20)
	assert.Equal(t, 50, page.TotalCount)
	assert.Equal(t, 50, page.UnreadCount)
	assert.Equal(t, 20, page.Limit)
	assert.Equal(t, "ntf_seed_050", page.Notifications[0].ID)

	w = srv.do(t, http.MethodGet, "/v1/notifications?category=security&unread_only=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[models.NotificationPage](t, w)
	for _, n := range page.Notifications {
		assert.Equal(t, "security", string(n.Category))
	}
}

func TestRouter_ListNotificationsValidation(t *testing.T) {
	srv := newTestServer(t, 0)

	tests := []struct {
		name  string
		query string
	}{
		{"non-numeric limit", "?limit=abc"},
		{"negative offset", "?offset=-1"},
		{"unknown category", "?category=weather"},
		{"bad boolean", "?unread_only=maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(t, http.MethodGet, "/v1/notifications"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRouter_ReadAndDelete(t *testing.T) {
	srv := newTestServer(t, 8)

	w := srv.do(t, http.MethodPost, "/v1/notifications/ntf_seed_008/read", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, http.MethodGet, "/v1/notifications/unread-count", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, decode[models.UnreadCountResponse](t, w).UnreadCount)

	w = srv.do(t, http.MethodPost, "/v1/notifications/missing/read", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "notification not found", decode[models.Problem](t, w).Detail)

	w = srv.do(t, http.MethodPost, "/v1/notifications/read-all?category=cashback", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[models.CountResponse](t, w).Count)

	w = srv.do(t, http.MethodDelete, "/v1/notifications/ntf_seed_001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = srv.do(t, http.MethodDelete, "/v1/notifications/ntf_seed_001", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(t, http.MethodDelete, "/v1/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, decode[models.CountResponse](t, w).Count)
}

func TestRouter_Preferences(t *testing.T) {
	srv := newTestServer(t, 0)

	w := srv.do(t, http.MethodGet, "/v1/notifications/preferences", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.PreferencesEnvelope](t, w).Preferences.PushEnabled)

	w = srv.do(t, http.MethodPost, "/v1/notifications/preferences", map[string]any{
		"preferences": map[string]any{
			"push_enabled":  false,
			"email_enabled": true,
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	saved := decode[models.PreferencesEnvelope](t, w).Preferences
	assert.False(t, saved.PushEnabled)
	assert.True(t, saved.EmailEnabled)

	w = srv.do(t, http.MethodPost, "/v1/notifications/preferences", map[string]any{
		"preferences": map[string]any{"quiet_hours_start": "late"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_Publish(t *testing.T) {
	srv := newTestServer(t, 0)

	w := srv.do(t, http.MethodPost, "/v1/notifications", map[string]any{
		"title":    "Hello",
		"body":     "World",
		"category": "system",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	count, err := srv.inbox.UnreadCount(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRouter_RejectsNonJSONBody(t *testing.T) {
	srv := newTestServer(t, 0)

	req := httptest.NewRequest(http.MethodPost, "/v1/push/register-device", bytes.NewReader([]byte("token=x")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	token, _, err := testTokens().Issue(testUserID)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRouter_UnknownRoute(t *testing.T) {
	srv := newTestServer(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/v1/unknown", http.NoBody)
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
