// Package transport is the authenticated HTTP client for the notification backend.
// It owns no state: every call is independent and may be retried by the caller.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/notifysync/notifysync/internal/notification"
	"github.com/notifysync/notifysync/internal/provider/resilience"
)

const (
	// ClientName identifies the backend client in the resilience registry.
	ClientName = "notifications-api"

	instrumentationName = "github.com/notifysync/notifysync/internal/transport"

	maxErrorBody = 64 << 10
)

// Credentials identify the user on every request.
type Credentials struct {
	UserID      string
	BearerToken string
}

// CredentialSource supplies the current credentials. The transport never refreshes
// them; an expired credential surfaces as an Unauthorized error.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials is a CredentialSource that always returns the same credentials.
type StaticCredentials Credentials

// Credentials implements CredentialSource.
func (s StaticCredentials) Credentials(_ context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// CredentialsFunc adapts a function to CredentialSource.
type CredentialsFunc func(ctx context.Context) (Credentials, error)

// Credentials implements CredentialSource.
func (f CredentialsFunc) Credentials(ctx context.Context) (Credentials, error) {
	return f(ctx)
}

// ClientConfig holds configuration for the transport client.
type ClientConfig struct {
	// BaseURL is the backend API root (required), e.g. "https://api.example.com/v1".
	BaseURL string

	// Credentials supplies user identity and bearer token (required).
	Credentials CredentialSource

	// HTTPClient is the resilient client to use (optional).
	// If nil, one is created with resilience.DefaultClientConfig.
	HTTPClient *resilience.Client

	// Registry receives call outcomes when HTTPClient is nil (optional).
	Registry *resilience.Registry

	// UserAgent is sent on every request (optional).
	UserAgent string

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is the notification backend client.
type Client struct {
	baseURL     string
	credentials CredentialSource
	httpClient  *resilience.Client
	userAgent   string
	logger      zerolog.Logger

	tracer   trace.Tracer
	duration metric.Float64Histogram
}

// NewClient creates a new transport client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		rc := resilience.DefaultClientConfig(ClientName)
		rc.Registry = cfg.Registry
		httpClient = resilience.NewClient(rc)
	}

	credentials := cfg.Credentials
	if credentials == nil {
		credentials = StaticCredentials{}
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "notifysync"
	}

	duration, err := otel.Meter(instrumentationName).Float64Histogram(
		"notifysync.transport.request.duration",
		metric.WithDescription("Duration of notification backend calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("transport metrics disabled")
		duration = noop.Float64Histogram{}
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		credentials: credentials,
		httpClient:  httpClient,
		userAgent:   userAgent,
		logger:      cfg.Logger,
		tracer:      otel.Tracer(instrumentationName),
		duration:    duration,
	}
}

// RegisterDevice registers a device token. The backend treats it as an upsert,
// so repeated calls with the same token are safe. Returns the endpoint id.
func (c *Client) RegisterDevice(ctx context.Context, in RegisterDeviceRequest) (string, error) {
	const op = "register_device"

	var out RegisterDeviceResponse
	if err := c.do(ctx, op, http.MethodPost, "/push/register-device", nil, in, &out); err != nil {
		return "", err
	}

	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "registration was not accepted"
		}
		return "", &notification.Error{Kind: notification.KindServerRejected, Op: op, Message: msg}
	}
	if out.EndpointID == "" {
		return "", &notification.Error{Kind: notification.KindServerRejected, Op: op, Message: "response is missing endpoint_id"}
	}

	return out.EndpointID, nil
}

// UnregisterDevice removes a device endpoint.
func (c *Client) UnregisterDevice(ctx context.Context, endpointID string) error {
	return c.do(ctx, "unregister_device", http.MethodPost, "/push/unregister-device", nil,
		UnregisterDeviceRequest{EndpointID: endpointID}, nil)
}

// ListNotifications fetches one page of notifications, newest first.
func (c *Client) ListNotifications(ctx context.Context, q ListQuery) (*Page, error) {
	params := url.Values{}
	if q.Category != nil {
		params.Set("category", string(*q.Category))
	}
	if q.UnreadOnly {
		params.Set("unread_only", "true")
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	params.Set("offset", strconv.Itoa(q.Offset))

	var page Page
	if err := c.do(ctx, "list_notifications", http.MethodGet, "/notifications", params, nil, &page); err != nil {
		return nil, err
	}
	if page.Notifications == nil {
		page.Notifications = []notification.Record{}
	}
	return &page, nil
}

// GetUnreadCount fetches the server-computed unread count.
func (c *Client) GetUnreadCount(ctx context.Context) (int, error) {
	var out unreadCountResponse
	if err := c.do(ctx, "get_unread_count", http.MethodGet, "/notifications/unread-count", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

// MarkAsRead marks one notification read. Idempotent by id.
func (c *Client) MarkAsRead(ctx context.Context, id string) error {
	return c.do(ctx, "mark_as_read", http.MethodPost, "/notifications/"+url.PathEscape(id)+"/read", nil, nil, nil)
}

// MarkAllAsRead marks every notification, or every notification in category, read.
// Returns the number the server changed.
func (c *Client) MarkAllAsRead(ctx context.Context, category *notification.Category) (int, error) {
	var out countResponse
	if err := c.do(ctx, "mark_all_as_read", http.MethodPost, "/notifications/read-all", categoryParams(category), nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// DeleteNotification deletes one notification. Idempotent by id.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.do(ctx, "delete_notification", http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil, nil)
}

// DeleteAll deletes every notification, or every notification in category.
func (c *Client) DeleteAll(ctx context.Context, category *notification.Category) (int, error) {
	var out countResponse
	if err := c.do(ctx, "delete_all", http.MethodDelete, "/notifications", categoryParams(category), nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// GetPreferences fetches the user's notification preferences.
func (c *Client) GetPreferences(ctx context.Context) (*notification.Preferences, error) {
	var out preferencesEnvelope
	if err := c.do(ctx, "get_preferences", http.MethodGet, "/notifications/preferences", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Preferences, nil
}

// UpdatePreferences replaces the user's notification preferences and returns
// the stored result.
func (c *Client) UpdatePreferences(ctx context.Context, prefs notification.Preferences) (*notification.Preferences, error) {
	var out preferencesEnvelope
	if err := c.do(ctx, "update_preferences", http.MethodPost, "/notifications/preferences", nil,
		preferencesEnvelope{Preferences: prefs}, &out); err != nil {
		return nil, err
	}
	return &out.Preferences, nil
}

func categoryParams(category *notification.Category) url.Values {
	if category == nil {
		return nil
	}
	return url.Values{"category": []string{string(*category)}}
}

// do runs one traced, timed call.
func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, in, out any) error {
	ctx, span := c.tracer.Start(ctx, "notifysync.transport."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("notifysync.op", op),
		),
	)
	defer span.End()

	start := time.Now()
	err := c.roundTrip(ctx, op, method, path, params, in, out)

	outcome := "success"
	if err != nil {
		outcome = string(notification.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug().
			Err(err).
			Str("op", op).
			Str("kind", outcome).
			Msg("backend call failed")
	}
	c.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))

	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, params url.Values, in, out any) error {
	creds, err := c.credentials.Credentials(ctx)
	if err != nil {
		return notification.NewError(notification.KindUnauthorized, op, fmt.Errorf("resolving credentials: %w", err))
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var body io.Reader = http.NoBody
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return notification.NewError(notification.KindUnknown, op, fmt.Errorf("encoding request: %w", err))
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return notification.NewError(notification.KindUnknown, op, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+creds.BearerToken)
	}
	if creds.UserID != "" {
		req.Header.Set("X-User-Id", creds.UserID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return notification.NewError(notification.KindNetworkFailure, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return responseError(op, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &notification.Error{
			Kind:       notification.KindServerRejected,
			Op:         op,
			Message:    "malformed response body",
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	return nil
}

// responseError classifies a 4xx/5xx response, keeping the server's message verbatim.
func responseError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var p problem
	msg := ""
	if json.Unmarshal(raw, &p) == nil {
		msg = p.message()
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	kind := notification.KindServerRejected
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		kind = notification.KindUnauthorized
	}

	return &notification.Error{
		Kind:       kind,
		Op:         op,
		Message:    msg,
		StatusCode: resp.StatusCode,
	}
}
