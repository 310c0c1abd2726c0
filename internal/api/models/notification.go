package models

import "github.com/notifysync/notifysync/internal/notification"

// RegisterDeviceRequest is the body of POST /v1/push/register-device.
type RegisterDeviceRequest struct {
	DeviceToken string                `json:"device_token"`
	Platform    notification.Platform `json:"platform"`
	DeviceName  string                `json:"device_name,omitempty"`
	AppVersion  string                `json:"app_version,omitempty"`
}

// RegisterDeviceResponse reports the endpoint that will receive pushes.
type RegisterDeviceResponse struct {
	Success    bool   `json:"success"`
	EndpointID string `json:"endpoint_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// UnregisterDeviceRequest is the body of POST /v1/push/unregister-device.
type UnregisterDeviceRequest struct {
	EndpointID string `json:"endpoint_id"`
}

// SuccessResponse acknowledges a command with no other result.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// NotificationPage is the body returned by GET /v1/notifications.
type NotificationPage struct {
	Notifications []notification.Record `json:"notifications"`
	TotalCount    int                   `json:"total_count"`
	UnreadCount   int                   `json:"unread_count"`
	Limit         int                   `json:"limit"`
	Offset        int                   `json:"offset"`
}

// UnreadCountResponse is the body returned by GET /v1/notifications/unread-count.
type UnreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}

// CountResponse reports how many notifications a bulk command affected.
type CountResponse struct {
	Count int `json:"count"`
}

// PreferencesEnvelope wraps preferences in both directions.
type PreferencesEnvelope struct {
	Preferences notification.Preferences `json:"preferences"`
}
