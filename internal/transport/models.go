package transport

import (
	"github.com/notifysync/notifysync/internal/notification"
)

// RegisterDeviceRequest is the body of POST /push/register-device.
type RegisterDeviceRequest struct {
	DeviceToken string                `json:"device_token"`
	Platform    notification.Platform `json:"platform"`
	DeviceName  string                `json:"device_name,omitempty"`
	AppVersion  string                `json:"app_version,omitempty"`
}

// RegisterDeviceResponse is the body returned by POST /push/register-device.
type RegisterDeviceResponse struct {
	Success    bool   `json:"success"`
	EndpointID string `json:"endpoint_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// UnregisterDeviceRequest is the body of POST /push/unregister-device.
type UnregisterDeviceRequest struct {
	EndpointID string `json:"endpoint_id"`
}

// ListQuery selects a page of notifications.
type ListQuery struct {
	// Category restricts the page to one category when set.
	Category   *notification.Category
	UnreadOnly bool
	Limit      int
	Offset     int
}

// Page is the body returned by GET /notifications.
type Page struct {
	Notifications []notification.Record `json:"notifications"`
	TotalCount    int                   `json:"total_count"`
	UnreadCount   int                   `json:"unread_count"`
	Limit         int                   `json:"limit"`
	Offset        int                   `json:"offset"`
}

type unreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}

type countResponse struct {
	Count int `json:"count"`
}

type preferencesEnvelope struct {
	Preferences notification.Preferences `json:"preferences"`
}

// problem is the subset of an RFC7807 body, or the looser error shapes some
// backends return, that carries a human-readable message.
type problem struct {
	Title   string `json:"title"`
	Detail  string `json:"detail"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (p *problem) message() string {
	switch {
	case p.Detail != "":
		return p.Detail
	case p.Error != "":
		return p.Error
	case p.Message != "":
		return p.Message
	default:
		return p.Title
	}
}
