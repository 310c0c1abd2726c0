// Package notification holds the domain types shared by the registration manager,
// the feed synchronizer and the transport client.
package notification

import (
	"encoding/json"
	"time"
)

// Platform represents a push notification platform as understood by the backend.
type Platform string

const (
	PlatformIOS        Platform = "ios"
	PlatformIOSSandbox Platform = "ios_sandbox"
	PlatformAndroid    Platform = "android"
)

// Category classifies an in-app notification.
type Category string

const (
	CategoryTransaction Category = "transaction"
	CategoryCashback    Category = "cashback"
	CategorySecurity    Category = "security"
	CategoryAccount     Category = "account"
	CategoryMarketing   Category = "marketing"
	CategorySystem      Category = "system"
	CategorySocial      Category = "social"
	CategorySupport     Category = "support"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryTransaction,
	CategoryCashback,
	CategorySecurity,
	CategoryAccount,
	CategoryMarketing,
	CategorySystem,
	CategorySocial,
	CategorySupport,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Priority is the urgency of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Record is a single in-app notification as held in the local feed.
// The local copy is a cache of server state.
type Record struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Category  Category        `json:"category"`
	Priority  Priority        `json:"priority"`
	Read      bool            `json:"read"`
	Dismissed bool            `json:"dismissed"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	ActionRef json.RawMessage `json:"action_ref,omitempty"`
}

// Expired reports whether the record has an expiry in the past.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Registration is the association between a device token and a backend endpoint.
type Registration struct {
	Platform       Platform
	DeviceToken    string
	RegistrationID string
	RegisteredAt   time.Time
}

// Preferences are the user's notification delivery settings.
// They are always read from and written to the backend, never cached.
type Preferences struct {
	PushEnabled     bool              `json:"push_enabled"`
	EmailEnabled    bool              `json:"email_enabled"`
	Categories      map[Category]bool `json:"categories,omitempty"`
	QuietHoursStart *string           `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   *string           `json:"quiet_hours_end,omitempty"`
}

// CategoryEnabled returns whether pushes for c are enabled. Categories missing
// from the map follow PushEnabled.
func (p *Preferences) CategoryEnabled(c Category) bool {
	if !p.PushEnabled {
		return false
	}
	if enabled, ok := p.Categories[c]; ok {
		return enabled
	}
	return true
}

// LocalNotification is a notification scheduled on the device itself.
type LocalNotification struct {
	Title string
	Body  string
	Data  map[string]string
	// Delay before delivery. Zero delivers immediately.
	Delay time.Duration
}
