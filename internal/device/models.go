// Package device keeps the server-side registry of push endpoints: one
// endpoint per device token, owned by the user who last registered it.
package device

import (
	"errors"
	"time"

	"github.com/notifysync/notifysync/internal/notification"
)

// Repository errors.
var (
	ErrEndpointNotFound = errors.New("endpoint not found")
)

// Endpoint is a registered push destination.
type Endpoint struct {
	ID         string
	UserID     string
	Platform   notification.Platform
	Token      string
	DeviceName *string
	AppVersion *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TokenLast4 returns the last 4 characters of the token for display purposes.
func (e *Endpoint) TokenLast4() string {
	if len(e.Token) < 4 {
		return e.Token
	}
	return e.Token[len(e.Token)-4:]
}

// RegisterInput is what a client supplies when registering a token.
type RegisterInput struct {
	Platform   notification.Platform
	Token      string
	DeviceName string
	AppVersion string
}
