package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/notifysync/notifysync/internal/notification"
)

// Validation errors.
var (
	ErrTokenRequired   = errors.New("device_token is required")
	ErrInvalidPlatform = errors.New("platform must be one of ios, ios_sandbox, android")
)

// Service provides endpoint operations.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new endpoint service.
func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Register registers token for userID and returns the endpoint that will
// receive its pushes. Registering a known token again returns the same
// endpoint ID.
func (s *Service) Register(ctx context.Context, userID string, input RegisterInput) (*Endpoint, bool, error) {
	token := strings.TrimSpace(input.Token)
	if token == "" {
		return nil, false, ErrTokenRequired
	}
	if !validPlatform(input.Platform) {
		return nil, false, ErrInvalidPlatform
	}

	now := s.now().UTC()
	endpoint := &Endpoint{
		ID:         "ep_" + uuid.NewString(),
		UserID:     userID,
		Platform:   input.Platform,
		Token:      token,
		DeviceName: optional(input.DeviceName),
		AppVersion: optional(input.AppVersion),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	stored, created, err := s.repo.Upsert(ctx, endpoint)
	if err != nil {
		return nil, false, fmt.Errorf("storing endpoint: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("endpoint_id", stored.ID).
		Str("platform", string(stored.Platform)).
		Str("token_last4", stored.TokenLast4()).
		Bool("created", created).
		Msg("push endpoint registered")

	return stored, created, nil
}

// Unregister removes an endpoint owned by userID.
func (s *Service) Unregister(ctx context.Context, userID, endpointID string) error {
	if err := s.repo.Delete(ctx, userID, endpointID); err != nil {
		return err
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("endpoint_id", endpointID).
		Msg("push endpoint removed")
	return nil
}

// List returns the endpoints registered for userID.
func (s *Service) List(ctx context.Context, userID string) ([]*Endpoint, error) {
	return s.repo.ListByUser(ctx, userID)
}

func validPlatform(p notification.Platform) bool {
	switch p {
	case notification.PlatformIOS, notification.PlatformIOSSandbox, notification.PlatformAndroid:
		return true
	default:
		return false
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
