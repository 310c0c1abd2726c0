package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/notifysync/notifysync/internal/notification"
)

// Service applies validation and defaults on top of a Repository.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new inbox service.
func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// PublishInput describes a notification to deliver to a user's inbox.
type PublishInput struct {
	Title     string
	Body      string
	Category  notification.Category
	Priority  notification.Priority
	ExpiresAt *time.Time
}

// Publish adds a new unread notification and returns it.
func (s *Service) Publish(ctx context.Context, userID string, in PublishInput) (*notification.Record, error) {
	if !in.Category.Valid() {
		return nil, ErrInvalidCategory
	}
	if in.Priority == "" {
		in.Priority = notification.PriorityNormal
	}

	rec := notification.Record{
		ID:        "ntf_" + uuid.NewString(),
		Title:     in.Title,
		Body:      in.Body,
		Category:  in.Category,
		Priority:  in.Priority,
		CreatedAt: s.now().UTC(),
		ExpiresAt: in.ExpiresAt,
	}
	if err := s.repo.Add(ctx, userID, rec); err != nil {
		return nil, fmt.Errorf("adding notification: %w", err)
	}

	s.logger.Debug().
		Str("user_id", userID).
		Str("notification_id", rec.ID).
		Str("category", string(rec.Category)).
		Msg("notification published")
	return &rec, nil
}

// List returns a page of notifications. A zero limit means DefaultLimit and
// limits above MaxLimit are clamped.
func (s *Service) List(ctx context.Context, userID string, opts ListOptions) (*ListResult, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, ErrInvalidPaging
	}
	if opts.Category != nil && !opts.Category.Valid() {
		return nil, ErrInvalidCategory
	}
	if opts.Limit == 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Limit > MaxLimit {
		opts.Limit = MaxLimit
	}
	return s.repo.List(ctx, userID, opts)
}

// UnreadCount returns the user's unread count.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.UnreadCount(ctx, userID)
}

// MarkRead marks one notification read.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	return s.repo.MarkRead(ctx, userID, id)
}

// MarkAllRead marks all notifications, or those in category, read.
func (s *Service) MarkAllRead(ctx context.Context, userID string, category *notification.Category) (int, error) {
	if category != nil && !category.Valid() {
		return 0, ErrInvalidCategory
	}
	return s.repo.MarkAllRead(ctx, userID, category)
}

// Delete removes one notification. Deleting an unknown ID succeeds so that
// retries are harmless.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	err := s.repo.Delete(ctx, userID, id)
	if errors.Is(err, ErrNotificationNotFound) {
		return nil
	}
	return err
}

// DeleteAll removes all notifications, or those in category.
func (s *Service) DeleteAll(ctx context.Context, userID string, category *notification.Category) (int, error) {
	if category != nil && !category.Valid() {
		return 0, ErrInvalidCategory
	}
	return s.repo.DeleteAll(ctx, userID, category)
}

// GetPreferences returns the user's preferences.
func (s *Service) GetPreferences(ctx context.Context, userID string) (*notification.Preferences, error) {
	return s.repo.GetPreferences(ctx, userID)
}

// UpdatePreferences validates and stores prefs, returning what was saved.
func (s *Service) UpdatePreferences(ctx context.Context, userID string, prefs notification.Preferences) (*notification.Preferences, error) {
	for c := range prefs.Categories {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCategory, c)
		}
	}
	for _, hhmm := range []*string{prefs.QuietHoursStart, prefs.QuietHoursEnd} {
		if hhmm == nil {
			continue
		}
		if _, err := time.Parse("15:04", *hhmm); err != nil {
			return nil, ErrInvalidQuietHours
		}
	}

	if err := s.repo.SavePreferences(ctx, userID, prefs); err != nil {
		return nil, fmt.Errorf("saving preferences: %w", err)
	}
	return s.repo.GetPreferences(ctx, userID)
}

var seedMessages = []PublishInput{
	{Title: "Payment received", Body: "You received a transfer.", Category: notification.CategoryTransaction},
	{Title: "Cashback earned", Body: "Cashback was added to your balance.", Category: notification.CategoryCashback},
	{Title: "New sign-in", Body: "Your account was accessed from a new device.", Category: notification.CategorySecurity, Priority: notification.PriorityHigh},
	{Title: "Profile updated", Body: "Your account details were changed.", Category: notification.CategoryAccount},
	{Title: "Weekend offer", Body: "Double cashback this weekend.", Category: notification.CategoryMarketing, Priority: notification.PriorityLow},
	{Title: "Scheduled maintenance", Body: "Some features may be unavailable tonight.", Category: notification.CategorySystem},
	{Title: "Friend joined", Body: "Someone you invited just signed up.", Category: notification.CategorySocial},
	{Title: "Ticket answered", Body: "Support replied to your request.", Category: notification.CategorySupport},
}

// Seed publishes n demo notifications for userID, one minute apart with the
// newest last, cycling through every category.
func (s *Service) Seed(ctx context.Context, userID string, n int) error {
	base := s.now().UTC().Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		msg := seedMessages[i%len(seedMessages)]
		if msg.Priority == "" {
			msg.Priority = notification.PriorityNormal
		}
		rec := notification.Record{
			ID:        fmt.Sprintf("ntf_seed_%03d", i+1),
			Title:     msg.Title,
			Body:      msg.Body,
			Category:  msg.Category,
			Priority:  msg.Priority,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.repo.Add(ctx, userID, rec); err != nil {
			return fmt.Errorf("seeding notification %d: %w", i+1, err)
		}
	}

	s.logger.Info().Str("user_id", userID).Int("count", n).Msg("inbox seeded")
	return nil
}
