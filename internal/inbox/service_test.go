package inbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifysync/notifysync/internal/inbox"
	"github.com/notifysync/notifysync/internal/notification"
)

func seeded(t *testing.T, n int) *inbox.Service {
	t.Helper()
	svc := inbox.NewService(inbox.NewInMemoryRepository(), zerolog.Nop())
	require.NoError(t, svc.Seed(context.Background(), "usr_1", n))
	return svc
}

func category(c notification.Category) *notification.Category { return &c }

func TestService_ListPaging(t *testing.T) {
	svc := seeded(t, 50)
	ctx := context.Background()

	page, err := svc.List(ctx, "usr_1", inbox.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, page.Items, inbox.DefaultLimit)
	assert.Equal(t, 50, page.Total)
	assert.Equal(t, 50, page.Unread)
	assert.Equal(t, "ntf_seed_050", page.Items[0].ID)

	page, err = svc.List(ctx, "usr_1", inbox.ListOptions{Limit: 20, Offset: 40})
	require.NoError(t, err)
	assert.Len(t, page.Items, 10)
	assert.Equal(t, "ntf_seed_001", page.Items[9].ID)

	page, err = svc.List(ctx, "usr_1", inbox.ListOptions{Limit: 20, Offset: 60})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)

	page, err = svc.List(ctx, "usr_1", inbox.ListOptions{Limit: 500})
	require.NoError(t, err)
	assert.Len(t, page.Items, 50)
}

func TestService_ListValidation(t *testing.T) {
	svc := seeded(t, 1)
	ctx := context.Background()

	_, err := svc.List(ctx, "usr_1", inbox.ListOptions{Limit: -1})
	assert.ErrorIs(t, err, inbox.ErrInvalidPaging)

	_, err = svc.List(ctx, "usr_1", inbox.ListOptions{Category: category("weather")})
	assert.ErrorIs(t, err, inbox.ErrInvalidCategory)
}

func TestService_ListFilters(t *testing.T) {
	svc := seeded(t, 16)
	ctx := context.Background()

	page, err := svc.List(ctx, "usr_1", inbox.ListOptions{Category: category(notification.CategorySecurity)})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	for _, item := range page.Items {
		assert.Equal(t, notification.CategorySecurity, item.Category)
	}
	assert.Equal(t, 16, page.Unread, "unread count ignores the category filter")

	require.NoError(t, svc.MarkRead(ctx, "usr_1", page.Items[0].ID))

	page, err = svc.List(ctx, "usr_1", inbox.ListOptions{UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 15, page.Total)
	assert.Equal(t, 15, page.Unread)
}

func TestService_MarkRead(t *testing.T) {
	svc := seeded(t, 3)
	ctx := context.Background()

	require.NoError(t, svc.MarkRead(ctx, "usr_1", "ntf_seed_001"))
	require.NoError(t, svc.MarkRead(ctx, "usr_1", "ntf_seed_001"))

	count, err := svc.UnreadCount(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	err = svc.MarkRead(ctx, "usr_1", "missing")
	assert.ErrorIs(t, err, inbox.ErrNotificationNotFound)

	err = svc.MarkRead(ctx, "usr_2", "ntf_seed_002")
	assert.ErrorIs(t, err, inbox.ErrNotificationNotFound)
}

func TestService_MarkAllRead(t *testing.T) {
	svc := seeded(t, 16)
	ctx := context.Background()

	n, err := svc.MarkAllRead(ctx, "usr_1", category(notification.CategoryCashback))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.MarkAllRead(ctx, "usr_1", nil)
	require.NoError(t, err)
	assert.Equal(t, 14, n)

	n, err = svc.MarkAllRead(ctx, "usr_1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_Delete(t *testing.T) {
	svc := seeded(t, 3)
	ctx := context.Background()

	require.NoError(t, svc.Delete(ctx, "usr_1", "ntf_seed_002"))
	require.NoError(t, svc.Delete(ctx, "usr_1", "ntf_seed_002"))

	page, err := svc.List(ctx, "usr_1", inbox.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, "ntf_seed_003", page.Items[0].ID)
	assert.Equal(t, "ntf_seed_001", page.Items[1].ID)
}

func TestService_DeleteAll(t *testing.T) {
	svc := seeded(t, 16)
	ctx := context.Background()

	n, err := svc.DeleteAll(ctx, "usr_1", category(notification.CategoryMarketing))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.DeleteAll(ctx, "usr_1", nil)
	require.NoError(t, err)
	assert.Equal(t, 14, n)

	count, err := svc.UnreadCount(ctx, "usr_1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestService_PublishSkipsExpired(t *testing.T) {
	svc := inbox.NewService(inbox.NewInMemoryRepository(), zerolog.Nop())
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	_, err := svc.Publish(ctx, "usr_1", inbox.PublishInput{Title: "old", Category: notification.CategorySystem, ExpiresAt: &past})
	require.NoError(t, err)
	rec, err := svc.Publish(ctx, "usr_1", inbox.PublishInput{Title: "new", Category: notification.CategorySystem})
	require.NoError(t, err)
	assert.Equal(t, notification.PriorityNormal, rec.Priority)

	page, err := svc.List(ctx, "usr_1", inbox.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, rec.ID, page.Items[0].ID)
	assert.Equal(t, 1, page.Unread)

	_, err = svc.Publish(ctx, "usr_1", inbox.PublishInput{Title: "bad", Category: "weather"})
	assert.ErrorIs(t, err, inbox.ErrInvalidCategory)
}

func TestService_Preferences(t *testing.T) {
	svc := inbox.NewService(inbox.NewInMemoryRepository(), zerolog.Nop())
	ctx := context.Background()

	prefs, err := svc.GetPreferences(ctx, "usr_1")
	require.NoError(t, err)
	assert.True(t, prefs.PushEnabled)
	assert.False(t, prefs.EmailEnabled)

	start, end := "22:00", "07:30"
	saved, err := svc.UpdatePreferences(ctx, "usr_1", notification.Preferences{
		PushEnabled:     true,
		Categories:      map[notification.Category]bool{notification.CategoryMarketing: false},
		QuietHoursStart: &start,
		QuietHoursEnd:   &end,
	})
	require.NoError(t, err)
	assert.False(t, saved.CategoryEnabled(notification.CategoryMarketing))
	assert.True(t, saved.CategoryEnabled(notification.CategorySecurity))
	require.NotNil(t, saved.QuietHoursStart)
	assert.Equal(t, "22:00", *saved.QuietHoursStart)

	bad := "25:99"
	_, err = svc.UpdatePreferences(ctx, "usr_1", notification.Preferences{QuietHoursStart: &bad})
	assert.ErrorIs(t, err, inbox.ErrInvalidQuietHours)

	_, err = svc.UpdatePreferences(ctx, "usr_1", notification.Preferences{
		Categories: map[notification.Category]bool{"weather": true},
	})
	assert.ErrorIs(t, err, inbox.ErrInvalidCategory)
}
