package device_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifysync/notifysync/internal/device"
	"github.com/notifysync/notifysync/internal/notification"
)

func newService() (*device.Service, *device.InMemoryRepository) {
	repo := device.NewInMemoryRepository()
	return device.NewService(repo, zerolog.Nop()), repo
}

func TestService_Register(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	endpoint, created, err := svc.Register(ctx, "usr_1", device.RegisterInput{
		Platform:   notification.PlatformIOS,
		Token:      "token-abcd1234",
		DeviceName: "Test iPhone",
		AppVersion: "1.2.3",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, endpoint.ID, "ep_")
	assert.Equal(t, "usr_1", endpoint.UserID)
	assert.Equal(t, "1234", endpoint.TokenLast4())
	require.NotNil(t, endpoint.DeviceName)
	assert.Equal(t, "Test iPhone", *endpoint.DeviceName)
}

func TestService_RegisterSameTokenKeepsEndpoint(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	input := device.RegisterInput{Platform: notification.PlatformAndroid, Token: "tok"}

	first, created, err := svc.Register(ctx, "usr_1", input)
	require.NoError(t, err)
	assert.True(t, created)

	input.AppVersion = "2.0.0"
	second, created, err := svc.Register(ctx, "usr_1", input)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.AppVersion)
	assert.Equal(t, "2.0.0", *second.AppVersion)
}

func TestService_RegisterMovesTokenToNewUser(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	input := device.RegisterInput{Platform: notification.PlatformIOS, Token: "shared"}

	first, _, err := svc.Register(ctx, "usr_1", input)
	require.NoError(t, err)

	_, _, err = svc.Register(ctx, "usr_2", input)
	require.NoError(t, err)

	list, err := svc.List(ctx, "usr_1")
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = svc.List(ctx, "usr_2")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)
}

func TestService_RegisterValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	tests := []struct {
		name  string
		input device.RegisterInput
		want  error
	}{
		{"missing token", device.RegisterInput{Platform: notification.PlatformIOS, Token: "  "}, device.ErrTokenRequired},
		{"unknown platform", device.RegisterInput{Platform: "windows", Token: "tok"}, device.ErrInvalidPlatform},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Register(ctx, "usr_1", tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestService_Unregister(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()

	endpoint, _, err := svc.Register(ctx, "usr_1", device.RegisterInput{Platform: notification.PlatformIOS, Token: "tok"})
	require.NoError(t, err)

	err = svc.Unregister(ctx, "usr_2", endpoint.ID)
	assert.ErrorIs(t, err, device.ErrEndpointNotFound)

	require.NoError(t, svc.Unregister(ctx, "usr_1", endpoint.ID))

	_, err = repo.GetByToken(ctx, "tok")
	assert.ErrorIs(t, err, device.ErrEndpointNotFound)

	err = svc.Unregister(ctx, "usr_1", endpoint.ID)
	assert.ErrorIs(t, err, device.ErrEndpointNotFound)
}

func TestInMemoryRepository_DeleteByUser(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()

	for _, tok := range []string{"a", "b"} {
		_, _, err := svc.Register(ctx, "usr_1", device.RegisterInput{Platform: notification.PlatformIOS, Token: tok})
		require.NoError(t, err)
	}
	_, _, err := svc.Register(ctx, "usr_2", device.RegisterInput{Platform: notification.PlatformIOS, Token: "c"})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteByUser(ctx, "usr_1"))

	list, err := repo.ListByUser(ctx, "usr_1")
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = repo.ListByUser(ctx, "usr_2")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
