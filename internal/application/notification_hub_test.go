package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

func TestNotificationHubRoutesByUser(t *testing.T) {
	ctx := context.Background()
	hub := NewNotificationHub(nopLogger{})

	jane, cancelJane, err := hub.Subscribe(ctx, "u-1")
	require.NoError(t, err)
	defer cancelJane()
	bob, cancelBob, err := hub.Subscribe(ctx, "u-2")
	require.NoError(t, err)
	defer cancelBob()

	require.NoError(t, hub.Notify(ctx, domain.Notification{UserID: "u-1", Message: "for jane"}))
	require.NoError(t, hub.Notify(ctx, domain.Notification{Message: "for all", Broadcast: true}))

	assert.Equal(t, "for jane", (<-jane).Message)
	assert.Equal(t, "for all", (<-jane).Message)
	assert.Equal(t, "for all", (<-bob).Message)
	assert.Empty(t, bob)
}

func TestNotificationHubRejectsUnaddressed(t *testing.T) {
	ctx := context.Background()
	hub := NewNotificationHub(nopLogger{})
	ch, cancel, err := hub.Subscribe(ctx, "u-1")
	require.NoError(t, err)
	defer cancel()

	err = hub.Notify(ctx, domain.Notification{Message: "to nobody"})
	assert.ErrorIs(t, err, domain.ErrUnaddressedNotification)
	assert.Empty(t, ch)
}

func TestNotificationHubClosesOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewNotificationHub(nopLogger{})
	ch, unsubscribe, err := hub.Subscribe(ctx, "u-1")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed")
	}
	unsubscribe()
	assert.Zero(t, hub.Subscribers())
}
