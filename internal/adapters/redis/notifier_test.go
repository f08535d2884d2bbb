package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

func TestNotificationPubSubDeliversUserAndBroadcast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, client := newTestClient(t)
	ps := NewNotificationPubSub(client, nopLogger{})

	ch, stop, err := ps.Subscribe(ctx, "u-1")
	require.NoError(t, err)
	defer stop()

	require.NoError(t, ps.Notify(ctx, domain.Notification{Level: domain.NotificationWarning, Message: "for you", UserID: "u-1"}))
	require.NoError(t, ps.Notify(ctx, domain.Notification{Level: domain.NotificationInfo, Message: "someone else", UserID: "u-2"}))
	require.NoError(t, ps.Notify(ctx, domain.Notification{Level: domain.NotificationError, Message: "everyone", Broadcast: true}))
	assert.ErrorIs(t, ps.Notify(ctx, domain.Notification{Level: domain.NotificationError, Message: "anonymous"}), domain.ErrUnaddressedNotification)

	var got []string
	for len(got) < 2 {
		select {
		case n := <-ch:
			got = append(got, n.Message)
		case <-ctx.Done():
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.ElementsMatch(t, []string{"for you", "everyone"}, got)
	select {
	case n := <-ch:
		t.Fatalf("unexpected notification %q", n.Message)
	case <-time.After(50 * time.Millisecond):
	}

	stop()
	for range ch {
	}
}
