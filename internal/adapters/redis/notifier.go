package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/cachekeys"
	"gitlab.com/timkado/api/storefront-edge/pkg/safego"
)

// NotificationPubSub publishes user notifications on Redis channels and lets
// the edge stream them back to connected clients.
type NotificationPubSub struct {
	redisClient *redis.Client
	logger      domain.Logger
}

func NewNotificationPubSub(redisClient *redis.Client, logger domain.Logger) *NotificationPubSub {
	return &NotificationPubSub{redisClient: redisClient, logger: logger}
}

// Notify publishes n on the channel of n.UserID, or on the broadcast channel
// when n.Broadcast is set.
func (a *NotificationPubSub) Notify(ctx context.Context, n domain.Notification) error {
	var channel string
	switch {
	case n.Broadcast:
		channel = cachekeys.BroadcastChannel
	case n.UserID != "":
		channel = cachekeys.NotificationChannel(n.UserID)
	default:
		return domain.ErrUnaddressedNotification
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := a.redisClient.Publish(ctx, channel, payload).Err(); err != nil {
		a.logger.Error(ctx, "Failed to publish notification to Redis", "channel", channel, "error", err.Error())
		return fmt.Errorf("failed to publish to Redis channel '%s': %w", channel, err)
	}
	return nil
}

// Subscribe listens on the user's channel and the broadcast channel. The returned
// channel is closed when ctx is done or the cancel func is called.
func (a *NotificationPubSub) Subscribe(ctx context.Context, userID string) (<-chan domain.Notification, func(), error) {
	channels := []string{cachekeys.BroadcastChannel}
	if userID != "" {
		channels = append(channels, cachekeys.NotificationChannel(userID))
	}

	sub := a.redisClient.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to notification channels: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan domain.Notification, 16)
	safego.Execute(subCtx, a.logger, "NotificationSubscriber", func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n domain.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					a.logger.Warn(subCtx, "Skipping malformed notification", "channel", msg.Channel, "error", err.Error())
					continue
				}
				select {
				case out <- n:
				case <-subCtx.Done():
					return
				}
			}
		}
	})
	return out, cancel, nil
}
