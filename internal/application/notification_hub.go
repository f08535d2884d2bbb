package application

import (
	"context"
	"sync"

	"gitlab.com/timkado/api/storefront-edge/internal/domain"
)

const hubBufferSize = 16

// NotificationHub is the in-process notifier used when Redis is disabled. Only
// notifications flagged Broadcast go to every subscriber; slow subscribers
// drop notifications instead of blocking the publisher.
type NotificationHub struct {
	logger domain.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]hubSubscriber
}

type hubSubscriber struct {
	userID string
	ch     chan domain.Notification
}

func NewNotificationHub(logger domain.Logger) *NotificationHub {
	return &NotificationHub{logger: logger, subs: make(map[int]hubSubscriber)}
}

func (h *NotificationHub) Notify(ctx context.Context, n domain.Notification) error {
	if n.UserID == "" && !n.Broadcast {
		return domain.ErrUnaddressedNotification
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, sub := range h.subs {
		if !n.Broadcast && n.UserID != sub.userID {
			continue
		}
		select {
		case sub.ch <- n:
		default:
			h.logger.Warn(ctx, "Dropping notification for slow subscriber", "subscriber", id, "user_id", sub.userID)
		}
	}
	return nil
}

// Subscribe registers a subscriber for userID. The channel is closed when ctx
// is done or the returned func is called.
func (h *NotificationHub) Subscribe(ctx context.Context, userID string) (<-chan domain.Notification, func(), error) {
	ch := make(chan domain.Notification, hubBufferSize)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = hubSubscriber{userID: userID, ch: ch}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	context.AfterFunc(ctx, cancel)
	return ch, cancel, nil
}

// Subscribers returns the number of open subscriptions.
func (h *NotificationHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
