package domain

import (
	"context"
	"errors"
	"time"
)

type NotificationLevel string

const (
	NotificationInfo    NotificationLevel = "info"
	NotificationWarning NotificationLevel = "warning"
	NotificationError   NotificationLevel = "error"
)

// NotificationAction is an affordance offered with a notification. Only "reload" exists today.
type NotificationAction struct {
	Label string `json:"label"`
	Kind  string `json:"kind"`
}

// Notification is the user-facing toast produced by the error handler.
type Notification struct {
	Level       NotificationLevel   `json:"level"`
	Message     string              `json:"message"`
	Description string              `json:"description,omitempty"`
	Code        ErrorCode           `json:"code,omitempty"`
	Dismissible bool                `json:"dismissible"`
	Action      *NotificationAction `json:"action,omitempty"`
	UserID      string              `json:"userId,omitempty"`
	Broadcast   bool                `json:"broadcast,omitempty"`
	RequestID   string              `json:"requestId,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

// ErrUnaddressedNotification is returned for a notification with neither a
// user id nor the Broadcast flag.
var ErrUnaddressedNotification = errors.New("notification has no recipient")

// Notifier delivers notifications to users.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotificationSubscriber streams notifications addressed to a user and the broadcast channel.
type NotificationSubscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan Notification, func(), error)
}

// ErrorReporter queues errors for remote reporting. Report must not block.
type ErrorReporter interface {
	Report(ctx context.Context, err *AppError)
}
