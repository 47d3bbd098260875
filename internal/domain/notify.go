package domain

import (
	"context"

	"github.com/google/uuid"
)

type NotificationLevel string

const (
	NotifySuccess NotificationLevel = "success"
	NotifyError   NotificationLevel = "error"
)

// Notification is a user-visible toast.
type Notification struct {
	UserID  uuid.UUID         `json:"user_id"`
	Level   NotificationLevel `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
}

// Notifier delivers toasts. Delivery is fire-and-forget: implementations log
// failures instead of returning them.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotificationStream is one user's live toast feed. Notifications is closed
// after Close.
type NotificationStream interface {
	Notifications() <-chan Notification
	Close() error
}

type NotificationSubscriber interface {
	SubscribeNotifications(ctx context.Context, userID uuid.UUID) (NotificationStream, error)
}
