package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/metrics"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const notifyTimeout = 2 * time.Second

func notificationsChannel(userID uuid.UUID) string {
	return "notifications:" + userID.String()
}

// Notifier publishes toasts on the user's notification channel, where any
// instance holding a connection for that user picks them up.
type Notifier struct {
	rdb *goredis.Client
}

var (
	_ domain.Notifier               = (*Notifier)(nil)
	_ domain.NotificationSubscriber = (*Notifier)(nil)
)

func NewNotifier(rdb *goredis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

func (n *Notifier) Notify(ctx context.Context, note domain.Notification) {
	data, err := json.Marshal(note)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal notification", "error", err)
		metrics.NotificationsTotal.WithLabelValues(string(note.Level), "error").Inc()
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := n.rdb.Publish(pubCtx, notificationsChannel(note.UserID), data).Err(); err != nil {
		slog.WarnContext(ctx, "Failed to deliver notification", "user_id", note.UserID, "title", note.Title, "error", err)
		metrics.NotificationsTotal.WithLabelValues(string(note.Level), "error").Inc()
		return
	}
	metrics.NotificationsTotal.WithLabelValues(string(note.Level), "sent").Inc()
}

type notificationStream struct {
	sub *goredis.PubSub
	ch  <-chan domain.Notification
}

func (s *notificationStream) Notifications() <-chan domain.Notification {
	return s.ch
}

func (s *notificationStream) Close() error {
	return s.sub.Close()
}

// SubscribeNotifications streams toasts for userID until Close is called.
func (n *Notifier) SubscribeNotifications(ctx context.Context, userID uuid.UUID) (domain.NotificationStream, error) {
	sub := n.rdb.Subscribe(ctx, notificationsChannel(userID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	ch := make(chan domain.Notification, eventBufferSize)
	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var note domain.Notification
			if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
				slog.Warn("Failed to decode notification", "error", err)
				continue
			}
			select {
			case ch <- note:
			default:
			}
		}
	}()

	return &notificationStream{sub: sub, ch: ch}, nil
}
