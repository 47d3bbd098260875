package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const eventBufferSize = 32

func changesChannel(table string) string {
	return "changes:" + table
}

// ChangeFeed publishes row-change events and opens subscriptions to them.
// All subscribers of a table share one Redis channel.
type ChangeFeed struct {
	rdb *goredis.Client
}

var (
	_ domain.ChangeFeed      = (*ChangeFeed)(nil)
	_ domain.ChangePublisher = (*ChangeFeed)(nil)
)

func NewChangeFeed(rdb *goredis.Client) *ChangeFeed {
	return &ChangeFeed{rdb: rdb}
}

func (f *ChangeFeed) PublishChange(ctx context.Context, event domain.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	if err := f.rdb.Publish(ctx, changesChannel(event.Table), data).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	metrics.ChangeEventsPublished.WithLabelValues(event.Table).Inc()
	return nil
}

// Subscribe waits for Redis to confirm the subscription before returning.
// channel names the logical channel for logs only.
func (f *ChangeFeed) Subscribe(ctx context.Context, channel, table string) (domain.ChangeSubscription, error) {
	sub := f.rdb.Subscribe(ctx, changesChannel(table))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	s := &subscription{
		sub:     sub,
		channel: channel,
		table:   table,
		events:  make(chan domain.ChangeEvent, eventBufferSize),
		done:    make(chan struct{}),
	}
	go s.pump()

	slog.Debug("Realtime channel subscribed", "channel", channel, "table", table)
	return s, nil
}

type subscription struct {
	sub       *goredis.PubSub
	channel   string
	table     string
	events    chan domain.ChangeEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) Events() <-chan domain.ChangeEvent {
	return s.events
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.sub.Close()
	})
	return err
}

func (s *subscription) pump() {
	defer close(s.events)

	msgCh := s.sub.Channel()
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			var event domain.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Warn("Failed to decode change event", "channel", s.channel, "error", err)
				continue
			}
			metrics.ChangeEventsReceived.WithLabelValues(s.table).Inc()

			select {
			case s.events <- event:
			default:
				// Consumers refetch on the next event; dropping one is harmless.
				metrics.ChangeEventsDropped.WithLabelValues(s.table).Inc()
			}
		case <-s.done:
			return
		}
	}
}
