package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	auditdb "github.com/trustpoll/trustpoll/pkg/db/audit"
	"go.uber.org/zap"
)

// Audit event fan-out locations.
const (
	ChannelAuditEvents = "trustpoll:audit:events"
	StreamAuditEvents  = "trustpoll:audit:stream"
)

// Listener retry bounds for the subscription loop.
const (
	listenRetryInterval    = time.Second
	listenMaxRetryInterval = 30 * time.Second
)

// Feed publishes appended audit events to Redis: Pub/Sub for live subscribers
// and a capped stream for short replay history. It satisfies the audit log's
// feed hook.
type Feed struct {
	client *Client
	logger *zap.Logger
}

// NewFeed wraps a connected client as an audit event feed.
func NewFeed(client *Client, logger *zap.Logger) *Feed {
	return &Feed{client: client, logger: logger.Named("feed")}
}

// PublishEvent fans one event out to the channel and the stream. Stream and
// channel writes are independently best-effort; only serialization can fail.
func (f *Feed) PublishEvent(ctx context.Context, e *auditdb.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("serialize audit event: %w", err)
	}

	f.client.XAdd(ctx, StreamAuditEvents, map[string]interface{}{
		"id":         e.ID,
		"event_type": e.EventType,
		"severity":   e.Severity,
		"event":      string(raw),
	})
	f.client.Publish(ctx, ChannelAuditEvents, string(raw))
	return nil
}

// Recent returns up to count recently published events, newest first, decoded
// from the replay stream.
func (f *Feed) Recent(ctx context.Context, count int64) ([]auditdb.Event, error) {
	messages, err := f.client.XRevRange(ctx, StreamAuditEvents, count)
	if err != nil {
		return nil, fmt.Errorf("read audit stream: %w", err)
	}

	events := make([]auditdb.Event, 0, len(messages))
	for _, msg := range messages {
		raw, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		var e auditdb.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			f.logger.Warn("Skipping undecodable stream entry", zap.String("entry_id", msg.ID))
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Listen subscribes to the live channel and delivers each decoded event to the
// handler, reconnecting with exponential backoff until the context is
// canceled. Handler errors are logged; they never stop the loop.
func (f *Feed) Listen(ctx context.Context, handler func(ctx context.Context, e auditdb.Event) error) error {
	retryInterval := listenRetryInterval

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pubsub := f.client.Subscribe(ctx, ChannelAuditEvents)
		ch := pubsub.Channel()

	receive:
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return ctx.Err()
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				retryInterval = listenRetryInterval

				var e auditdb.Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					f.logger.Warn("Skipping undecodable feed message", zap.Error(err))
					continue
				}
				if err := handler(ctx, e); err != nil {
					f.logger.Warn("Feed handler failed", zap.Int64("event_id", e.ID), zap.Error(err))
				}
			}
		}
		_ = pubsub.Close()

		f.logger.Warn("Audit feed subscription dropped, reconnecting",
			zap.Duration("retryIn", retryInterval))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
		retryInterval = min(retryInterval*2, listenMaxRetryInterval)
	}
}
