package redisnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/outbox/ext"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobAdded     = (*Extension)(nil)
	_ ext.JobStarted   = (*Extension)(nil)
	_ ext.JobProcessed = (*Extension)(nil)
	_ ext.JobRetried   = (*Extension)(nil)
	_ ext.JobsPurged   = (*Extension)(nil)
)

// DefaultChannel is the channel used when none is configured.
const DefaultChannel = "outbox:events"

// Publisher is the part of a Redis client the extension uses.
// redis.UniversalClient satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Extension publishes lifecycle events to Redis.
type Extension struct {
	client  Publisher
	channel string
	enabled map[string]bool // nil = all enabled
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Extension publishing through client.
func New(client Publisher, opts ...Option) *Extension {
	h := &Extension{
		client:  client,
		channel: DefaultChannel,
		timeout: 2 * time.Second,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements ext.Extension.
func (h *Extension) Name() string { return "redis-notify" }

// Channel returns the pub/sub channel.
func (h *Extension) Channel() string { return h.channel }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobAdded implements ext.JobAdded.
func (h *Extension) OnJobAdded(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobAdded, newJobPayload(j))
}

// OnJobStarted implements ext.JobStarted.
func (h *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobStarted, newJobPayload(j))
}

// OnJobProcessed implements ext.JobProcessed.
func (h *Extension) OnJobProcessed(ctx context.Context, p ext.Processed) error {
	eventType, payload := newProcessedPayload(p)
	return h.send(ctx, eventType, payload)
}

// OnJobRetried implements ext.JobRetried.
func (h *Extension) OnJobRetried(ctx context.Context, j *job.Job) error {
	return h.send(ctx, EventJobRetried, newJobPayload(j))
}

// OnJobsPurged implements ext.JobsPurged.
func (h *Extension) OnJobsPurged(ctx context.Context, status job.Status, count int64) error {
	return h.send(ctx, EventJobsPurged, &purgedPayload{Status: string(status), Count: count})
}

// send marshals one message and publishes it, unless eventType is
// disabled.
func (h *Extension) send(ctx context.Context, eventType string, payload any) error {
	if h.enabled != nil && !h.enabled[eventType] {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redisnotify: marshal %s: %w", eventType, err)
	}
	msg, err := json.Marshal(Message{
		ID:        id.NewEventID().String(),
		Type:      eventType,
		Timestamp: h.now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("redisnotify: marshal message: %w", err)
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	if err := h.client.Publish(ctx, h.channel, msg).Err(); err != nil {
		return fmt.Errorf("redisnotify: publish %s: %w", eventType, err)
	}

	h.logger.Debug("lifecycle event published",
		slog.String("channel", h.channel),
		slog.String("event", eventType),
	)
	return nil
}
