package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/outbox/ext"
	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Broker)(nil)
	_ ext.JobAdded     = (*Broker)(nil)
	_ ext.JobStarted   = (*Broker)(nil)
	_ ext.JobProcessed = (*Broker)(nil)
	_ ext.JobRetried   = (*Broker)(nil)
	_ ext.JobsPurged   = (*Broker)(nil)
	_ ext.Shutdown     = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker is the real-time stream broker. It receives lifecycle events as
// an extension and fans them out to subscribers by topic.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger
	now    func() time.Time

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64
	totalDelivered atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithClock overrides the clock used to stamp events.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:     NewTopicRegistry(),
		logger:     logger,
		now:        time.Now,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	return b.SubscribeFiltered(subscriberID, nil, topics...)
}

// SubscribeFiltered is Subscribe with an event filter installed before
// the subscriber can receive anything.
func (b *Broker) SubscribeFiltered(subscriberID string, filter func(*Event) bool, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)
	sub.SetFilter(filter)
	if old, loaded := b.subscribers.Swap(subscriberID, sub); loaded {
		b.topics.UnsubscribeAll(subscriberID)
		old.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDelivered  int64 `json:"total_delivered"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Stats returns broker statistics. Dropped counts only subscribers that
// are still connected.
func (b *Broker) Stats() BrokerStats {
	stats := BrokerStats{
		TopicCount:     b.topics.TopicCount(),
		TotalPublished: b.totalPublished.Load(),
		TotalDelivered: b.totalDelivered.Load(),
	}
	b.subscribers.Range(func(_, v any) bool {
		stats.SubscriberCount++
		stats.TotalDropped += v.(*Subscriber).Dropped() //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return stats
}

// Publish broadcasts evt to the firehose plus any extra topics. Job
// events also go to the jobs topic and to evt.Topic.
func (b *Broker) Publish(evt *Event, extra ...string) {
	if evt.ID.IsNil() {
		evt.ID = id.NewEventID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now().UTC()
	}
	delivered := b.topics.Broadcast(resolveTopics(evt, extra), evt)
	b.totalPublished.Add(1)
	b.totalDelivered.Add(int64(delivered))
}

func (b *Broker) publishJob(typ EventType, data JobEventData) {
	extra := []string{TypeTopic(data.Type)}
	if data.CorrelationID != "" {
		extra = append(extra, CorrelationTopic(data.CorrelationID))
	}
	b.Publish(&Event{
		Type:  typ,
		Topic: JobTopic(data.JobID),
		Data:  mustMarshal(data),
	}, extra...)
}

// resolveTopics returns all topics an event is published to.
func resolveTopics(evt *Event, extra []string) []string {
	topics := []string{TopicFirehose}
	if strings.HasPrefix(string(evt.Type), "job.") {
		topics = append(topics, TopicJobs)
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	return append(topics, extra...)
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

func jobData(j *job.Job) JobEventData {
	return JobEventData{
		JobID:         j.ID.String(),
		Type:          string(j.Type),
		CorrelationID: j.CorrelationID,
		Status:        string(j.Status),
		Attempts:      j.Attempts,
		Error:         j.Error,
	}
}

// ── Job lifecycle hooks ─────────────────────────────

func (b *Broker) OnJobAdded(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobAdded, jobData(j))
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobStarted, jobData(j))
	return nil
}

func (b *Broker) OnJobProcessed(_ context.Context, p ext.Processed) error {
	data := JobEventData{
		JobID:         p.JobID.String(),
		Type:          string(p.Type),
		CorrelationID: p.CorrelationID,
		Status:        string(p.Status),
		Attempts:      p.Attempts,
		ElapsedMs:     p.Elapsed.Milliseconds(),
		Error:         p.Error,
	}

	var typ EventType
	switch p.Outcome {
	case ext.OutcomeSucceeded:
		typ = EventJobSucceeded
	case ext.OutcomeRetrying:
		typ = EventJobFailed
		data.Status = string(job.StatusFailed)
		if !p.NextRunAt.IsZero() {
			data.NextRunAt = p.NextRunAt.UTC().Format(time.RFC3339)
		}
	default:
		typ = EventJobDead
	}
	b.publishJob(typ, data)
	return nil
}

func (b *Broker) OnJobRetried(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobRetried, jobData(j))
	return nil
}

func (b *Broker) OnJobsPurged(_ context.Context, status job.Status, count int64) error {
	b.Publish(&Event{
		Type: EventJobsPurged,
		Data: mustMarshal(PurgeEventData{Status: string(status), Count: count}),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		b.topics.UnsubscribeAll(key.(string)) //nolint:errcheck // keys are subscriber IDs
		value.(*Subscriber).Close()           //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
