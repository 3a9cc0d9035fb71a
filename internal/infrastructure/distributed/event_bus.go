package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/pkg/batch"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultQueueSize     = 256
	defaultBatchSize     = 32
	defaultBatchInterval = 20 * time.Millisecond
)

// Envelope is a view event as published on the bus.
type Envelope struct {
	InstanceID  string       `json:"instance_id"`
	PublishedAt time.Time    `json:"published_at"`
	Event       domain.Event `json:"event"`
}

// EventBus fans view events out to other instances over Redis pub/sub.
// Deliver never blocks the caller; Run publishes queued events in pipelined
// batches.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger

	batcher *batch.Batcher[domain.Event]
	dropped atomic.Int64
}

var _ ports.EventSink = (*EventBus)(nil)

func NewEventBus(client *redis.Client, channel, instanceID string, logger *zap.SugaredLogger) *EventBus {
	eb := &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
	eb.batcher = batch.New(defaultBatchSize, defaultBatchInterval, defaultQueueSize, eb.publishBatch)
	return eb
}

// Deliver queues event for publishing. Events are dropped while the queue
// is full.
func (eb *EventBus) Deliver(event domain.Event) {
	if !eb.batcher.Add(event) {
		if n := eb.dropped.Add(1); n == 1 || n%100 == 0 {
			eb.logger.Warnw("Event bus queue full, dropping events", "dropped", n, "type", event.Type)
		}
	}
}

// Dropped returns how many events were dropped on a full queue.
func (eb *EventBus) Dropped() int64 { return eb.dropped.Load() }

// Run publishes queued events until ctx is done. Events still queued at that
// point get one last flush.
func (eb *EventBus) Run(ctx context.Context) error {
	eb.batcher.Run(ctx, func(err error) {
		eb.logger.Warnw("Failed to publish events", "error", err)
	})
	return nil
}

func (eb *EventBus) publishBatch(ctx context.Context, events []domain.Event) error {
	_, err := eb.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, event := range events {
			data, err := eb.encode(event)
			if err != nil {
				eb.logger.Errorw("Skipping unencodable event", "type", event.Type, "error", err)
				continue
			}
			pipe.Publish(ctx, eb.channel, data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish %d events: %w", len(events), err)
	}
	eb.logger.Debugw("Published events", "count", len(events))
	return nil
}

func (eb *EventBus) encode(event domain.Event) ([]byte, error) {
	data, err := json.Marshal(Envelope{
		InstanceID:  eb.instanceID,
		PublishedAt: time.Now(),
		Event:       event,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// decode returns the envelope and whether it came from another instance.
func (eb *EventBus) decode(payload string) (Envelope, bool, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return env, false, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return env, env.InstanceID != eb.instanceID, nil
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event domain.Event) error {
	data, err := eb.encode(event)
	if err != nil {
		return err
	}
	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("Published event",
		"type", event.Type,
		"view_tag", event.ViewTag,
	)
	return nil
}

// Subscribe calls handler for every event published by other instances.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(Envelope)) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, remote, err := eb.decode(msg.Payload)
			if err != nil {
				eb.logger.Warnw("Dropping malformed event", "error", err, "payload", msg.Payload)
				continue
			}
			if !remote {
				continue
			}
			handler(env)
		}
	}
}
