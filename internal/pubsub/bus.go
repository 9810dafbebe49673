package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketmypractice/correlation-service/internal/config"
	"github.com/marketmypractice/correlation-service/internal/domain"
	"github.com/marketmypractice/correlation-service/internal/queue"
)

// sinkTimeout bounds the detached per-event SQS send.
const sinkTimeout = 5 * time.Second

// Publisher broadcasts domain events to subscribers. Publishing never
// blocks the writer: slow subscribers lose events locally (the queue
// sink still carries them) and the queue send runs detached.
type Publisher interface {
	Publish(ctx context.Context, topic domain.Topic, event domain.Event)
}

// Bus is the in-process publisher. Topics are resolved once at
// construction; subscribing to an unknown topic is an error, not a
// silent new stream. Delivery is at-least-once end to end, so consumers
// must deduplicate on event id.
type Bus struct {
	log    *zap.Logger
	sink   queue.TopicPublisher
	buffer int

	mu     sync.RWMutex
	subs   map[domain.Topic]map[int]chan domain.Event
	nextID int
}

// NewBus creates the bus with all known topics registered. sink may be
// nil to disable queue forwarding.
func NewBus(cfg config.Publisher, sink queue.TopicPublisher, log *zap.Logger) *Bus {
	subs := make(map[domain.Topic]map[int]chan domain.Event, len(domain.Topics()))
	for _, topic := range domain.Topics() {
		subs[topic] = make(map[int]chan domain.Event)
	}

	buffer := cfg.SubscriberBuffer
	if buffer <= 0 {
		buffer = 1
	}

	return &Bus{
		log:    log,
		sink:   sink,
		buffer: buffer,
		subs:   subs,
	}
}

// Subscribe registers a subscriber on a topic and returns its channel
// plus a cancel function.
func (b *Bus) Subscribe(topic domain.Topic) (<-chan domain.Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	channels, ok := b.subs[topic]
	if !ok {
		return nil, nil, &domain.ValidationError{Field: "topic", Reason: "unknown topic " + string(topic)}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan domain.Event, b.buffer)
	channels[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := channels[id]; ok {
			delete(channels, id)
			close(existing)
		}
	}
	return ch, cancel, nil
}

// Publish broadcasts the event to the topic's subscribers and forwards
// it to the queue sink. A full subscriber buffer drops the event for
// that subscriber with a warning rather than stalling the writer.
func (b *Bus) Publish(ctx context.Context, topic domain.Topic, event domain.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	b.mu.RLock()
	channels, ok := b.subs[topic]
	if !ok {
		b.mu.RUnlock()
		b.log.Warn("Publish to unknown topic dropped", zap.String("topic", string(topic)))
		return
	}
	for _, ch := range channels {
		select {
		case ch <- event:
		default:
			b.log.Warn("Subscriber buffer full, event dropped",
				zap.String("topic", string(topic)),
				zap.String("event_id", event.ID))
		}
	}
	b.mu.RUnlock()

	if b.sink != nil {
		go func() {
			sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
			defer cancel()
			if err := b.sink.PublishEvent(sinkCtx, topic, event); err != nil {
				b.log.Error("Failed to forward event to queue",
					zap.String("topic", string(topic)),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}()
	}
}
