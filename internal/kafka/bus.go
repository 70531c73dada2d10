package kafka

import (
	"context"
	"fmt"
	"sync"

	"assoc-messaging/internal/config"
	"assoc-messaging/internal/fanout"
	"assoc-messaging/internal/imtypes"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

// Bus is a fanout.Bus over one Kafka topic. Records are keyed by
// conversation so a conversation's events stay ordered within a partition.
type Bus struct {
	producer MessageProducer
	consumer MessageConsumer
	topic    string
	groupID  string
	log      *logrus.Entry

	mu       sync.RWMutex
	handlers []fanout.Handler
	started  bool
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewBus connects a producer and a consumer. instanceID is appended to the
// configured consumer group so every gateway instance receives every event.
func NewBus(cfg config.KafkaConfig, instanceID string) (*Bus, error) {
	if cfg.EventsTopic == "" {
		return nil, fmt.Errorf("kafka events topic is required")
	}
	consumer, err := NewConfluentKafkaConsumer(cfg)
	if err != nil {
		return nil, err
	}
	producer, err := NewConfluentKafkaProducer(cfg)
	if err != nil {
		return nil, err
	}
	return newBus(producer, consumer, cfg.EventsTopic, groupFor(cfg.ConsumerGroup, instanceID)), nil
}

func newBus(p MessageProducer, c MessageConsumer, topic, groupID string) *Bus {
	return &Bus{
		producer: p,
		consumer: c,
		topic:    topic,
		groupID:  groupID,
		log:      logrus.WithFields(logrus.Fields{"component": "kafka_bus", "topic": topic}),
	}
}

func groupFor(base, instanceID string) string {
	if instanceID == "" {
		return base
	}
	return base + "-" + instanceID
}

// eventKey picks the partition key: the conversation, or the user for presence.
func eventKey(ev imtypes.Event) []byte {
	switch {
	case ev.ConversationID != "":
		return []byte(ev.ConversationID)
	case ev.Presence != nil:
		return []byte("presence:" + ev.Presence.UserID)
	default:
		return nil
	}
}

func (b *Bus) Publish(ctx context.Context, ev imtypes.Event) error {
	data, err := fanout.Encode(ev)
	if err != nil {
		return err
	}
	if err := b.producer.SendMessage(ctx, b.topic, eventKey(ev), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

// Subscribe registers h. The first call starts the consumer loop.
func (b *Bus) Subscribe(h fanout.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fanout.ErrClosed
	}
	b.handlers = append(b.handlers, h)
	if b.started {
		return nil
	}
	b.started = true

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		if err := b.consumer.Consume(ctx, []string{b.topic}, b.groupID, b.handle); err != nil {
			b.log.WithField("error", err).Error("kafka consumer stopped")
		}
	}()
	return nil
}

// handle decodes one record. Malformed records are logged and committed so
// they are not redelivered.
func (b *Bus) handle(_ context.Context, msg *kafka.Message) error {
	ev, err := fanout.Decode(msg.Value)
	if err != nil {
		b.log.WithField("error", err).Warn("discarding malformed event")
		return nil
	}
	b.mu.RLock()
	handlers := append([]fanout.Handler(nil), b.handlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// Close stops the consumer loop and flushes the producer.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel, done := b.cancel, b.done
	b.handlers = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	b.consumer.Close()
	b.producer.Close()
	return nil
}

var _ fanout.Bus = (*Bus)(nil)
