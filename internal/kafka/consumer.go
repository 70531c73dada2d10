package kafka

import (
	"context"
	"fmt"
	"strings"

	"assoc-messaging/internal/config"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

// MessageHandler processes one consumed record. A nil error commits its offset.
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// MessageConsumer defines the interface for a Kafka message consumer.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error
	Close()
}

// confluentKafkaConsumer is an implementation of MessageConsumer using confluent-kafka-go.
type confluentKafkaConsumer struct {
	consumer *kafka.Consumer
	cfg      config.KafkaConfig
	groupID  string
	log      *logrus.Entry
}

// NewConfluentKafkaConsumer prepares a consumer; the librdkafka handle is
// created by Consume once the group id is known.
func NewConfluentKafkaConsumer(cfg config.KafkaConfig) (MessageConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: no brokers configured")
	}
	return &confluentKafkaConsumer{cfg: cfg, log: logrus.WithField("component", "kafka_consumer")}, nil
}

func consumerConfig(cfg config.KafkaConfig, groupID string) *kafka.ConfigMap {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers": strings.Join(cfg.Brokers, ","),
		"group.id":          groupID,
		// live fan-out: a fresh group starts at the tail, not at old history
		"auto.offset.reset":  "latest",
		"enable.auto.commit": "false",
		"security.protocol":  cfg.Protocol,
	}
	if cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", cfg.ClientID)
	}
	return configMap
}

// Consume polls until ctx is cancelled or a fatal error occurs.
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error {
	if len(topics) == 0 {
		return fmt.Errorf("kafka consumer: no topics specified")
	}
	c.groupID = groupID
	log := c.log.WithFields(logrus.Fields{"group_id": groupID, "topics": topics})

	consumer, err := kafka.NewConsumer(consumerConfig(c.cfg, groupID))
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer for group %s: %w", groupID, err)
	}
	c.consumer = consumer

	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		_ = c.consumer.Close()
		c.consumer = nil
		return fmt.Errorf("failed to subscribe to topics %v for group %s: %w", topics, groupID, err)
	}

	log.Info("kafka consumer started")

	for {
		select {
		case <-ctx.Done():
			log.Info("kafka consumer loop finished")
			return nil
		default:
		}

		ev := c.consumer.Poll(1000)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := handler(ctx, e); err != nil {
				log.WithFields(logrus.Fields{"offset": e.TopicPartition.Offset, "error": err}).Warn("failed to process record")
				continue
			}
			if _, err := c.consumer.CommitMessage(e); err != nil {
				log.WithFields(logrus.Fields{"offset": e.TopicPartition.Offset, "error": err}).Warn("failed to commit offset")
			}
		case kafka.Error:
			log.WithFields(logrus.Fields{"code": e.Code(), "fatal": e.IsFatal(), "error": e}).Error("kafka consumer error")
			if e.IsFatal() {
				return e
			}
		case kafka.AssignedPartitions:
			log.WithField("partitions", e.Partitions).Info("partitions assigned")
			c.consumer.Assign(e.Partitions)
		case kafka.RevokedPartitions:
			log.WithField("partitions", e.Partitions).Info("partitions revoked")
			c.consumer.Unassign()
		}
	}
}

// Close closes the Kafka consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	if err := c.consumer.Close(); err != nil {
		c.log.WithFields(logrus.Fields{"group_id": c.groupID, "error": err}).Warn("error closing kafka consumer")
	}
	c.consumer = nil
}
