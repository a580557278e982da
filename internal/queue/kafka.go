package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// KafkaPublisher publishes task references to a Kafka topic, keyed by task
// id so retries of the same document stay ordered within a partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	logger   *slog.Logger
}

func NewKafkaPublisher(bootstrap, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	producer, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": bootstrap})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := &KafkaPublisher{producer: producer, topic: topic, logger: logger}
	go func() {
		for e := range producer.Events() {
			if msg, ok := e.(*kafka.Message); ok && msg.TopicPartition.Error != nil {
				logger.Warn("Kafka delivery failed", "partition", msg.TopicPartition.String())
			}
		}
	}()
	return p, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	record := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(strconv.FormatInt(msg.TaskID, 10)),
		Value:          payload,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.producer.Produce(record, nil)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (p *KafkaPublisher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.producer.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// KafkaConsumer reads task references and feeds the shared worker channel.
type KafkaConsumer struct {
	consumer *kafka.Consumer
	topic    string
	msgs     chan Message
	logger   *slog.Logger
}

func NewKafkaConsumer(bootstrap, group, topic string, buffer int, logger *slog.Logger) (*KafkaConsumer, error) {
	if buffer <= 0 {
		buffer = 256
	}
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  bootstrap,
		"group.id":           group,
		"enable.auto.commit": true,
		"auto.offset.reset":  "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &KafkaConsumer{
		consumer: consumer,
		topic:    topic,
		msgs:     make(chan Message, buffer),
		logger:   logger,
	}, nil
}

func (c *KafkaConsumer) Start(ctx context.Context) error {
	if err := c.consumer.Subscribe(c.topic, nil); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}
	go c.consumeLoop(ctx)
	return nil
}

func (c *KafkaConsumer) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			raw, err := c.consumer.ReadMessage(time.Second)
			if err != nil {
				if kafkaErr, ok := err.(kafka.Error); ok && kafkaErr.Code() == kafka.ErrTimedOut {
					continue
				}
				c.logger.Warn("Kafka read failed", "error", err)
				continue
			}
			c.handleMessage(raw)
		}
	}
}

func (c *KafkaConsumer) handleMessage(raw *kafka.Message) {
	if raw == nil {
		return
	}
	var msg Message
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		c.logger.Warn("Dropping malformed queue message", "error", err)
		return
	}
	select {
	case c.msgs <- msg:
	default:
		// Worker channel is full; the monitor watermark re-publishes.
		c.logger.Warn("Worker channel full, dropping reference", "task_id", msg.TaskID)
	}
}

func (c *KafkaConsumer) Messages() <-chan Message {
	return c.msgs
}

func (c *KafkaConsumer) Close() error {
	if c.consumer == nil {
		return nil
	}
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("close kafka consumer: %w", err)
	}
	return nil
}
