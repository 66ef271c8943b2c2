// Package monitor ingests monitoring events and routes them into the
// core as incidents.
package monitor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Message is one raw event from a monitoring topic.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Consumer is the event source the intake drains.
type Consumer interface {
	Start(ctx context.Context) error
	Messages() <-chan Message
	Close() error
}

// KafkaConsumer reads monitoring events from Kafka topics.
type KafkaConsumer struct {
	brokers []string
	groupID string
	topics  []string
	readers []*kafka.Reader
	msgs    chan Message
	mu      sync.Mutex
}

// NewKafkaConsumer creates a consumer for the given topics.
func NewKafkaConsumer(brokers []string, groupID string, topics []string) *KafkaConsumer {
	return &KafkaConsumer{
		brokers: brokers,
		groupID: groupID,
		topics:  topics,
		msgs:    make(chan Message, 100),
	}
}

// Start begins consuming from all configured topics.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	for _, topic := range c.topics {
		c.startReader(ctx, topic)
	}
	return nil
}

func (c *KafkaConsumer) startReader(ctx context.Context, topic string) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.brokers,
		Topic:    topic,
		GroupID:  c.groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	c.mu.Lock()
	c.readers = append(c.readers, reader)
	c.mu.Unlock()

	go func() {
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("Monitor consumer read error", "topic", topic, "error", err)
				continue
			}
			c.msgs <- Message{Topic: topic, Key: msg.Key, Value: msg.Value}
		}
	}()
}

// Messages returns the channel of consumed events.
func (c *KafkaConsumer) Messages() <-chan Message {
	return c.msgs
}

// Close stops all readers.
func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.readers {
		r.Close()
	}
	close(c.msgs)
	return nil
}

// ChannelConsumer is an in-process Consumer backed by a Go channel.
type ChannelConsumer struct {
	ch chan Message
}

// NewChannelConsumer creates an in-process consumer.
func NewChannelConsumer() *ChannelConsumer {
	return &ChannelConsumer{ch: make(chan Message, 100)}
}

func (c *ChannelConsumer) Start(ctx context.Context) error { return nil }
func (c *ChannelConsumer) Messages() <-chan Message        { return c.ch }
func (c *ChannelConsumer) Close() error {
	close(c.ch)
	return nil
}

// Send pushes a message into the consumer.
func (c *ChannelConsumer) Send(msg Message) {
	c.ch <- msg
}
