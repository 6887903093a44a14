package services

import (
	"context"
	"time"

	"github.com/rdmaulana/fcm-notification-service/internal/models"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMirror copies completion events onto a Kafka topic for consumers that
// do not sit on RabbitMQ.
type KafkaMirror struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaMirror(brokers []string, topic string) *KafkaMirror {
	return &KafkaMirror{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		timeout: 5 * time.Second,
	}
}

// Mirror writes one event keyed by identifier, so every event for the same
// notification lands on the same partition.
func (k *KafkaMirror) Mirror(ctx context.Context, event models.CompletionEvent, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Identifier),
		Value: body,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
}

func (k *KafkaMirror) Close() error {
	return k.writer.Close()
}
