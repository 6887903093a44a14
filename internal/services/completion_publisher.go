package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rdmaulana/fcm-notification-service/internal/models"
	"github.com/rdmaulana/fcm-notification-service/pkg/metrics"
	"github.com/streadway/amqp"
)

// Publisher is the broker side of a completion announcement.
type Publisher interface {
	Publish(exchange, key string, msg amqp.Publishing) error
}

// EventMirror forwards completion events to a secondary sink.
type EventMirror interface {
	Mirror(ctx context.Context, event models.CompletionEvent, body []byte) error
}

// CompletionPublisher announces recorded deliveries on the fan-out exchange.
type CompletionPublisher struct {
	publisher Publisher
	exchange  string
	mirror    EventMirror
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewCompletionPublisher builds a publisher. mirror may be nil.
func NewCompletionPublisher(publisher Publisher, exchange string, mirror EventMirror, metrics *metrics.Metrics, logger *slog.Logger) *CompletionPublisher {
	return &CompletionPublisher{
		publisher: publisher,
		exchange:  exchange,
		mirror:    mirror,
		metrics:   metrics,
		logger:    logger,
	}
}

// Publish sends {"identifier","deliverAt"} as a persistent message with no
// routing key. Only the broker publish decides the returned error; a failing
// mirror is logged.
func (p *CompletionPublisher) Publish(ctx context.Context, identifier string, deliveredAt time.Time) error {
	event := models.NewCompletionEvent(identifier, deliveredAt)
	body, err := json.Marshal(event)
	if err != nil {
		p.metrics.IncCompletion(metrics.ResultFailure)
		return fmt.Errorf("encode completion event: %w", err)
	}

	err = p.publisher.Publish(p.exchange, "", amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    deliveredAt.UTC(),
		Body:         body,
	})
	if err != nil {
		p.metrics.IncCompletion(metrics.ResultFailure)
		return fmt.Errorf("publish to %s: %w", p.exchange, err)
	}
	p.metrics.IncCompletion(metrics.ResultSuccess)
	p.logger.Info("published to completion topic",
		slog.String("identifier", identifier),
		slog.String("topic", p.exchange),
	)

	if p.mirror != nil {
		if err := p.mirror.Mirror(ctx, event, body); err != nil {
			p.logger.Error("failed to mirror completion event",
				slog.String("identifier", identifier),
				slog.Any("error", err),
			)
		}
	}
	return nil
}
