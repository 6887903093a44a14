package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rdmaulana/fcm-notification-service/internal/models"
	"github.com/rdmaulana/fcm-notification-service/internal/repository"
	"github.com/rdmaulana/fcm-notification-service/pkg/metrics"
	"github.com/streadway/amqp"
)

// Stage is where processing of one message ended.
type Stage string

const (
	StageRejected             Stage = "rejected"
	StageAckFailed            Stage = "ack_failed"
	StageStoppedAfterDelivery Stage = "stopped_after_delivery"
	StageStoppedAfterPersist  Stage = "stopped_after_persist"
	StageStoppedAfterPanic    Stage = "stopped_after_panic"
	StagePublished            Stage = "published"
)

// DeliveryGateway sends one push and reports the outcome; it never fails.
type DeliveryGateway interface {
	Send(ctx context.Context, req *models.NotificationRequest) models.DeliveryOutcome
}

// DeliveryRecorder writes the idempotency marker.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, identifier string, deliveredAt time.Time) (repository.RecordResult, error)
}

// CompletionAnnouncer publishes the completion event.
type CompletionAnnouncer interface {
	Publish(ctx context.Context, identifier string, deliveredAt time.Time) error
}

// Pipeline processes queue messages one at a time:
// parse, validate, ack, send, record, publish. Nothing after the ack can
// send the message back to the broker.
type Pipeline struct {
	gateway   DeliveryGateway
	store     DeliveryRecorder
	publisher CompletionAnnouncer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewPipeline(
	gateway DeliveryGateway,
	store DeliveryRecorder,
	publisher CompletionAnnouncer,
	metrics *metrics.Metrics,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		gateway:   gateway,
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Run consumes through base until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, base *BaseConsumer) error {
	return base.Start(ctx, func(ctx context.Context, msg amqp.Delivery) {
		p.Handle(ctx, msg)
	})
}

// Handle processes a single delivery and returns the stage it ended in.
func (p *Pipeline) Handle(ctx context.Context, msg amqp.Delivery) Stage {
	p.metrics.IncConsumed()

	payload, err := models.ParsePayload(msg.Body)
	if err != nil {
		p.logger.Warn("failed to parse message", slog.Any("error", err))
		p.reject(msg, "parse")
		return StageRejected
	}

	result := models.Validate(payload)
	if !result.Valid {
		p.logger.Warn("invalid message format",
			slog.String("error", result.Error()),
			slog.String("identifier", rawIdentifier(payload)),
		)
		p.reject(msg, "invalid")
		return StageRejected
	}
	req := result.Value

	if err := msg.Ack(false); err != nil {
		p.logger.Error("failed to acknowledge message",
			slog.String("identifier", req.Identifier),
			slog.Any("error", err),
		)
		return StageAckFailed
	}
	p.logger.Info("message acknowledged", slog.String("identifier", req.Identifier))

	return p.afterAck(ctx, req)
}

func (p *Pipeline) afterAck(ctx context.Context, req *models.NotificationRequest) (stage Stage) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("unexpected error in post-ack processing",
				slog.String("identifier", req.Identifier),
				slog.String("error", fmt.Sprint(r)),
			)
			stage = StageStoppedAfterPanic
		}
	}()

	outcome := p.gateway.Send(ctx, req)
	if !outcome.Success {
		p.logger.Error("fcm delivery failed",
			slog.String("identifier", req.Identifier),
			slog.String("error_code", outcome.ErrorCode),
			slog.String("error", outcome.ErrorMessage),
		)
		return StageStoppedAfterDelivery
	}

	deliveredAt := p.now()
	p.logger.Info("fcm sent successfully",
		slog.String("identifier", req.Identifier),
		slog.String("deliver_at", models.FormatTimestamp(deliveredAt)),
	)

	recorded, err := p.store.RecordDelivery(ctx, req.Identifier, deliveredAt)
	if err != nil {
		p.metrics.IncRecord(metrics.ResultFailure)
		p.logger.Error("database save failed",
			slog.String("identifier", req.Identifier),
			slog.Any("error", err),
		)
		return StageStoppedAfterPersist
	}
	switch recorded {
	case repository.RecordAlreadyExists:
		p.metrics.IncRecord(metrics.ResultDuplicate)
		p.logger.Warn("duplicate identifier, already processed", slog.String("identifier", req.Identifier))
	default:
		p.metrics.IncRecord(metrics.ResultInserted)
		p.logger.Info("fcm job saved to database", slog.String("identifier", req.Identifier))
	}

	if err := p.publisher.Publish(ctx, req.Identifier, deliveredAt); err != nil {
		p.logger.Error("failed to publish to topic",
			slog.String("identifier", req.Identifier),
			slog.Any("error", err),
		)
	}
	return StagePublished
}

// reject drops the message without requeue: it will never become valid.
func (p *Pipeline) reject(msg amqp.Delivery, reason string) {
	p.metrics.IncRejected(reason)
	if err := msg.Reject(false); err != nil {
		p.logger.Error("failed to reject message", slog.Any("error", err))
	}
}

func rawIdentifier(payload map[string]json.RawMessage) string {
	var id string
	if raw, ok := payload["identifier"]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	return id
}
