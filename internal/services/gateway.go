package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rdmaulana/fcm-notification-service/internal/models"
	"github.com/rdmaulana/fcm-notification-service/pkg/logger"
	"github.com/rdmaulana/fcm-notification-service/pkg/metrics"
)

// NotificationTitle is the title every push carries.
const NotificationTitle = "Incoming message"

// TokenSuppressor remembers device tokens that must not be sent to again.
type TokenSuppressor interface {
	IsTokenSuppressed(ctx context.Context, token string) (bool, error)
	SuppressToken(ctx context.Context, token string) error
}

// Gateway turns a validated request into exactly one provider call and
// normalizes whatever comes back into a DeliveryOutcome.
type Gateway struct {
	sender     Sender
	suppressor TokenSuppressor
	timeout    time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewGateway builds a Gateway. suppressor may be nil. timeout bounds the one
// provider call; zero or less means 10s.
func NewGateway(sender Sender, suppressor TokenSuppressor, timeout time.Duration, metrics *metrics.Metrics, logger *slog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		sender:     sender,
		suppressor: suppressor,
		timeout:    timeout,
		metrics:    metrics,
		logger:     logger,
	}
}

// Name is the provider behind the gateway.
func (g *Gateway) Name() string {
	return g.sender.Name()
}

// Send never returns an error: callers inspect outcome.Success. There is no
// retry here.
func (g *Gateway) Send(ctx context.Context, req *models.NotificationRequest) (outcome models.DeliveryOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = models.Failed(CodePanic, fmt.Sprint(r))
			g.metrics.IncDelivery(metrics.ResultFailure)
			g.logger.Error("fcm notification panicked",
				slog.String("identifier", req.Identifier),
				slog.Any("panic", r),
			)
		}
	}()

	if g.isSuppressed(ctx, req) {
		g.metrics.IncDelivery(metrics.ResultSuppressed)
		return models.Failed(CodeTokenSuppressed, "device token was previously reported as invalid")
	}

	msg := &PushMessage{
		Token: req.DeviceID,
		Title: NotificationTitle,
		Body:  req.Text,
		Data: map[string]string{
			"identifier": req.Identifier,
			"type":       req.Type,
		},
	}

	sendCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	started := time.Now()
	messageID, err := g.sender.Send(sendCtx, msg)
	g.metrics.ObserveSend(g.sender.Name(), time.Since(started))
	timedOut := errors.Is(sendCtx.Err(), context.DeadlineExceeded)

	if err != nil {
		code := CodeUnknown
		var sendErr *SendError
		if errors.As(err, &sendErr) {
			code = sendErr.Code
		}
		if timedOut && (code == CodeUnknown || code == CodeUnavailable) {
			code = CodeTimeout
		}
		g.metrics.IncDelivery(metrics.ResultFailure)
		g.logger.Error("fcm notification failed",
			slog.String("identifier", req.Identifier),
			slog.String("device_id", logger.MaskToken(req.DeviceID)),
			slog.String("error_code", code),
			slog.Any("error", err),
		)
		if isTokenFatal(code) {
			g.suppress(ctx, req)
		}
		return models.Failed(code, err.Error())
	}

	g.metrics.IncDelivery(metrics.ResultSuccess)
	g.logger.Info("fcm notification sent successfully",
		slog.String("identifier", req.Identifier),
		slog.String("message_id", messageID),
		slog.String("device_id", logger.MaskToken(req.DeviceID)),
	)
	return models.Delivered(messageID)
}

// isSuppressed fails open: a cache error lets the send go ahead.
func (g *Gateway) isSuppressed(ctx context.Context, req *models.NotificationRequest) bool {
	if g.suppressor == nil {
		return false
	}
	suppressed, err := g.suppressor.IsTokenSuppressed(ctx, req.DeviceID)
	if err != nil {
		g.logger.Warn("token suppression lookup failed",
			slog.String("identifier", req.Identifier),
			slog.Any("error", err),
		)
		return false
	}
	return suppressed
}

func (g *Gateway) suppress(ctx context.Context, req *models.NotificationRequest) {
	if g.suppressor == nil {
		return
	}
	if err := g.suppressor.SuppressToken(ctx, req.DeviceID); err != nil {
		g.logger.Warn("failed to suppress device token",
			slog.String("identifier", req.Identifier),
			slog.Any("error", err),
		)
	}
}
