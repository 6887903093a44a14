package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

// DeliverySource hands out deliveries and re-registers after reconnects.
// *broker.Manager satisfies it.
type DeliverySource interface {
	Consume() (<-chan amqp.Delivery, error)
	Supervise(ctx context.Context, onReconnect func(context.Context) error)
}

// BaseConsumer runs a fixed pool of workers over the broker deliveries. The
// pool size matches the channel prefetch, so every unacknowledged message the
// broker hands over has a worker.
type BaseConsumer struct {
	source  DeliverySource
	workers int
	logger  *slog.Logger
	work    chan amqp.Delivery
}

func NewBaseConsumer(source DeliverySource, workers int, logger *slog.Logger) *BaseConsumer {
	if workers <= 0 {
		workers = 1
	}
	return &BaseConsumer{
		source:  source,
		workers: workers,
		logger:  logger,
		work:    make(chan amqp.Delivery),
	}
}

// Start registers the consumer and blocks until ctx is cancelled. After
// cancellation no new message is taken, and Start returns once the handlers
// already running have finished. Handlers get a context that is not
// cancelled with ctx.
func (c *BaseConsumer) Start(ctx context.Context, handler func(context.Context, amqp.Delivery)) error {
	if err := c.register(ctx); err != nil {
		return err
	}
	go c.source.Supervise(ctx, c.register)

	handlerCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case msg := <-c.work:
					handler(handlerCtx, msg)
				}
			}
		}()
	}
	c.logger.Info("queue consumer started", slog.Int("workers", c.workers))

	<-ctx.Done()
	wg.Wait()
	c.logger.Info("queue consumer stopped")
	return nil
}

func (c *BaseConsumer) register(ctx context.Context) error {
	deliveries, err := c.source.Consume()
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}
	go c.forward(ctx, deliveries)
	return nil
}

// forward feeds one broker registration into the worker pool. It ends when
// the registration's channel closes, which happens when the connection drops.
func (c *BaseConsumer) forward(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed")
				return
			}
			select {
			case c.work <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}
