package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rdmaulana/fcm-notification-service/pkg/retry"
	"github.com/streadway/amqp"
)

// ErrNotConnected is returned while no live channel exists.
var ErrNotConnected = errors.New("rabbitmq: not connected")

// Status is the health view of the manager.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Config holds broker connection settings.
type Config struct {
	URL         string
	Queue       string
	Exchange    string
	Prefetch    int
	MaxAttempts int
	BaseDelay   time.Duration
}

// Manager owns the RabbitMQ connection and channel. It declares the durable
// work queue and the fan-out exchange on every (re)connect and hands the
// live channel to consumers and publishers.
type Manager struct {
	cfg    Config
	dial   Dialer
	logger *slog.Logger

	mu       sync.RWMutex
	conn     Connection
	ch       Channel
	shutdown bool

	drops chan struct{}
}

// New builds a Manager. A nil dialer means DialAMQP.
func New(cfg Config, dial Dialer, logger *slog.Logger) *Manager {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if dial == nil {
		dial = DialAMQP
	}
	return &Manager{
		cfg:    cfg,
		dial:   dial,
		logger: logger,
		drops:  make(chan struct{}, 1),
	}
}

// Config returns the settings the manager was built with.
func (m *Manager) Config() Config {
	return m.cfg
}

// Connect dials the broker, retrying with linear backoff. The error of the
// last attempt is returned once the attempts are used up.
func (m *Manager) Connect(ctx context.Context) error {
	err := retry.Do(ctx, m.retryConfig(), func(int) error {
		return m.open()
	})
	if err != nil {
		m.logger.Error("max retries reached, failed to connect to rabbitmq",
			slog.Int("max_retries", m.cfg.MaxAttempts),
			slog.Any("error", err),
		)
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	return nil
}

func (m *Manager) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: m.cfg.MaxAttempts,
		BaseDelay:   m.cfg.BaseDelay,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			m.logger.Warn("rabbitmq connection attempt failed, retrying",
				slog.Int("attempt", attempt),
				slog.Int("max_retries", m.cfg.MaxAttempts),
				slog.Duration("delay", delay),
				slog.Any("error", err),
			)
		},
	}
}

func (m *Manager) open() error {
	conn, err := m.dial(m.cfg.URL)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := m.setup(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		_ = ch.Close()
		_ = conn.Close()
		return ErrNotConnected
	}
	m.conn, m.ch = conn, ch
	m.mu.Unlock()

	go m.watch(conn, connClosed, chClosed)

	m.logger.Info("rabbitmq connection established",
		slog.Int("prefetch", m.cfg.Prefetch),
		slog.String("queue", m.cfg.Queue),
		slog.String("exchange", m.cfg.Exchange),
	)
	return nil
}

func (m *Manager) setup(ch Channel) error {
	if err := ch.Qos(m.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos configuration failed: %w", err)
	}
	if _, err := ch.QueueDeclare(
		m.cfg.Queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", m.cfg.Queue, err)
	}
	if err := ch.ExchangeDeclare(
		m.cfg.Exchange,
		amqp.ExchangeFanout,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", m.cfg.Exchange, err)
	}
	return nil
}

// watch clears the live handle when the connection or its channel dies
// without Close having been called, and wakes the supervisor.
func (m *Manager) watch(conn Connection, connClosed, chClosed chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-connClosed:
	case reason = <-chClosed:
	}

	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn, m.ch = nil, nil
	shutdown := m.shutdown
	m.mu.Unlock()
	if shutdown {
		return
	}

	_ = conn.Close()
	attrs := []any{}
	if reason != nil {
		attrs = append(attrs, slog.Int("code", reason.Code), slog.String("reason", reason.Reason))
	}
	m.logger.Warn("rabbitmq connection closed", attrs...)

	select {
	case m.drops <- struct{}{}:
	default:
	}
}

// Supervise reconnects after every unexpected drop and then calls
// onReconnect so consumers can register again. It returns when ctx is done.
func (m *Manager) Supervise(ctx context.Context, onReconnect func(context.Context) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.drops:
		}

		if !m.reconnect(ctx) {
			return
		}
		if onReconnect == nil {
			continue
		}
		if err := onReconnect(ctx); err != nil {
			m.logger.Error("re-registration after reconnect failed", slog.Any("error", err))
			m.dropCurrent()
		}
	}
}

func (m *Manager) reconnect(ctx context.Context) bool {
	for round := 1; ; round++ {
		err := retry.Do(ctx, m.retryConfig(), func(int) error {
			return m.open()
		})
		if err == nil {
			m.logger.Info("rabbitmq reconnected", slog.Int("round", round))
			return true
		}
		if ctx.Err() != nil || m.isShutdown() {
			return false
		}
		m.logger.Error("rabbitmq reconnect round failed", slog.Int("round", round), slog.Any("error", err))
	}
}

// dropCurrent closes the live connection so watch schedules a reconnect.
func (m *Manager) dropCurrent() {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) isShutdown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shutdown
}

// Consume registers a manual-ack consumer on the work queue.
func (m *Manager) Consume() (<-chan amqp.Delivery, error) {
	m.mu.RLock()
	ch := m.ch
	m.mu.RUnlock()
	if ch == nil {
		return nil, ErrNotConnected
	}
	return ch.Consume(
		m.cfg.Queue,
		"",
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
}

// Publish sends msg on the live channel.
func (m *Manager) Publish(exchange, key string, msg amqp.Publishing) error {
	m.mu.RLock()
	ch := m.ch
	m.mu.RUnlock()
	if ch == nil {
		return ErrNotConnected
	}
	return ch.Publish(exchange, key, false, false, msg)
}

// Status reports connected only while both the connection and the channel
// are live.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn != nil && m.ch != nil {
		return StatusConnected
	}
	return StatusDisconnected
}

// Close shuts the channel and the connection down. No reconnect follows.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.shutdown = true
	conn, ch := m.conn, m.ch
	m.conn, m.ch = nil, nil
	m.mu.Unlock()

	var errs []error
	if ch != nil {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Error("error closing rabbitmq connections", slog.Any("error", err))
		return err
	}
	m.logger.Info("rabbitmq connections closed")
	return nil
}
