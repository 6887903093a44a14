package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rdmaulana/fcm-notification-service/internal/broker"
	"github.com/rdmaulana/fcm-notification-service/internal/config"
	"github.com/rdmaulana/fcm-notification-service/internal/consumer"
	"github.com/rdmaulana/fcm-notification-service/internal/repository"
	"github.com/rdmaulana/fcm-notification-service/internal/routes"
	"github.com/rdmaulana/fcm-notification-service/internal/services"
	"github.com/rdmaulana/fcm-notification-service/pkg/logger"
	"github.com/rdmaulana/fcm-notification-service/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logr := logger.New(logger.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: cfg.AppName,
	})
	logr.Info("starting fcm notification service",
		slog.String("queue", cfg.QueueName),
		slog.String("topic", cfg.TopicName),
		slog.String("provider", cfg.GatewayProvider),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsCollector := metrics.New()

	sender, err := newSender(ctx, cfg)
	if err != nil {
		logr.Error("failed to initialize fcm gateway", slog.Any("error", err))
		os.Exit(1)
	}
	logr.Info("fcm gateway initialized", slog.String("provider", sender.Name()))
	if fs, ok := sender.(*services.FirebaseSender); ok && fs.ProjectID() != "" {
		logr.Info("firebase project override", slog.String("project_id", fs.ProjectID()))
	}

	db, err := repository.OpenDatabase(cfg.DBDriver, cfg.DatabaseURL, repository.DatabaseOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		logr.Error("failed to connect database", slog.Any("error", err))
		os.Exit(1)
	}
	store, err := repository.NewDeliveryStore(db)
	if err != nil {
		logr.Error("failed to migrate database", slog.Any("error", err))
		os.Exit(1)
	}
	logr.Info("database connection established", slog.String("driver", cfg.DBDriver))

	var suppressor services.TokenSuppressor
	var redisRepo *repository.RedisRepository
	if cfg.RedisURL != "" {
		redisRepo = repository.NewRedisRepository(repository.NewRedisClient(cfg.RedisURL), cfg.TokenSuppressTTL)
		if err := redisRepo.Ping(ctx); err != nil {
			logr.Warn("redis unreachable, token suppression will fail open", slog.Any("error", err))
		}
		suppressor = redisRepo
	}
	gateway := services.NewGateway(sender, suppressor, cfg.ProviderTimeout, metricsCollector, logr)

	manager := broker.New(broker.Config{
		URL:         cfg.RabbitURL,
		Queue:       cfg.QueueName,
		Exchange:    cfg.TopicName,
		Prefetch:    cfg.PrefetchCount,
		MaxAttempts: cfg.ConnectRetries,
		BaseDelay:   cfg.RetryDelay,
	}, nil, logr)
	if err := manager.Connect(ctx); err != nil {
		logr.Error("failed to connect rabbitmq", slog.Any("error", err))
		os.Exit(1)
	}

	var mirror services.EventMirror
	var kafkaMirror *services.KafkaMirror
	if len(cfg.KafkaBrokers) > 0 {
		kafkaMirror = services.NewKafkaMirror(cfg.KafkaBrokers, cfg.KafkaCompletionTopic)
		mirror = kafkaMirror
		logr.Info("completion events mirrored to kafka", slog.String("topic", cfg.KafkaCompletionTopic))
	}
	publisher := services.NewCompletionPublisher(manager, cfg.TopicName, mirror, metricsCollector, logr)

	pipeline := consumer.NewPipeline(gateway, store, publisher, metricsCollector, logr)
	base := consumer.NewBaseConsumer(manager, cfg.PrefetchCount, logr)

	httpSrv := startHTTPServer(cfg.HTTPPort, routes.Options{
		Name:    cfg.AppName,
		Metrics: metricsCollector,
		Checks: []routes.HealthCheck{
			routes.StatusCheck("rabbitmq", func() (string, bool) {
				s := manager.Status()
				return string(s), s == broker.StatusConnected
			}),
			routes.PingCheck("database", store),
			routes.InitializedCheck("fcm", sender != nil),
		},
		Deliveries: store,
		Logger:     logr,
		Started:    time.Now(),
	}, logr)

	if err := pipeline.Run(ctx, base); err != nil {
		logr.Error("queue consumer exited", slog.Any("error", err))
	}

	logr.Info("shutting down gracefully")
	_ = manager.Close()
	if kafkaMirror != nil {
		if err := kafkaMirror.Close(); err != nil {
			logr.Error("failed to close kafka writer", slog.Any("error", err))
		}
	}
	if redisRepo != nil {
		_ = redisRepo.Close()
	}
	if err := store.Close(); err != nil {
		logr.Error("failed to close database", slog.Any("error", err))
	}
	shutdownHTTP(httpSrv, logr)
	logr.Info("fcm notification service stopped")
}

func newSender(ctx context.Context, cfg *config.Config) (services.Sender, error) {
	switch cfg.GatewayProvider {
	case config.ProviderLegacy:
		return services.NewLegacySender(cfg.FCMServerKey, cfg.FCMEndpoint, cfg.ProviderTimeout), nil
	default:
		return services.NewFirebaseSender(ctx, cfg.FirebaseCredentialsPath, cfg.FirebaseProjectID)
	}
}

func startHTTPServer(port string, opts routes.Options, logr *slog.Logger) *http.Server {
	if port == "" {
		port = "3000"
	}
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           routes.NewRouter(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logr.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("http server error", slog.Any("error", err))
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logr *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("failed to shutdown http server", slog.Any("error", err))
	}
}
