package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	ProviderFirebase = "firebase"
	ProviderLegacy   = "legacy"
)

// Config holds the FCM service configuration loaded from the environment.
type Config struct {
	AppName   string
	LogLevel  string
	LogFormat string
	HTTPPort  string

	RabbitURL      string
	PrefetchCount  int
	ConnectRetries int
	RetryDelay     time.Duration
	QueueName      string
	TopicName      string

	DBDriver       string
	DatabaseURL    string
	DBMaxOpenConns int

	GatewayProvider         string
	FirebaseCredentialsPath string
	FirebaseProjectID       string
	FCMServerKey            string
	FCMEndpoint             string
	ProviderTimeout         time.Duration

	RedisURL         string
	TokenSuppressTTL time.Duration

	KafkaBrokers         []string
	KafkaCompletionTopic string
}

// Load reads .env when present, then the process environment, and validates
// the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppName:   getEnv("APP_NAME", "fcm_service"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		HTTPPort:  getEnv("HTTP_PORT", "3000"),

		RabbitURL:      getEnv("RABBITMQ_URL", "amqp://localhost:5672"),
		PrefetchCount:  getEnvAsInt("RABBITMQ_PREFETCH_COUNT", 10),
		ConnectRetries: getEnvAsInt("RABBITMQ_CONNECT_RETRIES", 5),
		RetryDelay:     getEnvAsDuration("RABBITMQ_RETRY_DELAY", 5*time.Second),
		QueueName:      getEnv("QUEUE_NAME", "notification.fcm"),
		TopicName:      getEnv("TOPIC_NAME", "notification.done"),

		DBDriver:       strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),

		GatewayProvider:         strings.ToLower(getEnv("GATEWAY_PROVIDER", ProviderFirebase)),
		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", "./firebase-conf.json"),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FCMServerKey:            getEnv("FCM_SERVER_KEY", ""),
		FCMEndpoint:             getEnv("FCM_ENDPOINT", "https://fcm.googleapis.com/fcm/send"),
		ProviderTimeout:         getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),

		RedisURL:         getEnv("REDIS_URL", ""),
		TokenSuppressTTL: getEnvAsDuration("TOKEN_SUPPRESS_TTL", 24*time.Hour),

		KafkaBrokers:         getEnvAsList("KAFKA_BROKERS"),
		KafkaCompletionTopic: getEnv("KAFKA_COMPLETION_TOPIC", "notification.done"),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDSN(cfg.DBDriver)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	var missing []string

	if c.PrefetchCount <= 0 {
		errs = append(errs, fmt.Errorf("RABBITMQ_PREFETCH_COUNT must be positive, got %d", c.PrefetchCount))
	}
	if c.ConnectRetries <= 0 {
		errs = append(errs, fmt.Errorf("RABBITMQ_CONNECT_RETRIES must be positive, got %d", c.ConnectRetries))
	}
	if c.RabbitURL == "" {
		missing = append(missing, "RABBITMQ_URL")
	}
	if c.QueueName == "" {
		missing = append(missing, "QUEUE_NAME")
	}
	if c.TopicName == "" {
		missing = append(missing, "TOPIC_NAME")
	}

	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver))
	}

	switch c.GatewayProvider {
	case ProviderFirebase:
		if c.FirebaseCredentialsPath == "" {
			missing = append(missing, "FIREBASE_CREDENTIALS_PATH")
		}
	case ProviderLegacy:
		if c.FCMServerKey == "" {
			missing = append(missing, "FCM_SERVER_KEY")
		}
		if c.FCMEndpoint == "" {
			missing = append(missing, "FCM_ENDPOINT")
		}
	default:
		errs = append(errs, fmt.Errorf("unknown GATEWAY_PROVIDER %q", c.GatewayProvider))
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaCompletionTopic == "" {
		missing = append(missing, "KAFKA_COMPLETION_TOPIC")
	}

	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required environment variables: %v", missing))
	}
	return errors.Join(errs...)
}

// defaultDSN assembles a connection string from the DB_* parts.
func defaultDSN(driver string) string {
	if driver == DriverSQLite {
		return getEnv("DB_NAME", "fcm_service") + ".db"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(getEnv("DB_USER", "postgres"), getEnv("DB_PASSWORD", "password")),
		Host:   getEnv("DB_HOST", "localhost") + ":" + getEnv("DB_PORT", "5432"),
		Path:   getEnv("DB_NAME", "notification_db"),
	}
	q := u.Query()
	q.Set("sslmode", getEnv("DB_SSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnv(key, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return value
}

func getEnvAsInt(key string, def int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid int for %s, using default %d: %v", key, def, err)
			return def
		}
		return i
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			log.Printf("invalid duration for %s, using default %s: %v", key, def, err)
			return def
		}
		return d
	}
	return def
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
