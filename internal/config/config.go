package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	Port        string
	DatabaseURL string
	StoreDriver string
	LogLevel    string
	LogFormat   string
	Environment string

	OTLPEndpoint     string
	OTLPInsecure     bool
	TraceSampleRatio float64

	AMQPURL   string
	AMQPQueue string

	HubSendBuffer  int
	WSPingInterval time.Duration
	IdempotencyTTL time.Duration

	RateLimitPerMinute           int
	RateLimitBurst               int
	RestaurantRateLimitPerMinute int
	RestaurantRateLimitBurst     int

	SMSProvider         string
	SMSWebhookURL       string
	SMSWebhookToken     string
	EmailProvider       string
	EmailWebhookURL     string
	EmailWebhookToken   string
	NotifyRetryCount    int
	NotifyTimeout       time.Duration
	RestaurantTZ        string
	PublicBaseURL       string
	QRSize              int
	QRLevel             string
	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
	OutboxRetention     time.Duration
	ShutdownGracePeriod time.Duration

	// Seed restaurant created at startup so a fresh deployment is usable.
	SeedRestaurantID   string
	SeedRestaurantName string
	SeedStaffKey       string
	SeedAvgWaitMinutes int
	SeedMaxQueueSize   int
	SeedSMSEnabled     bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	driver := strings.ToLower(os.Getenv("STORE_DRIVER"))
	if driver == "" {
		driver = "postgres"
		if os.Getenv("DB_DSN") == "" {
			driver = "memory"
		}
	}

	return Config{
		ServiceName: readString("SERVICE_NAME", "waitlist-service"),
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),
		StoreDriver: driver,
		LogLevel:    readString("LOG_LEVEL", "info"),
		LogFormat:   readString("LOG_FORMAT", "json"),
		Environment: readString("APP_ENV", "development"),

		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:     readBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSampleRatio: readFloat("OTEL_TRACES_SAMPLER_ARG", 1),

		AMQPURL:   os.Getenv("AMQP_URL"),
		AMQPQueue: readString("AMQP_QUEUE", "waitlist.events"),

		HubSendBuffer:  readInt("HUB_SEND_BUFFER", 16),
		WSPingInterval: readDurationSeconds("WS_PING_SECONDS", 30),
		IdempotencyTTL: readDurationSeconds("IDEMPOTENCY_TTL_SECONDS", 30),

		RateLimitPerMinute:           readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:               readInt("RATE_LIMIT_BURST", 30),
		RestaurantRateLimitPerMinute: readInt("RESTAURANT_RATE_LIMIT_PER_MIN", 600),
		RestaurantRateLimitBurst:     readInt("RESTAURANT_RATE_LIMIT_BURST", 120),

		SMSProvider:         os.Getenv("NOTIF_SMS_PROVIDER"),
		SMSWebhookURL:       os.Getenv("NOTIF_SMS_WEBHOOK_URL"),
		SMSWebhookToken:     os.Getenv("NOTIF_SMS_WEBHOOK_TOKEN"),
		EmailProvider:       os.Getenv("NOTIF_EMAIL_PROVIDER"),
		EmailWebhookURL:     os.Getenv("NOTIF_EMAIL_WEBHOOK_URL"),
		EmailWebhookToken:   os.Getenv("NOTIF_EMAIL_WEBHOOK_TOKEN"),
		NotifyRetryCount:    readInt("NOTIF_RETRY_COUNT", 2),
		NotifyTimeout:       readDurationSeconds("NOTIF_TIMEOUT_SECONDS", 5),
		RestaurantTZ:        readString("RESTAURANT_TZ", "UTC"),
		PublicBaseURL:       readString("PUBLIC_BASE_URL", "http://localhost:"+port),
		QRSize:              readInt("QR_SIZE", 256),
		QRLevel:             readString("QR_LEVEL", "M"),
		OutboxPollInterval:  readDurationSeconds("OUTBOX_POLL_SECONDS", 2),
		OutboxBatchSize:     readInt("OUTBOX_BATCH_SIZE", 100),
		OutboxRetention:     readDurationSeconds("OUTBOX_RETENTION_SECONDS", 86400),
		ShutdownGracePeriod: readDurationSeconds("SHUTDOWN_GRACE_SECONDS", 10),

		SeedRestaurantID:   os.Getenv("SEED_RESTAURANT_ID"),
		SeedRestaurantName: readString("SEED_RESTAURANT_NAME", "Demo Restaurant"),
		SeedStaffKey:       os.Getenv("SEED_STAFF_KEY"),
		SeedAvgWaitMinutes: readInt("SEED_AVG_WAIT_MINUTES", 15),
		SeedMaxQueueSize:   readInt("SEED_MAX_QUEUE_SIZE", 0),
		SeedSMSEnabled:     readBool("SEED_SMS_NOTIFICATIONS", true),
	}
}

func readString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
