package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	// StorageDriverMemory — in-memory хранилище для разработки и тестов.
	StorageDriverMemory StorageDriver = "memory"
	// StorageDriverPostgres — PostgreSQL через pgx.
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers    string
	KafkaGroupID    string
	KafkaMaxRetries int

	// GatewayBaseURL пустой — используется mock-шлюз.
	GatewayBaseURL   string
	GatewaySecretKey string
	GatewayTimeout   time.Duration

	SettlementMaxRetries int
	SettlementRetryDelay time.Duration
	BusBufferSize        int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	PaymentExpiryInterval  time.Duration
	PaymentExpiryTTL       time.Duration
	PaymentExpiryBatchSize int
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaGroupID:    "jeogiyo-order-service",
		KafkaMaxRetries: 3,

		GatewayTimeout: 5 * time.Second,

		SettlementMaxRetries: 2,
		SettlementRetryDelay: 5 * time.Second,
		BusBufferSize:        256,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		PaymentExpiryInterval:  10 * time.Minute,
		PaymentExpiryTTL:       time.Hour,
		PaymentExpiryBatchSize: 500,
	}
}

// LoadConfig читает конфигурацию из окружения поверх значений по умолчанию.
func LoadConfig() Config {
	cfg := DefaultConfig()

	cfg.GRPCAddr = envString("JEOGIYO_GRPC_ADDR", cfg.GRPCAddr)
	cfg.MetricsAddr = envString("JEOGIYO_METRICS_ADDR", cfg.MetricsAddr)

	cfg.StorageDriver = StorageDriver(envString("JEOGIYO_STORAGE_DRIVER", string(cfg.StorageDriver)))
	cfg.PostgresDSN = envString("JEOGIYO_DATABASE_URL", cfg.PostgresDSN)
	cfg.PostgresAutoMigrate = envBool("JEOGIYO_POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)

	cfg.KafkaBrokers = envString("JEOGIYO_KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaGroupID = envString("JEOGIYO_KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.KafkaMaxRetries = envInt("JEOGIYO_KAFKA_MAX_RETRIES", cfg.KafkaMaxRetries)

	cfg.GatewayBaseURL = envString("JEOGIYO_GATEWAY_BASE_URL", cfg.GatewayBaseURL)
	cfg.GatewaySecretKey = envString("JEOGIYO_GATEWAY_SECRET_KEY", cfg.GatewaySecretKey)
	cfg.GatewayTimeout = envDuration("JEOGIYO_GATEWAY_TIMEOUT", cfg.GatewayTimeout)

	cfg.SettlementMaxRetries = envInt("JEOGIYO_SETTLEMENT_MAX_RETRIES", cfg.SettlementMaxRetries)
	cfg.SettlementRetryDelay = envDuration("JEOGIYO_SETTLEMENT_RETRY_DELAY", cfg.SettlementRetryDelay)
	cfg.BusBufferSize = envInt("JEOGIYO_BUS_BUFFER_SIZE", cfg.BusBufferSize)

	cfg.OutboxPollInterval = envDuration("JEOGIYO_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt("JEOGIYO_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxAttempts = envInt("JEOGIYO_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.OutboxRetryDelay = envDuration("JEOGIYO_OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay)

	cfg.PaymentExpiryInterval = envDuration("JEOGIYO_PAYMENT_EXPIRY_INTERVAL", cfg.PaymentExpiryInterval)
	cfg.PaymentExpiryTTL = envDuration("JEOGIYO_PAYMENT_EXPIRY_TTL", cfg.PaymentExpiryTTL)
	cfg.PaymentExpiryBatchSize = envInt("JEOGIYO_PAYMENT_EXPIRY_BATCH_SIZE", cfg.PaymentExpiryBatchSize)

	return cfg
}

func envString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
