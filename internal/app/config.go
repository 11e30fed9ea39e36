package app

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/figures/internal/domain"
	"github.com/vladislavdragonenkov/figures/internal/messaging/kafka"
)

const (
	CounterStoreMemory = "memory"
	CounterStoreRedis  = "redis"

	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"

	defaultInventorySeed = "Circle=50,Triangle=50,Square=50"
)

// Config описывает настройки запуска сервиса резервирования.
type Config struct {
	GRPCAddr    string
	MetricsAddr string
	LogLevel    string

	CounterStore  string
	RedisURL      string
	RedisPrefix   string
	InventorySeed map[string]int64

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	SQLitePath          string

	AtomicReserve bool

	KafkaBrokers []string
	CartTopic    string
	CartGroup    string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int

	OutboxRetention       time.Duration
	OutboxCleanupInterval time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	seed, _ := ParseInventorySeed(defaultInventorySeed)
	return Config{
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9090",
		LogLevel:            "info",
		CounterStore:        CounterStoreMemory,
		RedisPrefix:         "inventory:",
		InventorySeed:       seed,
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		SQLitePath:          "figures.db",
		CartTopic:           kafka.TopicCartRequests,
		CartGroup:           "figure-service",
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,

		OutboxRetention:       24 * time.Hour,
		OutboxCleanupInterval: 10 * time.Minute,
	}
}

// LoadConfigFromEnv читает конфигурацию из переменных окружения поверх DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	var errs []error

	cfg.GRPCAddr = envString("FIGURES_GRPC_ADDR", cfg.GRPCAddr)
	cfg.MetricsAddr = envString("FIGURES_METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = envString("FIGURES_LOG_LEVEL", cfg.LogLevel)

	cfg.CounterStore = strings.ToLower(envString("FIGURES_COUNTER_STORE", cfg.CounterStore))
	cfg.RedisURL = envString("FIGURES_REDIS_URL", cfg.RedisURL)
	cfg.RedisPrefix = envString("FIGURES_REDIS_PREFIX", cfg.RedisPrefix)
	if raw, ok := os.LookupEnv("FIGURES_INVENTORY_SEED"); ok {
		seed, err := ParseInventorySeed(raw)
		if err != nil {
			errs = append(errs, err)
		}
		cfg.InventorySeed = seed
	}

	cfg.StorageDriver = strings.ToLower(envString("FIGURES_ORDER_STORE", cfg.StorageDriver))
	cfg.PostgresDSN = envString("FIGURES_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.SQLitePath = envString("FIGURES_SQLITE_PATH", cfg.SQLitePath)

	var err error
	if cfg.PostgresAutoMigrate, err = envBool("FIGURES_POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate); err != nil {
		errs = append(errs, err)
	}
	if cfg.AtomicReserve, err = envBool("FIGURES_ATOMIC_RESERVE", cfg.AtomicReserve); err != nil {
		errs = append(errs, err)
	}

	cfg.KafkaBrokers = splitBrokers(os.Getenv("KAFKA_BROKERS"))
	cfg.CartTopic = envString("FIGURES_CART_TOPIC", cfg.CartTopic)
	cfg.CartGroup = envString("FIGURES_CART_GROUP", cfg.CartGroup)

	if cfg.OutboxPollInterval, err = envDuration("FIGURES_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval); err != nil {
		errs = append(errs, err)
	}
	if cfg.OutboxBatchSize, err = envInt("FIGURES_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize); err != nil {
		errs = append(errs, err)
	}
	if cfg.OutboxMaxAttempts, err = envInt("FIGURES_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts); err != nil {
		errs = append(errs, err)
	}

	if cfg.OutboxRetention, err = envDuration("FIGURES_OUTBOX_RETENTION", cfg.OutboxRetention); err != nil {
		errs = append(errs, err)
	}
	if cfg.OutboxCleanupInterval, err = envDuration("FIGURES_OUTBOX_CLEANUP_INTERVAL", cfg.OutboxCleanupInterval); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc address must not be empty"))
	}
	if c.MetricsAddr == "" {
		errs = append(errs, errors.New("metrics address must not be empty"))
	}
	if c.LogLevel != "" {
		if _, err := log.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid log level: %w", err))
		}
	}

	switch c.CounterStore {
	case CounterStoreMemory:
	case CounterStoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("FIGURES_REDIS_URL is required for redis counter store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported counter store: %q", c.CounterStore))
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("FIGURES_POSTGRES_DSN is required for postgres order store"))
		}
	case StorageDriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("FIGURES_SQLITE_PATH is required for sqlite order store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver: %q", c.StorageDriver))
	}

	if len(c.KafkaBrokers) > 0 {
		if c.CartTopic == "" {
			errs = append(errs, errors.New("cart topic must not be empty when kafka is enabled"))
		}
		if c.CartGroup == "" {
			errs = append(errs, errors.New("cart consumer group must not be empty when kafka is enabled"))
		}
	}

	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be positive"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be positive"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be positive"))
	}
	if c.OutboxRetention <= 0 {
		errs = append(errs, errors.New("outbox retention must be positive"))
	}
	if c.OutboxCleanupInterval <= 0 {
		errs = append(errs, errors.New("outbox cleanup interval must be positive"))
	}

	return errors.Join(errs...)
}

// ParseInventorySeed разбирает строку вида "Circle=50,Triangle=50,Square=50".
// Пустая строка означает отсутствие начальных остатков.
func ParseInventorySeed(raw string) (map[string]int64, error) {
	seed := make(map[string]int64)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return seed, nil
	}

	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("inventory seed entry %q: expected Type=count", part)
		}
		key = strings.TrimSpace(key)
		switch domain.FigureType(key) {
		case domain.FigureTypeCircle, domain.FigureTypeTriangle, domain.FigureTypeSquare:
		default:
			return nil, fmt.Errorf("inventory seed entry %q: unknown figure type %q", part, key)
		}
		count, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("inventory seed entry %q: %w", part, err)
		}
		seed[key] = count
	}
	return seed, nil
}

// FormatInventorySeed возвращает seed в каноническом виде с ключами по алфавиту.
func FormatInventorySeed(seed map[string]int64) string {
	keys := make([]string, 0, len(seed))
	for k := range seed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, seed[k]))
	}
	return strings.Join(parts, ",")
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
