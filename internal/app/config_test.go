package app

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.GRPCAddr != ":50051" {
		t.Errorf("expected GRPCAddr :50051, got %s", cfg.GRPCAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("expected MetricsAddr :9090, got %s", cfg.MetricsAddr)
	}
	if cfg.CounterStore != CounterStoreMemory {
		t.Errorf("expected CounterStore %s, got %s", CounterStoreMemory, cfg.CounterStore)
	}
	if cfg.StorageDriver != StorageDriverMemory {
		t.Errorf("expected StorageDriver %s, got %s", StorageDriverMemory, cfg.StorageDriver)
	}
	if cfg.RedisPrefix != "inventory:" {
		t.Errorf("expected RedisPrefix inventory:, got %s", cfg.RedisPrefix)
	}
	if got := FormatInventorySeed(cfg.InventorySeed); got != "Circle=50,Square=50,Triangle=50" {
		t.Errorf("unexpected default seed: %s", got)
	}
	if !cfg.PostgresAutoMigrate {
		t.Error("expected PostgresAutoMigrate to be true")
	}
	if cfg.AtomicReserve {
		t.Error("atomic reserve must be opt-in")
	}
	if cfg.CartTopic != "figures.cart.requests" {
		t.Errorf("unexpected cart topic: %s", cfg.CartTopic)
	}
	if cfg.OutboxRetention != 24*time.Hour || cfg.OutboxCleanupInterval != 10*time.Minute {
		t.Errorf("unexpected outbox cleanup defaults: %s %s", cfg.OutboxRetention, cfg.OutboxCleanupInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must be valid: %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("FIGURES_GRPC_ADDR", ":6000")
	t.Setenv("FIGURES_METRICS_ADDR", ":6001")
	t.Setenv("FIGURES_LOG_LEVEL", "debug")
	t.Setenv("FIGURES_COUNTER_STORE", "Redis")
	t.Setenv("FIGURES_REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("FIGURES_REDIS_PREFIX", "stock:")
	t.Setenv("FIGURES_INVENTORY_SEED", "Circle=7, Square=0")
	t.Setenv("FIGURES_ORDER_STORE", "sqlite")
	t.Setenv("FIGURES_SQLITE_PATH", "/tmp/orders.db")
	t.Setenv("FIGURES_POSTGRES_AUTO_MIGRATE", "false")
	t.Setenv("FIGURES_ATOMIC_RESERVE", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("FIGURES_CART_TOPIC", "carts")
	t.Setenv("FIGURES_CART_GROUP", "figures-test")
	t.Setenv("FIGURES_OUTBOX_POLL_INTERVAL", "250ms")
	t.Setenv("FIGURES_OUTBOX_BATCH_SIZE", "10")
	t.Setenv("FIGURES_OUTBOX_MAX_ATTEMPTS", "7")
	t.Setenv("FIGURES_OUTBOX_RETENTION", "2h")
	t.Setenv("FIGURES_OUTBOX_CLEANUP_INTERVAL", "1m")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}

	switch {
	case cfg.GRPCAddr != ":6000", cfg.MetricsAddr != ":6001":
		t.Errorf("unexpected addresses: %s %s", cfg.GRPCAddr, cfg.MetricsAddr)
	case cfg.LogLevel != "debug":
		t.Errorf("unexpected log level: %s", cfg.LogLevel)
	case cfg.CounterStore != CounterStoreRedis, cfg.RedisPrefix != "stock:":
		t.Errorf("unexpected counter store: %s %s", cfg.CounterStore, cfg.RedisPrefix)
	case FormatInventorySeed(cfg.InventorySeed) != "Circle=7,Square=0":
		t.Errorf("unexpected seed: %v", cfg.InventorySeed)
	case cfg.StorageDriver != StorageDriverSQLite, cfg.SQLitePath != "/tmp/orders.db":
		t.Errorf("unexpected order store: %s %s", cfg.StorageDriver, cfg.SQLitePath)
	case cfg.PostgresAutoMigrate, !cfg.AtomicReserve:
		t.Errorf("unexpected flags: auto_migrate=%v atomic=%v", cfg.PostgresAutoMigrate, cfg.AtomicReserve)
	case len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092":
		t.Errorf("unexpected brokers: %v", cfg.KafkaBrokers)
	case cfg.CartTopic != "carts", cfg.CartGroup != "figures-test":
		t.Errorf("unexpected cart consumer: %s %s", cfg.CartTopic, cfg.CartGroup)
	case cfg.OutboxPollInterval != 250*time.Millisecond, cfg.OutboxBatchSize != 10, cfg.OutboxMaxAttempts != 7:
		t.Errorf("unexpected outbox settings: %+v", cfg)
	case cfg.OutboxRetention != 2*time.Hour, cfg.OutboxCleanupInterval != time.Minute:
		t.Errorf("unexpected outbox cleanup settings: %s %s", cfg.OutboxRetention, cfg.OutboxCleanupInterval)
	}
}

func TestLoadConfigFromEnv_EmptySeedDisablesSeeding(t *testing.T) {
	t.Setenv("FIGURES_INVENTORY_SEED", "")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	if len(cfg.InventorySeed) != 0 {
		t.Fatalf("expected empty seed, got %v", cfg.InventorySeed)
	}
}

func TestLoadConfigFromEnv_InvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{name: "bool", key: "FIGURES_ATOMIC_RESERVE", value: "maybe", want: "FIGURES_ATOMIC_RESERVE"},
		{name: "duration", key: "FIGURES_OUTBOX_POLL_INTERVAL", value: "soon", want: "FIGURES_OUTBOX_POLL_INTERVAL"},
		{name: "int", key: "FIGURES_OUTBOX_BATCH_SIZE", value: "ten", want: "FIGURES_OUTBOX_BATCH_SIZE"},
		{name: "seed", key: "FIGURES_INVENTORY_SEED", value: "Hexagon=1", want: "unknown figure type"},
		{name: "log level", key: "FIGURES_LOG_LEVEL", value: "chatty", want: "invalid log level"},
		{name: "order store", key: "FIGURES_ORDER_STORE", value: "mongo", want: "unsupported storage driver"},
		{name: "redis without url", key: "FIGURES_COUNTER_STORE", value: "redis", want: "FIGURES_REDIS_URL"},
		{name: "postgres without dsn", key: "FIGURES_ORDER_STORE", value: "postgres", want: "FIGURES_POSTGRES_DSN"},
		{name: "zero attempts", key: "FIGURES_OUTBOX_MAX_ATTEMPTS", value: "0", want: "max attempts"},
		{name: "negative retention", key: "FIGURES_OUTBOX_RETENTION", value: "-1h", want: "outbox retention"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := LoadConfigFromEnv()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseInventorySeed(t *testing.T) {
	cases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "", want: ""},
		{raw: "Circle=50,Triangle=50,Square=50", want: "Circle=50,Square=50,Triangle=50"},
		{raw: " Square = -2 ", want: "Square=-2"},
		{raw: "Circle", wantErr: true},
		{raw: "Circle=many", wantErr: true},
		{raw: "circle=1", wantErr: true},
	}

	for _, tc := range cases {
		seed, err := ParseInventorySeed(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseInventorySeed(%q): expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseInventorySeed(%q): %v", tc.raw, err)
			continue
		}
		if got := FormatInventorySeed(seed); got != tc.want {
			t.Errorf("ParseInventorySeed(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestConfig_ValidateKafkaRequiresTopicAndGroup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KafkaBrokers = []string{"localhost:9092"}
	cfg.CartTopic = ""
	cfg.CartGroup = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"cart topic", "consumer group"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}
