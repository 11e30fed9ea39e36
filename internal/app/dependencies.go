package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/figures/internal/domain"
	"github.com/vladislavdragonenkov/figures/internal/health"
	"github.com/vladislavdragonenkov/figures/internal/service/inventory"
	"github.com/vladislavdragonenkov/figures/internal/storage/memory"
	"github.com/vladislavdragonenkov/figures/internal/storage/postgres"
	"github.com/vladislavdragonenkov/figures/internal/storage/redis"
	"github.com/vladislavdragonenkov/figures/internal/storage/sqlite"
)

// runtimeDependencies содержит хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	counters   domain.CounterStore
	inventory  *inventory.Store
	orders     domain.OrderRepository
	outboxRepo domain.OutboxRepository
	checkers   map[string]health.Checker
	closers    []func() error
}

// initRuntimeDependencies открывает хранилище счётчиков и хранилище заказов.
// При ошибке уже открытые ресурсы закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *runtimeDependencies, err error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps = &runtimeDependencies{checkers: make(map[string]health.Checker)}
	defer func() {
		if err != nil {
			deps.close(logger)
			deps = nil
		}
	}()

	if err = deps.initCounterStore(ctx, cfg, logger); err != nil {
		return deps, err
	}
	if err = deps.initOrderStore(ctx, cfg, logger); err != nil {
		return deps, err
	}
	deps.inventory = inventory.NewStore(deps.counters, logger.WithField("component", "inventory"))
	return deps, nil
}

func (d *runtimeDependencies) initCounterStore(ctx context.Context, cfg Config, logger *log.Entry) error {
	switch cfg.CounterStore {
	case "", CounterStoreMemory:
		counters := memory.NewCounterStore()
		counters.Seed(cfg.InventorySeed)
		d.counters = counters
	case CounterStoreRedis:
		if cfg.RedisURL == "" {
			return errors.New("redis url is required for redis counter store")
		}
		counters, err := redis.Open(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, counters.Close)
		if len(cfg.InventorySeed) > 0 {
			if err := counters.Seed(ctx, cfg.InventorySeed); err != nil {
				return err
			}
		}
		d.counters = counters
		d.checkers["counter_store"] = health.NewPingChecker("counter_store", counters, true)
	default:
		return fmt.Errorf("unsupported counter store: %q", cfg.CounterStore)
	}

	logger.WithFields(log.Fields{
		"counter_store": cfg.CounterStore,
		"seed":          FormatInventorySeed(cfg.InventorySeed),
	}).Info("counter store initialized")
	return nil
}

func (d *runtimeDependencies) initOrderStore(ctx context.Context, cfg Config, logger *log.Entry) error {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		d.orders = memory.NewOrderRepository()
		d.outboxRepo = memory.NewOutboxRepository()
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		d.orders = postgres.NewOrderRepository(store)
		d.outboxRepo = postgres.NewOutboxRepository(store)
		d.checkers["order_store"] = health.NewPingChecker("order_store", store, true)
	case StorageDriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, store.Close)
		d.orders = sqlite.NewOrderRepository(store)
		d.outboxRepo = memory.NewOutboxRepository()
		d.checkers["order_store"] = health.NewPingChecker("order_store", store, true)
	default:
		return fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}

	logger.WithField("storage_driver", cfg.StorageDriver).Info("order store initialized")
	return nil
}

// close закрывает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}
	d.closers = nil
}
