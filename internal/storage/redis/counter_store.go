package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/figures/internal/domain"
)

const defaultKeyPrefix = "inventory:"

// decrementIfAtLeast атомарно списывает ARGV[1] единиц, если их хватает.
var decrementIfAtLeast = goredis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local n = tonumber(ARGV[1])
if current < n then
	return 0
end
redis.call("DECRBY", KEYS[1], n)
return 1
`)

// CounterStore хранит остатки фигур в Redis строковыми ключами вида
// prefix+имя варианта.
type CounterStore struct {
	client goredis.UniversalClient
	prefix string
}

// Open подключается к Redis по URL и проверяет соединение.
func Open(ctx context.Context, redisURL, prefix string) (*CounterStore, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping redis: %v", domain.ErrStore, err)
	}

	return NewCounterStore(client, prefix), nil
}

// NewCounterStore оборачивает готовый клиент.
func NewCounterStore(client goredis.UniversalClient, prefix string) *CounterStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &CounterStore{client: client, prefix: prefix}
}

// Get возвращает значение счётчика; отсутствующий ключ читается как 0.
func (s *CounterStore) Get(ctx context.Context, key string) (int64, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get %s: %v", domain.ErrStore, key, err)
	}
	return value, nil
}

// Set перезаписывает значение счётчика без TTL.
func (s *CounterStore) Set(ctx context.Context, key string, value int64) error {
	if err := s.client.Set(ctx, s.prefix+key, strconv.FormatInt(value, 10), 0).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", domain.ErrStore, key, err)
	}
	return nil
}

// DecrementIfAtLeast выполняет проверку и списание одним Lua-скриптом.
func (s *CounterStore) DecrementIfAtLeast(ctx context.Context, key string, n int64) (bool, error) {
	res, err := decrementIfAtLeast.Run(ctx, s.client, []string{s.prefix + key}, n).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: decrement %s: %v", domain.ErrStore, key, err)
	}
	return res == 1, nil
}

// Seed записывает начальные остатки одной транзакцией MULTI/EXEC.
func (s *CounterStore) Seed(ctx context.Context, values map[string]int64) error {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for key, value := range values {
			pipe.Set(ctx, s.prefix+key, strconv.FormatInt(value, 10), 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: seed: %v", domain.ErrStore, err)
	}
	return nil
}

// Ping проверяет доступность Redis (используется health-проверкой).
func (s *CounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close закрывает клиент.
func (s *CounterStore) Close() error {
	return s.client.Close()
}

var _ domain.ConditionalCounterStore = (*CounterStore)(nil)
