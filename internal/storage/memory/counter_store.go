package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/figures/internal/domain"
)

// counterStoreInMemory хранит счётчики остатков в памяти процесса.
type counterStoreInMemory struct {
	mu       sync.RWMutex
	counters map[string]int64
}

// NewCounterStore возвращает in-memory хранилище счётчиков для локальной разработки и тестов.
func NewCounterStore() *counterStoreInMemory {
	return &counterStoreInMemory{counters: make(map[string]int64)}
}

// Get возвращает значение счётчика; отсутствующий ключ читается как 0.
func (s *counterStoreInMemory) Get(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[key], nil
}

// Set перезаписывает значение счётчика.
func (s *counterStoreInMemory) Set(_ context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] = value
	return nil
}

// DecrementIfAtLeast атомарно уменьшает счётчик на n, если в нём не меньше n.
func (s *counterStoreInMemory) DecrementIfAtLeast(_ context.Context, key string, n int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters[key] < n {
		return false, nil
	}
	s.counters[key] -= n
	return true, nil
}

// Seed задаёт начальные остатки.
func (s *counterStoreInMemory) Seed(values map[string]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.counters[k] = v
	}
}

// Snapshot возвращает копию всех счётчиков (используется в тестах и health-проверках).
func (s *counterStoreInMemory) Snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		result[k] = v
	}
	return result
}

var _ domain.ConditionalCounterStore = (*counterStoreInMemory)(nil)
