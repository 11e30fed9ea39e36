package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/figures/internal/domain"
)

// orderRepositoryInMemory реализует OrderRepository в памяти процесса.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.OrderRecord
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() *orderRepositoryInMemory {
	return &orderRepositoryInMemory{
		items: make(map[string]domain.OrderRecord),
	}
}

// Save сохраняет заказ и возвращает его сумму. Повторное сохранение
// заказа с тем же ID считается ошибкой хранилища.
func (r *orderRepositoryInMemory) Save(ctx context.Context, order domain.Order) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID()]; exists {
		return decimal.Zero, fmt.Errorf("%w: order %s already exists", domain.ErrPersistence, order.ID())
	}
	total := order.Total()
	r.items[order.ID()] = domain.OrderRecord{Order: order, Total: total}
	return total, nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.OrderRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.items[id]
	if !ok {
		return domain.OrderRecord{}, domain.ErrOrderNotFound
	}
	return record, nil
}

// Count возвращает количество сохранённых заказов.
func (r *orderRepositoryInMemory) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
