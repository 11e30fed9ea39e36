package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CounterStore описывает внешнее разделяемое хранилище целочисленных счётчиков остатков.
// Транзакций нет: Get и Set независимы.
type CounterStore interface {
	// Get возвращает значение счётчика; отсутствующий ключ читается как 0.
	Get(ctx context.Context, key string) (int64, error)
	// Set перезаписывает значение счётчика.
	Set(ctx context.Context, key string, value int64) error
}

// ConditionalCounterStore дополнительно умеет атомарно уменьшать счётчик,
// только если в нём не меньше n единиц.
type ConditionalCounterStore interface {
	CounterStore
	DecrementIfAtLeast(ctx context.Context, key string, n int64) (bool, error)
}

// OrderRepository описывает хранилище заказов.
type OrderRepository interface {
	// Save сохраняет заказ и возвращает итоговую сумму, рассчитанную хранилищем.
	Save(ctx context.Context, order Order) (decimal.Decimal, error)
	// Get возвращает сохранённый заказ или ErrOrderNotFound.
	Get(ctx context.Context, id string) (OrderRecord, error)
}

// OrderRecord содержит заказ в том виде, в котором его вернуло хранилище.
type OrderRecord struct {
	Order Order
	Total decimal.Decimal
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxCleaner удаляет опубликованные события старше заданного момента.
// Реализуется хранилищами, где outbox хранится долго.
type OutboxCleaner interface {
	DeleteSentBefore(before time.Time, limit int) (int, error)
}

// SagaStep задаёт константы шагов для метрик/логов.
type SagaStep string

const (
	SagaStepCheck   SagaStep = "check"
	SagaStepReserve SagaStep = "reserve"
	SagaStepPersist SagaStep = "persist"
	SagaStepRelease SagaStep = "release"
)

// ReservationState задаёт терминальное состояние попытки резервирования.
type ReservationState string

const (
	ReservationCommitted ReservationState = "committed"
	ReservationAborted   ReservationState = "aborted"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
