package inventory

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/figures/internal/domain"
)

// Store ведёт остатки фигур поверх внешнего хранилища счётчиков.
// Ключом счётчика служит имя варианта фигуры. Reserve и Release выполняют
// чтение и запись раздельно, без атомарности относительно проверки
// и конкурентных вызовов.
type Store struct {
	counters domain.CounterStore
	logger   *log.Entry
}

// NewStore создаёт склад поверх хранилища счётчиков.
func NewStore(counters domain.CounterStore, logger *log.Entry) *Store {
	if logger == nil {
		logger = log.New().WithField("component", "inventory")
	}
	return &Store{counters: counters, logger: logger}
}

// CheckAvailable сообщает, хватает ли остатка для count единиц.
func (s *Store) CheckAvailable(ctx context.Context, figureType domain.FigureType, count int) (bool, error) {
	current, err := s.counters.Get(ctx, string(figureType))
	if err != nil {
		return false, fmt.Errorf("check %s: %w", figureType, err)
	}
	return current >= int64(count), nil
}

// Reserve уменьшает остаток на count.
func (s *Store) Reserve(ctx context.Context, figureType domain.FigureType, count int) error {
	return s.add(ctx, figureType, -int64(count))
}

// Release возвращает count единиц на склад.
func (s *Store) Release(ctx context.Context, figureType domain.FigureType, count int) error {
	return s.add(ctx, figureType, int64(count))
}

// TryReserve резервирует count единиц, только если их хватает.
// Если хранилище умеет условный атомарный декремент, проверка и списание
// выполняются одной операцией; иначе используется CheckAvailable + Reserve.
func (s *Store) TryReserve(ctx context.Context, figureType domain.FigureType, count int) (bool, error) {
	if conditional, ok := s.counters.(domain.ConditionalCounterStore); ok {
		reserved, err := conditional.DecrementIfAtLeast(ctx, string(figureType), int64(count))
		if err != nil {
			return false, fmt.Errorf("try reserve %s: %w", figureType, err)
		}
		return reserved, nil
	}

	available, err := s.CheckAvailable(ctx, figureType, count)
	if err != nil || !available {
		return false, err
	}
	if err := s.Reserve(ctx, figureType, count); err != nil {
		return false, err
	}
	return true, nil
}

// Available возвращает текущее значение счётчика.
func (s *Store) Available(ctx context.Context, figureType domain.FigureType) (int64, error) {
	current, err := s.counters.Get(ctx, string(figureType))
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", figureType, err)
	}
	return current, nil
}

func (s *Store) add(ctx context.Context, figureType domain.FigureType, delta int64) error {
	key := string(figureType)
	current, err := s.counters.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", figureType, err)
	}
	next := current + delta
	if err := s.counters.Set(ctx, key, next); err != nil {
		return fmt.Errorf("write %s: %w", figureType, err)
	}
	s.logger.WithFields(log.Fields{
		"figure_type": figureType,
		"delta":       delta,
		"available":   next,
	}).Debug("inventory counter updated")
	return nil
}
