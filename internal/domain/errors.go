package domain

import (
	"context"
	"errors"
)

var (
	// нарушен инвариант фигуры, корзины или заказа
	ErrValidation = errors.New("validation failed")
	// конверт позиции не соответствует строгому формату
	ErrMalformedInput = errors.New("malformed input")
	// некорректное количество или недостаточно остатков на складе
	ErrOutOfRange = errors.New("out of range")
	// непрозрачная ошибка хранилища заказов
	ErrPersistence = errors.New("persistence failed")
	// непрозрачная ошибка хранилища счётчиков остатков
	ErrStore = errors.New("counter store failed")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ошибка при публикации сообщения из outbox
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// invariantError описывает нарушенное геометрическое ограничение.
// Совпадает и с ErrValidation, и с ErrOutOfRange: конструктор фигуры
// отвергает параметр, выходящий за допустимый диапазон.
type invariantError struct {
	figure     FigureType
	constraint string
}

func (e *invariantError) Error() string {
	return string(e.figure) + ": " + e.constraint
}

func (e *invariantError) Unwrap() []error {
	return []error{ErrValidation, ErrOutOfRange}
}

// ErrorKind возвращает короткое имя класса ошибки для логов, метрик и событий.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedInput):
		return "malformed_input"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrStore):
		return "store"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}

// IsRejection сообщает, что ошибка означает бизнес-отказ по корзине,
// а не сбой инфраструктуры.
func IsRejection(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrOutOfRange)
}
