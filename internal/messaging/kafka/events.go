package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// События резервирования корзины
	EventTypeReservationStarted   EventType = "reservation.started"
	EventTypeReservationCommitted EventType = "reservation.committed"
	EventTypeReservationAborted   EventType = "reservation.aborted"

	// Компенсация отдельной строки корзины
	EventTypeLineReleased EventType = "line.released"
)

// Topics для Kafka
const (
	TopicReservationEvents = "figures.reservation.events"
	TopicOrderEvents       = "figures.order.events"
	TopicCartRequests      = "figures.cart.requests"
	TopicDeadLetterQueue   = "figures.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderErrorKind     = "x-error-kind"
	HeaderFailedAt      = "x-failed-at"
)

// ReservationEvent представляет событие резервирования
type ReservationEvent struct {
	EventType EventType              `json:"event_type"`
	CartID    string                 `json:"cart_id"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewReservationEvent создает новое событие резервирования
func NewReservationEvent(eventType EventType, cartID string, metadata map[string]interface{}) *ReservationEvent {
	return &ReservationEvent{
		EventType: eventType,
		CartID:    cartID,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}
