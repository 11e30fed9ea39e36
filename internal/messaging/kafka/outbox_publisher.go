package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/figures/internal/domain"
)

// OutboxTopicPublisher публикует события резервирования из outbox в Kafka.
// Ключом сообщения служит идентификатор агрегата, поэтому события одной корзины
// попадают в одну партицию.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// outboxEnvelope задаёт формат сообщения в topic событий резервирования.
type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicReservationEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("%w: kafka producer is not initialized", domain.ErrOutboxPublish)
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	if err := p.producer.PublishEvent(p.topic, key, newOutboxEnvelope(event, time.Now().UTC())); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrOutboxPublish, event.EventType, err)
	}
	return nil
}

func newOutboxEnvelope(event domain.OutboxMessage, publishedAt time.Time) outboxEnvelope {
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return outboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   publishedAt,
	}
}

// EncodeOutboxEnvelope кодирует событие outbox в формат topic событий резервирования.
func EncodeOutboxEnvelope(event domain.OutboxMessage, publishedAt time.Time) ([]byte, error) {
	data, err := json.Marshal(newOutboxEnvelope(event, publishedAt))
	if err != nil {
		return nil, fmt.Errorf("encode outbox envelope: %w", err)
	}
	return data, nil
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
