package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
)

// OutboxTopicPublisher доставляет outbox-сообщения во внешний контур.
// Topic выбирается по типу события: settlement.* уходит в поток расчётов,
// остальное — в поток заказов.
type OutboxTopicPublisher struct {
	producer *Producer
	// topicOverride, если задан, направляет все события в один topic.
	topicOverride string
}

// outboxEnvelope — wire-формат исходящего события.
type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewOutboxPublisher создаёт publisher с маршрутизацией по типу события.
func NewOutboxPublisher(producer *Producer) domain.OutboxPublisher {
	return &OutboxTopicPublisher{producer: producer}
}

// NewOutboxPublisherForTopic создаёт publisher, пишущий всё в один topic.
func NewOutboxPublisherForTopic(producer *Producer, topic string) domain.OutboxPublisher {
	return &OutboxTopicPublisher{producer: producer, topicOverride: topic}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	topic := p.topicOverride
	if topic == "" {
		topic = TopicForEvent(event.EventType)
	}

	return p.producer.PublishEvent(topic, key, outboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
