package kafka

import (
	"strings"
	"time"
)

// EventType определяет тип события во внешнем контуре.
type EventType string

const (
	// События заказа
	EventTypeOrderPlaced        EventType = "order.placed"
	EventTypeOrderCanceled      EventType = "order.canceled"
	EventTypeOrderRejected      EventType = "order.rejected"
	EventTypeOrderStatusChanged EventType = "order.status_changed"

	// События расчёта
	EventTypeSettlementSucceeded EventType = "settlement.succeeded"
	EventTypeSettlementFailed    EventType = "settlement.failed"
	EventTypeSettlementCanceled  EventType = "settlement.canceled"
	EventTypeSettlementRefunded  EventType = "settlement.refunded"
)

// Topics для Kafka
const (
	TopicOrderEvents      = "jeogiyo.order.events"
	TopicSettlementEvents = "jeogiyo.settlement.events"
	// TopicOrderRequests — входящие команды на создание заказа от внешних каналов.
	TopicOrderRequests   = "jeogiyo.order.requests"
	TopicDeadLetterQueue = "jeogiyo.dlq"
)

// TopicForEvent выбирает topic по типу события: события расчётов идут
// отдельным потоком от событий жизненного цикла заказа.
func TopicForEvent(eventType string) string {
	if strings.HasPrefix(eventType, "settlement.") {
		return TopicSettlementEvents
	}
	return TopicOrderEvents
}

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent — событие жизненного цикла заказа для внешних потребителей.
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	UserID    string                 `json:"user_id,omitempty"`
	StoreID   string                 `json:"store_id,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SettlementEvent — событие расчёта по заказу.
type SettlementEvent struct {
	EventType  EventType              `json:"event_type"`
	OrderID    string                 `json:"order_id"`
	PaymentKey string                 `json:"payment_key,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// OrderRequest — входящая команда создания заказа из внешнего канала.
type OrderRequest struct {
	UserID        string `json:"user_id"`
	StoreID       string `json:"store_id"`
	AmountMinor   int64  `json:"amount_minor"`
	TransactionID string `json:"transaction_id,omitempty"`
	// AuthKey — ключ платёжного инструмента, выданный клиентским SDK шлюза.
	AuthKey string `json:"auth_key,omitempty"`
}

// NewOrderEvent создаёт событие заказа с текущей меткой времени.
func NewOrderEvent(eventType EventType, orderID, userID, storeID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		UserID:    userID,
		StoreID:   storeID,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// NewSettlementEvent создаёт событие расчёта с текущей меткой времени.
func NewSettlementEvent(eventType EventType, orderID, paymentKey string, metadata map[string]interface{}) *SettlementEvent {
	return &SettlementEvent{
		EventType:  eventType,
		OrderID:    orderID,
		PaymentKey: paymentKey,
		Timestamp:  time.Now().UTC(),
		Metadata:   metadata,
	}
}
