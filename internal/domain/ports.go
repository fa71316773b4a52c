package domain

import (
	"context"
	"time"
)

// GatewayChargeStatus — статус операции на стороне платёжного шлюза.
type GatewayChargeStatus string

const (
	// GatewayStatusDone — списание подтверждено.
	GatewayStatusDone GatewayChargeStatus = "DONE"
	// GatewayStatusCanceled — списание отменено.
	GatewayStatusCanceled GatewayChargeStatus = "CANCELED"
	// GatewayStatusAborted — шлюз отклонил операцию.
	GatewayStatusAborted GatewayChargeStatus = "ABORTED"
	// GatewayStatusExpired — операция устарела на стороне шлюза.
	GatewayStatusExpired GatewayChargeStatus = "EXPIRED"
)

// ChargeResult — результат списания или подтверждения.
type ChargeResult struct {
	Status          GatewayChargeStatus
	PaymentKey      string
	ApprovedAt      *time.Time
	ProviderMessage string
}

// CancelResult — результат отмены/возврата.
type CancelResult struct {
	Status GatewayChargeStatus
}

// GatewayClient описывает границу внешнего платёжного шлюза. Все вызовы —
// сетевые, с таймаутом; таймаут обрабатывается как неуспех, не как успех.
type GatewayClient interface {
	// IssueBillingAuthorization выпускает billing key под customer key вызывающего.
	IssueBillingAuthorization(ctx context.Context, customerKey, instrument string) (string, error)
	// ChargeBilling списывает средства по billing key.
	ChargeBilling(ctx context.Context, billingKey string, amountMinor int64, orderID, customerKey string) (ChargeResult, error)
	// ConfirmCharge подтверждает платёж, инициированный на клиенте (widget-checkout).
	ConfirmCharge(ctx context.Context, paymentKey, orderID string, amountMinor int64) (ChargeResult, error)
	// CancelCharge отменяет списание/инициирует возврат.
	CancelCharge(ctx context.Context, paymentKey, reason string) (CancelResult, error)
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

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

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

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
