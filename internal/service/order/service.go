// Package order реализует фасад заказов: команды и запросы поверх
// репозиториев и внутренней шины событий.
package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
)

// EventPublisher доставляет доменные события оркестратору расчётов.
// События публикуются только после фиксации изменения в хранилище.
type EventPublisher interface {
	Publish(event domain.Event)
}

// Service — фасад операций над заказами.
type Service struct {
	orders   domain.OrderRepository
	payments domain.PaymentRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	events   EventPublisher
	logger   *log.Entry
}

// Option настраивает фасад.
type Option func(*Service)

// WithOutbox подключает transactional outbox.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(s *Service) {
		s.outbox = outbox
	}
}

// WithTimeline подключает журнал событий заказа.
func WithTimeline(timeline domain.TimelineRepository) Option {
	return func(s *Service) {
		s.timeline = timeline
	}
}

// WithLogger задаёт логгер фасада.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService создаёт фасад заказов.
func NewService(
	orders domain.OrderRepository,
	payments domain.PaymentRepository,
	events EventPublisher,
	options ...Option,
) *Service {
	s := &Service{
		orders:   orders,
		payments: payments,
		events:   events,
		logger:   log.WithField("component", "order-service"),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// PlaceOrderInput — параметры создания заказа.
type PlaceOrderInput struct {
	UserID      string
	StoreID     string
	AmountMinor int64
	// TransactionID заполняется для widget-checkout, когда списание
	// инициировано на клиенте.
	TransactionID string
	// AuthKey — ключ платёжного инструмента для выпуска billing key.
	AuthKey string
}

// PlaceOrder создаёт заказ и публикует OrderPlaced после сохранения.
func (s *Service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (domain.Order, error) {
	now := time.Now().UTC()
	order, err := domain.NewOrder(uuid.NewString(), input.UserID, input.StoreID, input.AmountMinor, input.TransactionID, now)
	if err != nil {
		return domain.Order{}, err
	}

	if err := s.orders.Create(order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("create order failed")
		return domain.Order{}, err
	}

	s.emitEvent(order.ID, "order.placed", map[string]interface{}{
		"user_id":      order.UserID,
		"store_id":     order.StoreID,
		"amount_minor": order.AmountMinor,
	})

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"user_id":      order.UserID,
		"store_id":     order.StoreID,
		"amount_minor": order.AmountMinor,
	}).Info("order placed")

	if s.events != nil {
		s.events.Publish(domain.OrderPlaced{
			OrderID:       order.ID,
			UserID:        order.UserID,
			AmountMinor:   order.AmountMinor,
			TransactionID: order.TransactionID,
			AuthKey:       input.AuthKey,
		})
	}
	return order, nil
}

// GetOrder возвращает заказ. Мягко удалённые заказы не видны.
func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.DeletedAt != nil {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListUserOrders возвращает заказы пользователя.
func (s *Service) ListUserOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	return s.orders.ListByUser(userID, limit)
}

// ListStoreOrders возвращает заказы заведения.
func (s *Service) ListStoreOrders(ctx context.Context, storeID string, limit int) ([]domain.Order, error) {
	return s.orders.ListByStore(storeID, limit)
}

// ListOrdersByStatus возвращает заказы в заданном статусе.
func (s *Service) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	return s.orders.ListByStatus(status, limit)
}

// Timeline возвращает журнал событий заказа.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if s.timeline == nil {
		return nil, nil
	}
	return s.timeline.List(orderID)
}

// CancelOrder отменяет неподтверждённый заказ по запросу пользователя.
// Окно отмены проверяет агрегат; после записи публикуется запрос на отмену
// списания с payment key, если платёж уже существует.
func (s *Service) CancelOrder(ctx context.Context, orderID string, identity domain.Identity, reason string) error {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if identity.Role == domain.RoleUser && identity.UserID != order.UserID {
		return domain.ErrPermissionDenied
	}

	now := time.Now().UTC()
	if err := order.CancelByUser(now); err != nil {
		return err
	}
	if err := s.orders.Save(order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("persist canceled order failed")
		return err
	}

	s.emitEvent(order.ID, "order.canceled", map[string]interface{}{
		"reason": reason,
	})
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"user_id":  identity.UserID,
		"reason":   reason,
	}).Info("order canceled by user")

	if s.events != nil {
		s.events.Publish(domain.UserCancelRequested{
			OrderID:    order.ID,
			PaymentKey: s.paymentKeyFor(order.ID),
			Reason:     reason,
			UserID:     identity.UserID,
		})
	}
	return nil
}

// RejectOrder отклоняет неподтверждённый заказ от имени заведения.
func (s *Service) RejectOrder(ctx context.Context, orderID string, identity domain.Identity, reasonCode string) error {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !s.canManageStore(identity, order) {
		return domain.ErrPermissionDenied
	}

	now := time.Now().UTC()
	if err := order.RejectByOwner(reasonCode, now); err != nil {
		return err
	}
	if err := s.orders.Save(order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("persist rejected order failed")
		return err
	}

	s.emitEvent(order.ID, "order.rejected", map[string]interface{}{
		"reason": reasonCode,
	})
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"store_id": order.StoreID,
		"reason":   reasonCode,
	}).Info("order rejected by owner")

	if s.events != nil {
		s.events.Publish(domain.OwnerCancelRequested{
			OrderID:    order.ID,
			PaymentKey: s.paymentKeyFor(order.ID),
			Reason:     reasonCode,
		})
	}
	return nil
}

// ChangeStatus применяет переход статуса от имени заведения или оператора.
func (s *Service) ChangeStatus(ctx context.Context, orderID string, identity domain.Identity, target domain.OrderStatus) (domain.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !s.canManageStore(identity, order) {
		return domain.Order{}, domain.ErrPermissionDenied
	}

	now := time.Now().UTC()
	if err := order.ChangeStatus(target, now); err != nil {
		return domain.Order{}, err
	}
	if err := s.orders.Save(order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("persist status change failed")
		return domain.Order{}, err
	}

	s.emitEvent(order.ID, "order.status_changed", map[string]interface{}{
		"status": string(target),
	})
	return order, nil
}

// SoftDelete скрывает заказ из выборок, не трогая платёжную историю.
func (s *Service) SoftDelete(ctx context.Context, orderID string, identity domain.Identity) error {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return err
	}
	if !identity.CanDeleteOrder(order) {
		return domain.ErrPermissionDenied
	}

	now := time.Now().UTC()
	if err := order.SoftDelete(now); err != nil {
		return err
	}
	if err := s.orders.Save(order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("persist soft delete failed")
		return err
	}

	s.emitEvent(order.ID, "order.deleted", nil)
	return nil
}

// canManageStore разрешает операции заведения его владельцу и оператору.
func (s *Service) canManageStore(identity domain.Identity, order domain.Order) bool {
	switch identity.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleOwner:
		return identity.StoreID == order.StoreID
	default:
		return false
	}
}

// paymentKeyFor возвращает payment key активного платежа заказа,
// пустую строку — если платежа ещё нет.
func (s *Service) paymentKeyFor(orderID string) string {
	if s.payments == nil {
		return ""
	}
	payment, err := s.payments.GetByOrderID(orderID)
	if err != nil {
		return ""
	}
	return payment.PaymentKey
}

// emitEvent кладёт событие заказа в outbox и timeline.
func (s *Service) emitEvent(orderID, eventType string, payload map[string]interface{}) {
	now := time.Now().UTC()

	if s.outbox != nil {
		if payload == nil {
			payload = make(map[string]interface{})
		}
		payload["order_id"] = orderID
		payload["ts"] = now.Format(time.RFC3339Nano)

		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": orderID,
				"event":    eventType,
			}).Error("marshal event failed")
			return
		}
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   orderID,
			EventType:     eventType,
			Payload:       data,
		}
		if _, err := s.outbox.Enqueue(msg); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": orderID,
				"event":    eventType,
			}).Error("enqueue event failed")
		}
	}

	if s.timeline != nil {
		var reason string
		if payload != nil {
			if r, ok := payload["reason"].(string); ok {
				reason = r
			}
		}
		event := domain.TimelineEvent{
			OrderID:  orderID,
			Type:     eventType,
			Reason:   reason,
			Occurred: now,
		}
		if err := s.timeline.Append(event); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": orderID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		}
	}
}
