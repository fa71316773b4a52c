package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusWaiting — заказ создан и ждёт подтверждения заведением.
	OrderStatusWaiting OrderStatus = "waiting"
	// OrderStatusAccepted — заведение приняло заказ.
	OrderStatusAccepted OrderStatus = "accepted"
	// OrderStatusPaid — оплата подтверждена платёжным шлюзом.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusCooking — заказ готовится.
	OrderStatusCooking OrderStatus = "cooking"
	// OrderStatusCooked — заказ приготовлен и ждёт курьера.
	OrderStatusCooked OrderStatus = "cooked"
	// OrderStatusDelivering — заказ в доставке.
	OrderStatusDelivering OrderStatus = "delivering"
	// OrderStatusDelivered — заказ доставлен клиенту.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted — заказ завершён (терминальный).
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusRejected — заведение отклонило заказ (терминальный).
	OrderStatusRejected OrderStatus = "rejected"
	// OrderStatusCanceled — заказ отменён (терминальный).
	OrderStatusCanceled OrderStatus = "canceled"
)

// CancelWindow — окно, в течение которого пользователь может отменить
// неподтверждённый заказ. Граница включительная: ровно 5 минут ещё можно.
const CancelWindow = 5 * time.Minute

// orderTransitions — единственный источник допустимых переходов статуса.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusWaiting:    {OrderStatusAccepted, OrderStatusRejected, OrderStatusCanceled},
	OrderStatusAccepted:   {OrderStatusPaid, OrderStatusCanceled},
	OrderStatusPaid:       {OrderStatusCooking},
	OrderStatusCooking:    {OrderStatusCooked},
	OrderStatusCooked:     {OrderStatusDelivering},
	OrderStatusDelivering: {OrderStatusDelivered},
	OrderStatusDelivered:  {OrderStatusCompleted},
	OrderStatusCompleted:  {},
	OrderStatusRejected:   {},
	OrderStatusCanceled:   {},
}

// IsTerminal сообщает, что из статуса нет ни одного перехода.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0 && s.Valid()
}

// Valid проверяет, что значение относится к известным статусам.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransition проверяет переход по таблице, не применяя его.
func (s OrderStatus) CanTransition(target OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Order агрегирует состояние заказа. Статус меняется только через
// guarded-операции агрегата; прямые присваивания вне пакета не предполагаются.
type Order struct {
	ID          string
	UserID      string
	StoreID     string
	AmountMinor int64
	Status      OrderStatus
	// TransactionID — корреляционный идентификатор платёжного шлюза.
	// Заполняется при создании (widget-checkout) или при markPaid.
	TransactionID string
	RejectReason  string
	RejectedAt    *time.Time
	RefundedAt    *time.Time
	DeletedAt     *time.Time
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder создаёт заказ в начальном статусе waiting.
// Отрицательная сумма отклоняется на этапе конструирования.
func NewOrder(id, userID, storeID string, amountMinor int64, transactionID string, now time.Time) (Order, error) {
	if amountMinor < 0 {
		return Order{}, ErrInvalidAmount
	}
	return Order{
		ID:            id,
		UserID:        userID,
		StoreID:       storeID,
		AmountMinor:   amountMinor,
		Status:        OrderStatusWaiting,
		TransactionID: transactionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ChangeStatus применяет переход по таблице. Терминальный статус проверяется
// первым: из него запрещён любой переход, включая формально допустимые цели.
func (o *Order) ChangeStatus(target OrderStatus, now time.Time) error {
	if o.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if !o.Status.CanTransition(target) {
		return ErrInvalidTransition
	}
	o.Status = target
	o.UpdatedAt = now.UTC()
	return nil
}

// CancelByUser отменяет заказ в пределах окна отмены.
// Допустим только из waiting — после принятия заведением отмена пользователем закрыта.
func (o *Order) CancelByUser(now time.Time) error {
	if o.Status != OrderStatusWaiting {
		return ErrNotCancelable
	}
	if now.Sub(o.CreatedAt) > CancelWindow {
		return ErrCancelWindowExpired
	}
	return o.ChangeStatus(OrderStatusCanceled, now)
}

// RejectByOwner отклоняет неподтверждённый заказ с кодом причины.
func (o *Order) RejectByOwner(reasonCode string, now time.Time) error {
	if o.Status != OrderStatusWaiting {
		return ErrNotCancelable
	}
	if err := o.ChangeStatus(OrderStatusRejected, now); err != nil {
		return err
	}
	ts := now.UTC()
	o.RejectReason = reasonCode
	o.RejectedAt = &ts
	return nil
}

// MarkPaid фиксирует успешное списание. Вызывается только оркестратором.
// Принятие заведением считается неявным: для waiting-заказа применяются
// два табличных перехода waiting→accepted→paid в одной мутации.
func (o *Order) MarkPaid(gatewayCorrelationID string, now time.Time) error {
	if o.Status == OrderStatusWaiting {
		if err := o.ChangeStatus(OrderStatusAccepted, now); err != nil {
			return err
		}
	}
	if err := o.ChangeStatus(OrderStatusPaid, now); err != nil {
		return err
	}
	o.TransactionID = gatewayCorrelationID
	return nil
}

// MarkRefunded ставит отметку возврата. Статус не меняется: в принятой
// таблице переходов нет отдельного статуса возврата.
func (o *Order) MarkRefunded(now time.Time) {
	ts := now.UTC()
	o.RefundedAt = &ts
	o.UpdatedAt = ts
}

// SoftDelete помечает заказ удалённым, не меняя статус.
func (o *Order) SoftDelete(now time.Time) error {
	if o.DeletedAt != nil {
		return ErrAlreadyDeleted
	}
	ts := now.UTC()
	o.DeletedAt = &ts
	o.UpdatedAt = ts
	return nil
}
