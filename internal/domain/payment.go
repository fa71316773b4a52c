package domain

import "time"

// PaymentStatus описывает состояние платежа.
type PaymentStatus string

const (
	// PaymentStatusRequested — создан запрос на списание, billing key выпущен.
	PaymentStatusRequested PaymentStatus = "requested"
	// PaymentStatusSuccess — шлюз подтвердил списание.
	PaymentStatusSuccess PaymentStatus = "success"
	// PaymentStatusCancel — списание отменено по запросу пользователя/заведения.
	PaymentStatusCancel PaymentStatus = "cancel"
	// PaymentStatusFail — списание не удалось (после исчерпания retry — окончательно).
	PaymentStatusFail PaymentStatus = "fail"
	// PaymentStatusRefund — средства возвращены клиенту.
	PaymentStatusRefund PaymentStatus = "refund"
	// PaymentStatusRefundFail — шлюз отклонил возврат; требуется ручная повторная попытка.
	PaymentStatusRefundFail PaymentStatus = "refund_fail"
	// PaymentStatusExpired — запрос устарел и никогда не был завершён.
	PaymentStatusExpired PaymentStatus = "expired"
)

// Payment описывает платёж, связанный ровно с одним заказом.
// Связь через OrderID без объектной ссылки: агрегаты сохраняются независимо.
// Платёж — финансовая запись, он никогда не удаляется.
type Payment struct {
	ID          string
	OrderID     string
	Status      PaymentStatus
	BillingKey  string
	PaymentKey  string
	AmountMinor int64
	ApprovedAt  *time.Time
	// FailLog — свободный диагностический текст последней ошибки.
	FailLog      string
	CancelReason string
	RetryCount   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OpenPayment создаёт платёж в статусе requested.
func OpenPayment(id, orderID string, amountMinor int64, now time.Time) Payment {
	return Payment{
		ID:          id,
		OrderID:     orderID,
		Status:      PaymentStatusRequested,
		AmountMinor: amountMinor,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
}

// RecordBillingKey привязывает billing key, выданный шлюзом.
func (p *Payment) RecordBillingKey(key string, now time.Time) {
	p.BillingKey = key
	p.UpdatedAt = now.UTC()
}

// RecordPaymentKey привязывает payment key конкретного списания.
func (p *Payment) RecordPaymentKey(key string, now time.Time) {
	p.PaymentKey = key
	p.UpdatedAt = now.UTC()
}

// MarkSuccess переводит платёж в success. Повторный вызов для уже успешного
// платежа — no-op: шлюз может прислать дубликат callback'а, и это не ошибка.
// Возвращает false, если вызов был проигнорирован.
func (p *Payment) MarkSuccess(paymentKey string, approvedAt time.Time, now time.Time) bool {
	if p.Status == PaymentStatusSuccess {
		return false
	}
	ts := approvedAt.UTC()
	p.Status = PaymentStatusSuccess
	if p.PaymentKey == "" {
		p.PaymentKey = paymentKey
	}
	p.ApprovedAt = &ts
	p.UpdatedAt = now.UTC()
	return true
}

// MarkFailure переводит платёж в fail и сохраняет диагностический текст.
func (p *Payment) MarkFailure(failLog string, now time.Time) {
	p.Status = PaymentStatusFail
	p.FailLog = failLog
	p.UpdatedAt = now.UTC()
}

// MarkCanceled фиксирует отмену списания с кодом причины.
func (p *Payment) MarkCanceled(reason string, now time.Time) {
	p.Status = PaymentStatusCancel
	p.CancelReason = reason
	p.UpdatedAt = now.UTC()
}

// MarkRefunded фиксирует возврат средств клиенту.
func (p *Payment) MarkRefunded(reason string, now time.Time) {
	p.Status = PaymentStatusRefund
	p.CancelReason = reason
	p.UpdatedAt = now.UTC()
}

// MarkRefundFailed фиксирует неуспешный возврат; авто-retry для этого пути нет.
func (p *Payment) MarkRefundFailed(failLog string, now time.Time) {
	p.Status = PaymentStatusRefundFail
	p.FailLog = failLog
	p.UpdatedAt = now.UTC()
}

// MarkExpired помечает устаревший незавершённый запрос.
func (p *Payment) MarkExpired(now time.Time) {
	p.Status = PaymentStatusExpired
	p.UpdatedAt = now.UTC()
}

// IncrementRetry увеличивает счётчик повторов, не позволяя превысить maxRetries.
func (p *Payment) IncrementRetry(maxRetries int, now time.Time) error {
	if p.RetryCount >= maxRetries {
		return ErrRetryExhausted
	}
	p.RetryCount++
	p.UpdatedAt = now.UTC()
	return nil
}
