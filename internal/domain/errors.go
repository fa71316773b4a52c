package domain

import "errors"

var (
	// Ошибка отрицательной суммы заказа при создании.
	ErrInvalidAmount = errors.New("order total must be non-negative")
	// Ошибка попытки перехода из терминального статуса.
	ErrAlreadyTerminal = errors.New("order status is terminal")
	// Ошибка перехода, отсутствующего в таблице переходов.
	ErrInvalidTransition = errors.New("order status transition is not allowed")
	// Ошибка отмены заказа вне допустимого статуса.
	ErrNotCancelable = errors.New("order is not cancelable in current status")
	// Ошибка отмены после истечения 5-минутного окна.
	ErrCancelWindowExpired = errors.New("cancel window expired")
	// Ошибка повторной пометки заказа удалённым.
	ErrAlreadyDeleted = errors.New("order is already deleted")
	// Ошибка доступа: вызывающий не владеет заказом и не имеет подходящей роли.
	ErrPermissionDenied = errors.New("caller is not allowed to modify this order")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")

	// ErrPaymentNotFound возвращается, если платёж не найден по ключу или заказу.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentExists возвращается при создании платежа с занятым идентификатором.
	ErrPaymentExists = errors.New("payment already exists")
	// Ошибка превышения лимита повторных списаний.
	ErrRetryExhausted = errors.New("payment retry limit exhausted")
	// Ошибка несоответствия суммы события и сохранённой суммы заказа.
	ErrAmountMismatch = errors.New("event amount does not match order total")
	// Ошибка выпуска billing key у платёжного шлюза.
	ErrBillingKeyGeneration = errors.New("billing key generation failed")
	// ErrGatewayTemporary — временная ошибка шлюза (таймаут или non-success статус).
	ErrGatewayTemporary = errors.New("payment gateway temporary error")
	// ErrSettlementInconsistent — шлюз списал деньги, а локальная запись не применилась.
	// Событие не переигрывается: повтор означал бы двойное списание.
	ErrSettlementInconsistent = errors.New("settlement succeeded at gateway but local write failed")
	// ErrCancelFailed — шлюз отклонил отмену/возврат; повторная попытка только вручную.
	ErrCancelFailed = errors.New("gateway cancel failed")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ErrorCode возвращает стабильный код доменной ошибки для маппинга на ответы фасада.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "INVALID_AMOUNT"
	case errors.Is(err, ErrAlreadyTerminal):
		return "ALREADY_TERMINAL"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrNotCancelable):
		return "NOT_CANCELABLE"
	case errors.Is(err, ErrCancelWindowExpired):
		return "CANCEL_WINDOW_EXPIRED"
	case errors.Is(err, ErrAlreadyDeleted):
		return "ALREADY_DELETED"
	case errors.Is(err, ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, ErrOrderNotFound):
		return "ORDER_NOT_FOUND"
	case errors.Is(err, ErrOrderVersionConflict):
		return "ORDER_VERSION_CONFLICT"
	case errors.Is(err, ErrPaymentNotFound):
		return "PAYMENT_NOT_FOUND"
	case errors.Is(err, ErrPaymentExists):
		return "PAYMENT_EXISTS"
	case errors.Is(err, ErrRetryExhausted):
		return "RETRY_EXHAUSTED"
	case errors.Is(err, ErrAmountMismatch):
		return "AMOUNT_MISMATCH"
	case errors.Is(err, ErrBillingKeyGeneration):
		return "BILLING_KEY_GENERATION_FAILED"
	case errors.Is(err, ErrGatewayTemporary):
		return "GATEWAY_TEMPORARY"
	case errors.Is(err, ErrSettlementInconsistent):
		return "SETTLEMENT_INCONSISTENT"
	case errors.Is(err, ErrCancelFailed):
		return "CANCEL_FAILED"
	default:
		return "INTERNAL"
	}
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
