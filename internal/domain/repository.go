package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByUser возвращает заказы пользователя с опциональным ограничением на количество.
	ListByUser(userID string, limit int) ([]Order, error)
	// ListByStore возвращает заказы заведения.
	ListByStore(storeID string, limit int) ([]Order, error)
	// ListByStatus возвращает заказы в заданном статусе.
	ListByStatus(status OrderStatus, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// PaymentRepository описывает хранилище платежей. Платежи не удаляются.
type PaymentRepository interface {
	// Create сохраняет новый платёж.
	Create(payment Payment) error
	// Get возвращает платёж по идентификатору или ErrPaymentNotFound.
	Get(id string) (Payment, error)
	// GetByOrderID возвращает активный платёж заказа.
	GetByOrderID(orderID string) (Payment, error)
	// GetByPaymentKey ищет платёж по payment key шлюза.
	GetByPaymentKey(paymentKey string) (Payment, error)
	// Save перезаписывает платёж.
	Save(payment Payment) error
	// ListStaleRequested возвращает платежи в статусе requested, созданные до before.
	ListStaleRequested(before time.Time, limit int) ([]Payment, error)
}
