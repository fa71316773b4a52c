package domain

// Event — маркер событий, которые фасад передаёт оркестратору расчётов.
// События публикуются строго после фиксации породившего их изменения.
type Event interface {
	EventName() string
}

// OrderPlaced — заказ создан и сохранён; нужно запустить расчёт.
type OrderPlaced struct {
	OrderID     string
	UserID      string
	AmountMinor int64
	// TransactionID не пуст для widget-checkout: расчёт идёт через confirm,
	// а не через выпуск billing key.
	TransactionID string
	// AuthKey — одноразовый ключ платёжного инструмента от клиента.
	// Нужен только при выпуске billing key и не сохраняется.
	AuthKey string
}

// UserCancelRequested — пользователь отменил заказ; нужно отменить списание.
type UserCancelRequested struct {
	OrderID    string
	PaymentKey string
	Reason     string
	UserID     string
}

// OwnerCancelRequested — заведение отклонило заказ; нужна отмена с возвратом.
type OwnerCancelRequested struct {
	OrderID    string
	PaymentKey string
	Reason     string
}

func (OrderPlaced) EventName() string         { return "OrderPlaced" }
func (UserCancelRequested) EventName() string { return "UserCancelRequested" }
func (OwnerCancelRequested) EventName() string { return "OwnerCancelRequested" }
