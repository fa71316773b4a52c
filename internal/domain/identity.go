package domain

// Role описывает роль вызывающего.
type Role string

const (
	RoleUser  Role = "user"
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
)

// Identity — явно разрешённая личность вызывающего. Передаётся параметром
// в каждую операцию: ядро никогда не читает ambient/thread-local контекст.
type Identity struct {
	UserID string
	// StoreID заполняется для роли owner: заведение, которым управляет вызывающий.
	StoreID string
	Role    Role
}

// CanDeleteOrder проверяет право пометить заказ удалённым: владелец заказа,
// владелец заведения или администратор.
func (id Identity) CanDeleteOrder(order Order) bool {
	switch id.Role {
	case RoleAdmin:
		return true
	case RoleOwner:
		return id.StoreID != "" && id.StoreID == order.StoreID
	default:
		return id.UserID != "" && id.UserID == order.UserID
	}
}
