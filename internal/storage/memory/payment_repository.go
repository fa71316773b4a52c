package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
)

// paymentRepositoryInMemory — in-memory реализация PaymentRepository.
// Платежи никогда не удаляются, только меняют статус.
type paymentRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Payment
}

// NewPaymentRepository возвращает in-memory репозиторий платежей.
func NewPaymentRepository() domain.PaymentRepository {
	return &paymentRepositoryInMemory{
		items: make(map[string]domain.Payment),
	}
}

// Create сохраняет новый платёж.
func (r *paymentRepositoryInMemory) Create(payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[payment.ID]; exists {
		return domain.ErrPaymentExists
	}
	r.items[payment.ID] = payment
	return nil
}

// Get возвращает платёж по идентификатору.
func (r *paymentRepositoryInMemory) Get(id string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.items[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

// GetByOrderID возвращает последний по времени платёж заказа.
func (r *paymentRepositoryInMemory) GetByOrderID(orderID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *domain.Payment
	for _, payment := range r.items {
		if payment.OrderID != orderID {
			continue
		}
		p := payment
		if found == nil || p.CreatedAt.After(found.CreatedAt) {
			found = &p
		}
	}
	if found == nil {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return *found, nil
}

// GetByPaymentKey ищет платёж по payment key шлюза.
func (r *paymentRepositoryInMemory) GetByPaymentKey(paymentKey string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if paymentKey == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	for _, payment := range r.items {
		if payment.PaymentKey == paymentKey {
			return payment, nil
		}
	}
	return domain.Payment{}, domain.ErrPaymentNotFound
}

// Save перезаписывает платёж.
func (r *paymentRepositoryInMemory) Save(payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[payment.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	r.items[payment.ID] = payment
	return nil
}

// ListStaleRequested возвращает платежи в статусе requested, созданные до before.
func (r *paymentRepositoryInMemory) ListStaleRequested(before time.Time, limit int) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Payment, 0)
	for _, payment := range r.items {
		if payment.Status != domain.PaymentStatusRequested {
			continue
		}
		if !payment.CreatedAt.Before(before) {
			continue
		}
		result = append(result, payment)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
