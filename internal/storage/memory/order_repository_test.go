package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
	"github.com/IJaes/jeogiyo-server-sub000/internal/storage/memory"
)

func newOrder(id string) domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:          id,
		UserID:      "user-1",
		StoreID:     "store-1",
		Status:      domain.OrderStatusWaiting,
		AmountMinor: 27000,
		Version:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := newOrder("order-1")

	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID {
		t.Fatalf("expected id %s, got %s", order.ID, stored.ID)
	}

	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_Lists(t *testing.T) {
	repo := memory.NewOrderRepository()

	first := newOrder("order-1")
	second := newOrder("order-2")
	second.UserID = "user-2"
	second.Status = domain.OrderStatusPaid

	for _, order := range []domain.Order{first, second} {
		if err := repo.Create(order); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	byUser, err := repo.ListByUser("user-1", 10)
	if err != nil {
		t.Fatalf("list by user failed: %v", err)
	}
	if len(byUser) != 1 || byUser[0].ID != "order-1" {
		t.Fatalf("unexpected user orders: %+v", byUser)
	}

	byStore, err := repo.ListByStore("store-1", 10)
	if err != nil {
		t.Fatalf("list by store failed: %v", err)
	}
	if len(byStore) != 2 {
		t.Fatalf("expected 2 store orders, got %d", len(byStore))
	}

	byStatus, err := repo.ListByStatus(domain.OrderStatusPaid, 10)
	if err != nil {
		t.Fatalf("list by status failed: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "order-2" {
		t.Fatalf("unexpected status orders: %+v", byStatus)
	}
}

func TestOrderRepository_ListsHideSoftDeleted(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := newOrder("order-1")
	now := time.Now().UTC()
	order.DeletedAt = &now

	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	byUser, err := repo.ListByUser(order.UserID, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(byUser) != 0 {
		t.Fatalf("soft-deleted order must be hidden from lists, got %d", len(byUser))
	}

	// Прямое чтение по ID по-прежнему работает.
	if _, err := repo.Get(order.ID); err != nil {
		t.Fatalf("get failed: %v", err)
	}
}

func TestOrderRepository_Save(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := newOrder("order-1")
	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	stored.Status = domain.OrderStatusAccepted
	if err := repo.Save(stored); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	updated, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if updated.Status != domain.OrderStatusAccepted {
		t.Fatalf("expected accepted, got %s", updated.Status)
	}
	if updated.Version != stored.Version+1 {
		t.Fatalf("expected version increment, got %d", updated.Version)
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := newOrder("order-1")
	if err := repo.Create(order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order.Version = 42
	if err := repo.Save(order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict error, got %v", err)
	}
}
