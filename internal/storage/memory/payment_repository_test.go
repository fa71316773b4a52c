package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
	"github.com/IJaes/jeogiyo-server-sub000/internal/storage/memory"
)

func TestPaymentRepository_CreateGet(t *testing.T) {
	repo := memory.NewPaymentRepository()
	payment := domain.OpenPayment("payment-1", "order-1", 27000, time.Now().UTC())

	if err := repo.Create(payment); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(payment.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.OrderID != "order-1" {
		t.Fatalf("unexpected payment: %+v", stored)
	}

	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestPaymentRepository_CreateDuplicate(t *testing.T) {
	repo := memory.NewPaymentRepository()
	payment := domain.OpenPayment("payment-1", "order-1", 27000, time.Now().UTC())

	if err := repo.Create(payment); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(payment); !errors.Is(err, domain.ErrPaymentExists) {
		t.Fatalf("expected ErrPaymentExists, got %v", err)
	}
	if code := domain.ErrorCode(domain.ErrPaymentExists); code != "PAYMENT_EXISTS" {
		t.Fatalf("unexpected error code: %s", code)
	}
}

func TestPaymentRepository_GetByOrderID_Latest(t *testing.T) {
	repo := memory.NewPaymentRepository()
	now := time.Now().UTC()

	older := domain.OpenPayment("payment-1", "order-1", 27000, now.Add(-time.Hour))
	newer := domain.OpenPayment("payment-2", "order-1", 27000, now)

	for _, p := range []domain.Payment{older, newer} {
		if err := repo.Create(p); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	found, err := repo.GetByOrderID("order-1")
	if err != nil {
		t.Fatalf("get by order failed: %v", err)
	}
	if found.ID != "payment-2" {
		t.Fatalf("expected latest payment, got %s", found.ID)
	}
}

func TestPaymentRepository_GetByPaymentKey(t *testing.T) {
	repo := memory.NewPaymentRepository()
	now := time.Now().UTC()

	payment := domain.OpenPayment("payment-1", "order-1", 27000, now)
	payment.MarkSuccess("pay-key-1", now, now)
	if err := repo.Create(payment); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	found, err := repo.GetByPaymentKey("pay-key-1")
	if err != nil {
		t.Fatalf("get by key failed: %v", err)
	}
	if found.ID != "payment-1" {
		t.Fatalf("unexpected payment: %+v", found)
	}

	if _, err := repo.GetByPaymentKey(""); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("empty key must not match, got %v", err)
	}
}

func TestPaymentRepository_ListStaleRequested(t *testing.T) {
	repo := memory.NewPaymentRepository()
	now := time.Now().UTC()

	stale := domain.OpenPayment("payment-1", "order-1", 1000, now.Add(-2*time.Hour))
	fresh := domain.OpenPayment("payment-2", "order-2", 1000, now)
	settled := domain.OpenPayment("payment-3", "order-3", 1000, now.Add(-2*time.Hour))
	settled.MarkSuccess("pay-key-3", now, now)

	for _, p := range []domain.Payment{stale, fresh, settled} {
		if err := repo.Create(p); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	found, err := repo.ListStaleRequested(now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("list stale failed: %v", err)
	}
	if len(found) != 1 || found[0].ID != "payment-1" {
		t.Fatalf("unexpected stale payments: %+v", found)
	}
}
