package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
)

func TestOrderRepository_PostgresCreateGetListAndSave(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order1 := sampleOrder("order-1", "user-1", "store-1", now.Add(-2*time.Minute))
	order2 := sampleOrder("order-2", "user-1", "store-2", now.Add(-time.Minute))

	if err := repo.Create(order1); err != nil {
		t.Fatalf("create order1: %v", err)
	}
	if err := repo.Create(order2); err != nil {
		t.Fatalf("create order2: %v", err)
	}

	got, err := repo.Get(order1.ID)
	if err != nil {
		t.Fatalf("get order1: %v", err)
	}
	if got.ID != order1.ID || got.UserID != order1.UserID || got.Status != order1.Status {
		t.Fatalf("unexpected order payload: %+v", got)
	}
	if got.AmountMinor != order1.AmountMinor {
		t.Fatalf("unexpected amount: got=%d want=%d", got.AmountMinor, order1.AmountMinor)
	}

	listed, err := repo.ListByUser("user-1", 1)
	if err != nil {
		t.Fatalf("list by user with limit: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != order2.ID {
		t.Fatalf("unexpected list result with limit: %+v", listed)
	}

	all, err := repo.ListByUser("user-1", 0)
	if err != nil {
		t.Fatalf("list by user without limit: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(all))
	}

	byStore, err := repo.ListByStore("store-2", 0)
	if err != nil {
		t.Fatalf("list by store: %v", err)
	}
	if len(byStore) != 1 || byStore[0].ID != order2.ID {
		t.Fatalf("unexpected list by store: %+v", byStore)
	}

	waiting, err := repo.ListByStatus(domain.OrderStatusWaiting, 0)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(waiting) != 2 {
		t.Fatalf("expected 2 waiting orders, got %d", len(waiting))
	}

	if err := got.MarkPaid("txn-abc", now); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if err := repo.Save(got); err != nil {
		t.Fatalf("save order: %v", err)
	}

	updated, err := repo.Get(order1.ID)
	if err != nil {
		t.Fatalf("get updated order: %v", err)
	}
	if updated.Status != domain.OrderStatusPaid {
		t.Fatalf("unexpected status after save: %s", updated.Status)
	}
	if updated.TransactionID != "txn-abc" {
		t.Fatalf("unexpected transaction id after save: %s", updated.TransactionID)
	}
	if updated.Version != got.Version+1 {
		t.Fatalf("unexpected version after save: got=%d want=%d", updated.Version, got.Version+1)
	}
}

func TestOrderRepository_PostgresSoftDeleteHiddenFromLists(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order := sampleOrder("order-deleted", "user-3", "store-3", now)

	if err := repo.Create(order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	got, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if err := got.SoftDelete(now.Add(time.Minute)); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if err := repo.Save(got); err != nil {
		t.Fatalf("save deleted order: %v", err)
	}

	listed, err := repo.ListByUser("user-3", 0)
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("deleted order must be hidden from lists, got %d", len(listed))
	}

	// Get остаётся рабочим: маркер удаления нужен сервисному слою.
	reloaded, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("get deleted order: %v", err)
	}
	if reloaded.DeletedAt == nil {
		t.Fatal("expected DeletedAt to be set")
	}
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	base := sampleOrder("order-errors", "user-2", "store-2", now)

	if _, err := repo.Get("missing-order"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	if err := repo.Save(base); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on save missing, got %v", err)
	}

	if err := repo.Create(base); err != nil {
		t.Fatalf("create base order: %v", err)
	}
	if err := repo.Create(base); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on duplicate create, got %v", err)
	}

	stale := base
	stale.Status = domain.OrderStatusAccepted
	stale.UpdatedAt = now.Add(time.Minute)
	stale.Version = 42
	if err := repo.Save(stale); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on stale save, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
}

func sampleOrder(id, userID, storeID string, createdAt time.Time) domain.Order {
	order, err := domain.NewOrder(id, userID, storeID, 27000, "", createdAt)
	if err != nil {
		panic(err)
	}
	return order
}
