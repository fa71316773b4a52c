package memory

import (
	"testing"
	"time"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
)

func TestTimelineRepository_AppendKeepsChronologicalOrder(t *testing.T) {
	t.Parallel()

	repo := NewTimelineRepository()
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	events := []domain.TimelineEvent{
		{OrderID: "order-1", Type: "settlement.succeeded", Occurred: base.Add(2 * time.Second)},
		{OrderID: "order-1", Type: "order.placed", Occurred: base},
		{OrderID: "order-1", Type: "order.accepted", Occurred: base.Add(time.Second)},
	}
	for _, event := range events {
		if err := repo.Append(event); err != nil {
			t.Fatalf("append %s: %v", event.Type, err)
		}
	}

	listed, err := repo.List("order-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 events, got %d", len(listed))
	}
	want := []string{"order.placed", "order.accepted", "settlement.succeeded"}
	for i, eventType := range want {
		if listed[i].Type != eventType {
			t.Fatalf("position %d: expected %s, got %s", i, eventType, listed[i].Type)
		}
	}
}

func TestTimelineRepository_ListIsACopy(t *testing.T) {
	t.Parallel()

	repo := NewTimelineRepository()
	if err := repo.Append(domain.TimelineEvent{OrderID: "order-2", Type: "order.placed", Occurred: time.Now().UTC()}); err != nil {
		t.Fatalf("append: %v", err)
	}

	first, err := repo.List("order-2")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	first[0].Type = "mutated"

	second, err := repo.List("order-2")
	if err != nil {
		t.Fatalf("list again: %v", err)
	}
	if second[0].Type != "order.placed" {
		t.Fatal("stored timeline must not be affected by caller mutations")
	}
}

func TestTimelineRepository_ListUnknownOrder(t *testing.T) {
	t.Parallel()

	repo := NewTimelineRepository()
	listed, err := repo.List("missing")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected empty timeline, got %d events", len(listed))
	}
}
