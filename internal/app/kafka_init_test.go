package app

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
	"github.com/IJaes/jeogiyo-server-sub000/internal/service/order"
	"github.com/IJaes/jeogiyo-server-sub000/internal/storage/memory"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	t.Parallel()

	producer, err := initKafkaProducer("", log.WithField("test", "kafka-empty"))
	if err != nil {
		t.Fatalf("expected no error for empty brokers, got %v", err)
	}
	if producer != nil {
		t.Fatal("expected nil producer for empty brokers")
	}
}

func TestCloseKafka_NilProducer(t *testing.T) {
	t.Parallel()

	// Не должно паниковать.
	closeKafka(nil, log.WithField("test", "kafka-close-nil"))
}

func TestInitOrderRequestConsumer_DisabledWithoutBrokers(t *testing.T) {
	t.Parallel()

	consumer, err := initOrderRequestConsumer(Config{}, nil, nil, log.WithField("test", "consumer-disabled"))
	if err != nil {
		t.Fatalf("expected no error without brokers, got %v", err)
	}
	if consumer != nil {
		t.Fatal("expected nil consumer without brokers")
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(domain.Event) {}

func newOrderServiceForKafkaTest() (*order.Service, domain.OrderRepository) {
	orders := memory.NewOrderRepository()
	svc := order.NewService(orders, memory.NewPaymentRepository(), noopPublisher{})
	return svc, orders
}

func TestOrderRequestHandler_PlacesOrder(t *testing.T) {
	t.Parallel()

	svc, orders := newOrderServiceForKafkaTest()
	handler := newOrderRequestHandler(svc, log.WithField("test", "order-request-handler"))

	message := &sarama.ConsumerMessage{
		Value: []byte(`{"user_id":"user-1","store_id":"store-1","amount_minor":27000,"transaction_id":""}`),
	}
	if err := handler(context.Background(), message); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	listed, err := orders.ListByUser("user-1", 0)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 placed order, got %d", len(listed))
	}
	if listed[0].StoreID != "store-1" || listed[0].AmountMinor != 27000 {
		t.Fatalf("unexpected placed order: %+v", listed[0])
	}
	if listed[0].Status != domain.OrderStatusWaiting {
		t.Fatalf("expected waiting status, got %s", listed[0].Status)
	}
	if time.Since(listed[0].CreatedAt) > time.Minute {
		t.Fatal("unexpected created_at on placed order")
	}
}

func TestOrderRequestHandler_MalformedMessageDropped(t *testing.T) {
	t.Parallel()

	svc, orders := newOrderServiceForKafkaTest()
	handler := newOrderRequestHandler(svc, log.WithField("test", "order-request-malformed"))

	message := &sarama.ConsumerMessage{Value: []byte("not json")}
	if err := handler(context.Background(), message); err != nil {
		t.Fatalf("malformed message must not be retried, got %v", err)
	}

	listed, err := orders.ListByUser("user-1", 0)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no orders, got %d", len(listed))
	}
}

func TestOrderRequestHandler_InvalidAmountDropped(t *testing.T) {
	t.Parallel()

	svc, _ := newOrderServiceForKafkaTest()
	handler := newOrderRequestHandler(svc, log.WithField("test", "order-request-invalid"))

	message := &sarama.ConsumerMessage{
		Value: []byte(`{"user_id":"user-1","store_id":"store-1","amount_minor":-5}`),
	}
	if err := handler(context.Background(), message); err != nil {
		t.Fatalf("invalid amount must not be retried, got %v", err)
	}
}
