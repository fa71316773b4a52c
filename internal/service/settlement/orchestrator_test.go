package settlement_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
	"github.com/IJaes/jeogiyo-server-sub000/internal/gateway"
	"github.com/IJaes/jeogiyo-server-sub000/internal/service/settlement"
	"github.com/IJaes/jeogiyo-server-sub000/internal/storage/memory"
)

// immediateScheduler выполняет повтор синхронно, без задержки.
type immediateScheduler struct {
	charger    settlement.Charger
	maxRetries int
	scheduled  int
}

func (s *immediateScheduler) Schedule(task settlement.RetryTask) bool {
	if task.Attempt < 1 || task.Attempt > s.maxRetries {
		return false
	}
	s.scheduled++
	s.charger.RetryCharge(context.Background(), task.OrderID, task.Attempt)
	return true
}

type testEnv struct {
	orders    domain.OrderRepository
	payments  domain.PaymentRepository
	gateway   *gateway.MockClient
	scheduler *immediateScheduler
	orch      *settlement.Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		orders:    memory.NewOrderRepository(),
		payments:  memory.NewPaymentRepository(),
		gateway:   gateway.NewMockClient(),
		scheduler: &immediateScheduler{maxRetries: 2},
	}
	env.orch = settlement.NewOrchestrator(
		env.orders, env.payments, env.gateway,
		settlement.WithScheduler(env.scheduler),
		settlement.WithOrchestratorMaxRetries(2),
	)
	env.scheduler.charger = env.orch
	return env
}

func placeOrder(t *testing.T, env *testEnv, transactionID string) domain.Order {
	t.Helper()

	order, err := domain.NewOrder(uuid.NewString(), "user-1", "store-1", 27000, transactionID, time.Now().UTC())
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	if err := env.orders.Create(order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func placedEvent(order domain.Order) domain.OrderPlaced {
	return domain.OrderPlaced{
		OrderID:       order.ID,
		UserID:        order.UserID,
		AmountMinor:   order.AmountMinor,
		TransactionID: order.TransactionID,
		AuthKey:       "auth-key-" + order.ID,
	}
}

func TestHandleOrderPlaced_Success(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env, "")

	env.orch.HandleOrderPlaced(context.Background(), placedEvent(order))

	stored, err := env.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", stored.Status)
	}

	payment, err := env.payments.GetByOrderID(order.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if payment.Status != domain.PaymentStatusSuccess {
		t.Fatalf("expected success payment, got %s", payment.Status)
	}
	if payment.PaymentKey == "" || payment.BillingKey == "" {
		t.Fatalf("keys not recorded: %+v", payment)
	}

	if env.gateway.IssueCalls != 1 || env.gateway.ChargeCalls != 1 {
		t.Fatalf("unexpected gateway calls: issue=%d charge=%d", env.gateway.IssueCalls, env.gateway.ChargeCalls)
	}
	// Billing key выпускается по auth key из события, а не по данным заказа.
	if env.gateway.LastAuthKey != "auth-key-"+order.ID {
		t.Fatalf("unexpected auth key passed to gateway: %q", env.gateway.LastAuthKey)
	}
}

func TestHandleOrderPlaced_RetriesExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.FailChargesBefore = 100
	order := placeOrder(t, env, "")

	env.orch.HandleOrderPlaced(context.Background(), placedEvent(order))

	// Первичное списание и два повтора, больше попыток нет.
	if env.gateway.ChargeCalls != 3 {
		t.Fatalf("expected 3 charge calls, got %d", env.gateway.ChargeCalls)
	}
	if env.scheduler.scheduled != 2 {
		t.Fatalf("expected 2 scheduled retries, got %d", env.scheduler.scheduled)
	}

	payment, err := env.payments.GetByOrderID(order.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if payment.Status != domain.PaymentStatusFail {
		t.Fatalf("expected fail payment, got %s", payment.Status)
	}
	if payment.RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", payment.RetryCount)
	}
	if payment.FailLog == "" {
		t.Fatal("fail log must be recorded")
	}

	stored, err := env.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusWaiting {
		t.Fatalf("order must stay waiting after failed settlement, got %s", stored.Status)
	}
}

func TestHandleOrderPlaced_RetrySucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.FailChargesBefore = 1
	order := placeOrder(t, env, "")

	env.orch.HandleOrderPlaced(context.Background(), placedEvent(order))

	if env.gateway.ChargeCalls != 2 {
		t.Fatalf("expected 2 charge calls, got %d", env.gateway.ChargeCalls)
	}

	stored, err := env.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid after retry, got %s", stored.Status)
	}

	payment, err := env.payments.GetByOrderID(order.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if payment.Status != domain.PaymentStatusSuccess || payment.RetryCount != 1 {
		t.Fatalf("unexpected payment state: %+v", payment)
	}
}

func TestHandleOrderPlaced_AmountMismatch(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env, "")

	event := placedEvent(order)
	event.AmountMinor = order.AmountMinor + 1
	env.orch.HandleOrderPlaced(context.Background(), event)

	// Платёж не создаётся, шлюз не вызывается, заказ не меняется.
	if _, err := env.payments.GetByOrderID(order.ID); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("payment must not be created, got %v", err)
	}
	if env.gateway.IssueCalls != 0 || env.gateway.ChargeCalls != 0 {
		t.Fatalf("gateway must not be called: issue=%d charge=%d", env.gateway.IssueCalls, env.gateway.ChargeCalls)
	}

	stored, err := env.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusWaiting {
		t.Fatalf("order must stay waiting, got %s", stored.Status)
	}
}

func TestHandleOrderPlaced_BillingKeyFailure(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.IssueErr = errors.New("issuer unavailable")
	order := placeOrder(t, env, "")

	env.orch.HandleOrderPlaced(context.Background(), placedEvent(order))

	if _, err := env.payments.GetByOrderID(order.ID); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("payment must not be created without billing key, got %v", err)
	}
	if env.gateway.ChargeCalls != 0 {
		t.Fatalf("charge must not be attempted, got %d calls", env.gateway.ChargeCalls)
	}
}

func TestHandleOrderPlaced_SkipsSettledOrder(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env, "")

	stored, _ := env.orders.Get(order.ID)
	if err := stored.MarkPaid("pay-key-existing", time.Now().UTC()); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if err := env.orders.Save(stored); err != nil {
		t.Fatalf("save order: %v", err)
	}

	env.orch.HandleOrderPlaced(context.Background(), placedEvent(order))

	if env.gateway.IssueCalls != 0 || env.gateway.ChargeCalls != 0 {
		t.Fatalf("settled order must be skipped: issue=%d charge=%d", env.gateway.IssueCalls, env.gateway.ChargeCalls)
	}
}

func TestHandleOrderPlaced_ConfirmFlow(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env, "txn-widget-1")

	env.orch.HandleOrderPlaced(context.Background(), placedEvent(order))

	if env.gateway.ConfirmCalls != 1 || env.gateway.IssueCalls != 0 || env.gateway.ChargeCalls != 0 {
		t.Fatalf("confirm flow must use confirm only: confirm=%d issue=%d charge=%d",
			env.gateway.ConfirmCalls, env.gateway.IssueCalls, env.gateway.ChargeCalls)
	}

	stored, err := env.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", stored.Status)
	}

	payment, err := env.payments.GetByOrderID(order.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if payment.Status != domain.PaymentStatusSuccess {
		t.Fatalf("expected success payment, got %s", payment.Status)
	}
}

func TestHandleOrderPlaced_ConfirmFailureNoRetry(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.ConfirmErr = errors.New("confirm declined")
	order := placeOrder(t, env, "txn-widget-1")

	env.orch.HandleOrderPlaced(context.Background(), placedEvent(order))

	// Для confirm повторы не планируются: клиент перезапускает checkout сам.
	if env.scheduler.scheduled != 0 {
		t.Fatalf("confirm failure must not schedule retries, got %d", env.scheduler.scheduled)
	}

	payment, err := env.payments.GetByOrderID(order.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if payment.Status != domain.PaymentStatusFail {
		t.Fatalf("expected fail payment, got %s", payment.Status)
	}
}

// failingSaveOrders отклоняет записи заказа, эмулируя сбой после списания.
type failingSaveOrders struct {
	domain.OrderRepository
	saveErr error
}

func (r *failingSaveOrders) Save(domain.Order) error { return r.saveErr }

func TestCompleteSettlement_OrderWriteFailure(t *testing.T) {
	env := newTestEnv(t)
	order := placeOrder(t, env, "")

	orch := settlement.NewOrchestrator(
		&failingSaveOrders{OrderRepository: env.orders, saveErr: errors.New("storage down")},
		env.payments, env.gateway,
	)
	orch.HandleOrderPlaced(context.Background(), placedEvent(order))

	// Платёж успешен; заказ не обновился и уходит в ручную сверку,
	// повторное списание не выполняется.
	payment, err := env.payments.GetByOrderID(order.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if payment.Status != domain.PaymentStatusSuccess {
		t.Fatalf("payment must stay success, got %s", payment.Status)
	}
	if env.gateway.ChargeCalls != 1 {
		t.Fatalf("charge must not be replayed, got %d calls", env.gateway.ChargeCalls)
	}

	stored, err := env.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusWaiting {
		t.Fatalf("order must stay waiting, got %s", stored.Status)
	}
}

func settleOrder(t *testing.T, env *testEnv) (domain.Order, domain.Payment) {
	t.Helper()

	order := placeOrder(t, env, "")
	env.orch.HandleOrderPlaced(context.Background(), placedEvent(order))

	payment, err := env.payments.GetByOrderID(order.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if payment.Status != domain.PaymentStatusSuccess {
		t.Fatalf("settlement did not succeed: %+v", payment)
	}
	stored, err := env.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	return stored, payment
}

func TestHandleUserCancelRequested(t *testing.T) {
	env := newTestEnv(t)
	order, payment := settleOrder(t, env)

	env.orch.HandleUserCancelRequested(context.Background(), domain.UserCancelRequested{
		OrderID:    order.ID,
		PaymentKey: payment.PaymentKey,
		Reason:     "changed_mind",
		UserID:     order.UserID,
	})

	updated, err := env.payments.Get(payment.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if updated.Status != domain.PaymentStatusCancel || updated.CancelReason != "changed_mind" {
		t.Fatalf("unexpected payment state: %+v", updated)
	}
	if env.gateway.CancelCalls != 1 {
		t.Fatalf("expected 1 cancel call, got %d", env.gateway.CancelCalls)
	}
}

func TestHandleUserCancelRequested_PaymentNotFound(t *testing.T) {
	env := newTestEnv(t)

	env.orch.HandleUserCancelRequested(context.Background(), domain.UserCancelRequested{
		OrderID:    "order-unknown",
		PaymentKey: "pay-key-unknown",
		Reason:     "changed_mind",
	})

	if env.gateway.CancelCalls != 0 {
		t.Fatalf("gateway must not be called without payment, got %d", env.gateway.CancelCalls)
	}
}

func TestHandleUserCancelRequested_GatewayFailureMarksRefundFail(t *testing.T) {
	env := newTestEnv(t)
	order, payment := settleOrder(t, env)
	env.gateway.CancelErr = errors.New("gateway timeout")

	env.orch.HandleUserCancelRequested(context.Background(), domain.UserCancelRequested{
		OrderID:    order.ID,
		PaymentKey: payment.PaymentKey,
		Reason:     "changed_mind",
	})

	// Неудавшаяся отмена помечает платёж refund_fail для ручного разбора.
	updated, err := env.payments.Get(payment.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if updated.Status != domain.PaymentStatusRefundFail {
		t.Fatalf("expected refund_fail after failed cancel, got %s", updated.Status)
	}
	if updated.FailLog == "" {
		t.Fatal("cancel failure must record fail log")
	}
}

func TestHandleOwnerCancelRequested_Refund(t *testing.T) {
	env := newTestEnv(t)
	order, payment := settleOrder(t, env)

	env.orch.HandleOwnerCancelRequested(context.Background(), domain.OwnerCancelRequested{
		OrderID:    order.ID,
		PaymentKey: payment.PaymentKey,
		Reason:     "store_rejected",
	})

	updated, err := env.payments.Get(payment.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if updated.Status != domain.PaymentStatusRefund {
		t.Fatalf("expected refund, got %s", updated.Status)
	}

	stored, err := env.orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.RefundedAt == nil {
		t.Fatal("order must carry refund marker")
	}
}

func TestHandleOwnerCancelRequested_GatewayFailure(t *testing.T) {
	env := newTestEnv(t)
	order, payment := settleOrder(t, env)
	env.gateway.CancelErr = errors.New("gateway declined refund")

	env.orch.HandleOwnerCancelRequested(context.Background(), domain.OwnerCancelRequested{
		OrderID:    order.ID,
		PaymentKey: payment.PaymentKey,
		Reason:     "store_rejected",
	})

	updated, err := env.payments.Get(payment.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if updated.Status != domain.PaymentStatusRefundFail {
		t.Fatalf("expected refund_fail, got %s", updated.Status)
	}
	if updated.FailLog == "" {
		t.Fatal("refund failure must record fail log")
	}
}
