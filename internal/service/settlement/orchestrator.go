package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
	"github.com/IJaes/jeogiyo-server-sub000/internal/metrics"
)

const saveAttempts = 3

// Orchestrator ведёт расчёт по заказу: billing key, списание, отмена и возврат.
// Подписывается на события фасада заказов через внутреннюю шину.
type Orchestrator struct {
	orders    domain.OrderRepository
	payments  domain.PaymentRepository
	gateway   domain.GatewayClient
	scheduler Scheduler
	outbox    domain.OutboxRepository
	timeline  domain.TimelineRepository
	logger    *log.Entry
	metrics   *metrics.SettlementMetrics
	// maxRetries ограничивает автоматические повторы списания на платёж.
	maxRetries int
}

// OrchestratorOption настраивает оркестратор.
type OrchestratorOption func(*Orchestrator)

// WithScheduler подключает планировщик повторов списания.
func WithScheduler(scheduler Scheduler) OrchestratorOption {
	return func(o *Orchestrator) {
		o.scheduler = scheduler
	}
}

// WithOutbox подключает transactional outbox для событий расчёта.
func WithOutbox(outbox domain.OutboxRepository) OrchestratorOption {
	return func(o *Orchestrator) {
		o.outbox = outbox
	}
}

// WithTimeline подключает журнал событий заказа.
func WithTimeline(timeline domain.TimelineRepository) OrchestratorOption {
	return func(o *Orchestrator) {
		o.timeline = timeline
	}
}

// WithLogger задаёт логгер оркестратора.
func WithLogger(logger *log.Entry) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics подключает метрики расчётов.
func WithMetrics(m *metrics.SettlementMetrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithOrchestratorMaxRetries задаёт лимит автоматических повторов списания.
func WithOrchestratorMaxRetries(maxRetries int) OrchestratorOption {
	return func(o *Orchestrator) {
		if maxRetries >= 0 {
			o.maxRetries = maxRetries
		}
	}
}

// NewOrchestrator создаёт оркестратор расчётов.
func NewOrchestrator(
	orders domain.OrderRepository,
	payments domain.PaymentRepository,
	gateway domain.GatewayClient,
	options ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		orders:     orders,
		payments:   payments,
		gateway:    gateway,
		logger:     log.WithField("component", "settlement"),
		maxRetries: defaultMaxRetries,
	}
	for _, option := range options {
		option(o)
	}
	return o
}

// HandleOrderPlaced запускает расчёт по созданному заказу: проверка суммы,
// выпуск billing key, открытие платежа и списание.
func (o *Orchestrator) HandleOrderPlaced(ctx context.Context, event domain.OrderPlaced) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordSettlementStarted()
		defer func() {
			o.metrics.RecordSettlementDuration(time.Since(start))
			o.metrics.RecordSettlementFinished()
		}()
	}

	order, err := o.orders.Get(event.OrderID)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", event.OrderID).Warn("order not found for settlement")
		o.recordFailed()
		return
	}

	if order.Status != domain.OrderStatusWaiting && order.Status != domain.OrderStatusAccepted {
		// Повторная доставка события: расчёт уже прошёл или заказ закрыт.
		o.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"status":   order.Status,
		}).Debug("settlement skipped, order already processed")
		return
	}

	// Сумма события сверяется с заказом до любых взаимодействий со шлюзом.
	// При расхождении платёж не создаётся.
	if event.AmountMinor != order.AmountMinor {
		o.logger.WithFields(log.Fields{
			"order_id":     order.ID,
			"event_amount": event.AmountMinor,
			"order_amount": order.AmountMinor,
			"code":         domain.ErrorCode(domain.ErrAmountMismatch),
		}).Error("settlement aborted, amount mismatch")
		o.recordFailed()
		o.emitEvent(order.ID, "settlement.amount_mismatch", map[string]interface{}{
			"event_amount": event.AmountMinor,
			"order_amount": order.AmountMinor,
		})
		return
	}

	now := time.Now().UTC()

	// Widget-checkout: списание инициировано на клиенте, нужен только confirm.
	if order.TransactionID != "" {
		payment := domain.OpenPayment(uuid.NewString(), order.ID, order.AmountMinor, now)
		if err := o.payments.Create(payment); err != nil {
			o.logger.WithError(err).WithField("order_id", order.ID).Error("create payment failed")
			o.recordFailed()
			return
		}
		o.confirmCharge(ctx, order, payment)
		return
	}

	billingKey, err := o.issueBillingKey(ctx, order.UserID, event.AuthKey)
	if err != nil {
		// Без billing key списывать нечем: расчёт останавливается,
		// платёж не создаётся.
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"code":     domain.ErrorCode(domain.ErrBillingKeyGeneration),
		}).Error("billing key generation failed")
		o.recordFailed()
		o.emitEvent(order.ID, "settlement.billing_key_failed", nil)
		return
	}

	payment := domain.OpenPayment(uuid.NewString(), order.ID, order.AmountMinor, now)
	payment.RecordBillingKey(billingKey, now)
	if err := o.payments.Create(payment); err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("create payment failed")
		o.recordFailed()
		return
	}

	o.charge(ctx, order, payment, 0)
}

// RetryCharge выполняет повтор списания. Платёж перечитывается из хранилища:
// задача повтора не несёт состояния и переживает перезапуск процесса.
func (o *Orchestrator) RetryCharge(ctx context.Context, orderID string, attempt int) {
	order, err := o.orders.Get(orderID)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Warn("order not found for charge retry")
		return
	}
	payment, err := o.payments.GetByOrderID(orderID)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Warn("payment not found for charge retry")
		return
	}

	if payment.Status != domain.PaymentStatusFail && payment.Status != domain.PaymentStatusRequested {
		o.logger.WithFields(log.Fields{
			"order_id": orderID,
			"status":   payment.Status,
		}).Debug("charge retry skipped, payment already settled")
		return
	}

	now := time.Now().UTC()
	if err := payment.IncrementRetry(o.maxRetries, now); err != nil {
		if errors.Is(err, domain.ErrRetryExhausted) {
			o.logger.WithFields(log.Fields{
				"order_id":    orderID,
				"retry_count": payment.RetryCount,
			}).Error("charge retries exhausted")
			if o.metrics != nil {
				o.metrics.RecordRetryExhausted()
			}
		}
		return
	}
	if err := o.payments.Save(payment); err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Error("persist retry counter failed")
		return
	}

	o.charge(ctx, order, payment, attempt)
}

// HandleUserCancelRequested отменяет списание по запросу пользователя.
// Платёж ищется по payment key; автоматических повторов у отмены нет.
func (o *Orchestrator) HandleUserCancelRequested(ctx context.Context, event domain.UserCancelRequested) {
	payment, err := o.payments.GetByPaymentKey(event.PaymentKey)
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id":    event.OrderID,
			"payment_key": event.PaymentKey,
			"code":        domain.ErrorCode(domain.ErrPaymentNotFound),
		}).Warn("payment not found for user cancel")
		return
	}

	now := time.Now().UTC()

	result, err := o.cancelAtGateway(ctx, event.PaymentKey, event.Reason)
	if err != nil || result.Status != domain.GatewayStatusCanceled {
		// refund_fail разбирается вручную, как и при отказе заведения.
		payment.MarkRefundFailed(refundFailLog(result, err), now)
		if saveErr := o.payments.Save(payment); saveErr != nil {
			o.logger.WithError(saveErr).WithField("order_id", event.OrderID).Error("persist cancel failure failed")
		}
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": event.OrderID,
			"status":   result.Status,
			"code":     domain.ErrorCode(domain.ErrCancelFailed),
		}).Error("gateway cancel failed")
		return
	}

	payment.MarkCanceled(event.Reason, now)
	if err := o.payments.Save(payment); err != nil {
		o.logger.WithError(err).WithField("order_id", event.OrderID).Error("persist canceled payment failed")
		return
	}

	if o.metrics != nil {
		o.metrics.RecordSettlementCanceled()
	}
	o.emitEvent(event.OrderID, "settlement.canceled", map[string]interface{}{
		"reason": event.Reason,
	})
}

// HandleOwnerCancelRequested инициирует возврат средств после отклонения
// заказа заведением.
func (o *Orchestrator) HandleOwnerCancelRequested(ctx context.Context, event domain.OwnerCancelRequested) {
	payment, err := o.payments.GetByPaymentKey(event.PaymentKey)
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id":    event.OrderID,
			"payment_key": event.PaymentKey,
			"code":        domain.ErrorCode(domain.ErrPaymentNotFound),
		}).Warn("payment not found for refund")
		return
	}

	now := time.Now().UTC()

	result, err := o.cancelAtGateway(ctx, event.PaymentKey, event.Reason)
	if err != nil || result.Status != domain.GatewayStatusCanceled {
		// refund_fail разбирается вручную, авто-retry для возвратов нет.
		payment.MarkRefundFailed(refundFailLog(result, err), now)
		if saveErr := o.payments.Save(payment); saveErr != nil {
			o.logger.WithError(saveErr).WithField("order_id", event.OrderID).Error("persist refund failure failed")
		}
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": event.OrderID,
			"status":   result.Status,
		}).Error("gateway refund failed")
		return
	}

	payment.MarkRefunded(event.Reason, now)
	if err := o.payments.Save(payment); err != nil {
		o.logger.WithError(err).WithField("order_id", event.OrderID).Error("persist refunded payment failed")
		return
	}

	// Заказ получает отметку возврата; статус при этом не меняется.
	if order, err := o.orders.Get(event.OrderID); err == nil {
		order.MarkRefunded(now)
		if err := o.orders.Save(order); err != nil {
			o.logger.WithError(err).WithField("order_id", event.OrderID).Warn("persist refund marker failed")
		}
	}

	if o.metrics != nil {
		o.metrics.RecordSettlementRefunded()
	}
	o.emitEvent(event.OrderID, "settlement.refunded", map[string]interface{}{
		"reason": event.Reason,
	})
}

// issueBillingKey обменивает auth key платёжного инструмента на billing key.
// Auth key приходит из события и нигде не сохраняется.
func (o *Orchestrator) issueBillingKey(ctx context.Context, userID, authKey string) (string, error) {
	start := time.Now()
	billingKey, err := o.gateway.IssueBillingAuthorization(ctx, userID, authKey)
	if o.metrics != nil {
		o.metrics.RecordGatewayDuration("issue_billing_key", time.Since(start))
	}
	return billingKey, err
}

// charge выполняет списание. attempt считает выполненные повторы:
// первоначальное списание идёт с attempt == 0.
func (o *Orchestrator) charge(ctx context.Context, order domain.Order, payment domain.Payment, attempt int) {
	start := time.Now()
	result, err := o.gateway.ChargeBilling(ctx, payment.BillingKey, payment.AmountMinor, order.ID, order.UserID)
	if o.metrics != nil {
		o.metrics.RecordGatewayDuration("charge", time.Since(start))
	}

	if err != nil || result.Status != domain.GatewayStatusDone {
		o.failCharge(order, payment, chargeFailLog(result, err), attempt)
		return
	}

	o.completeSettlement(order, payment, result)
}

// confirmCharge подтверждает платёж widget-checkout. Повторы для confirm
// не планируются: клиент перезапускает checkout сам.
func (o *Orchestrator) confirmCharge(ctx context.Context, order domain.Order, payment domain.Payment) {
	start := time.Now()
	result, err := o.gateway.ConfirmCharge(ctx, order.TransactionID, order.ID, order.AmountMinor)
	if o.metrics != nil {
		o.metrics.RecordGatewayDuration("confirm", time.Since(start))
	}

	if err != nil || result.Status != domain.GatewayStatusDone {
		now := time.Now().UTC()
		payment.MarkFailure(chargeFailLog(result, err), now)
		if saveErr := o.payments.Save(payment); saveErr != nil {
			o.logger.WithError(saveErr).WithField("order_id", order.ID).Error("persist failed payment failed")
		}
		o.recordFailed()
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"status":   result.Status,
		}).Error("confirm charge failed")
		o.emitEvent(order.ID, "settlement.failed", map[string]interface{}{
			"fail_log": chargeFailLog(result, err),
		})
		return
	}

	o.completeSettlement(order, payment, result)
}

func (o *Orchestrator) failCharge(order domain.Order, payment domain.Payment, failLog string, attempt int) {
	now := time.Now().UTC()
	payment.MarkFailure(failLog, now)
	if err := o.payments.Save(payment); err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("persist failed payment failed")
	}

	o.recordFailed()
	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"attempt":  attempt,
		"fail_log": failLog,
	}).Warn("charge failed")
	o.emitEvent(order.ID, "settlement.failed", map[string]interface{}{
		"fail_log": failLog,
		"attempt":  attempt,
	})

	next := attempt + 1
	if o.scheduler == nil || next > o.maxRetries {
		o.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"attempts": attempt,
		}).Error("no more charge retries")
		if o.metrics != nil && o.scheduler != nil {
			o.metrics.RecordRetryExhausted()
		}
		return
	}

	if o.scheduler.Schedule(RetryTask{OrderID: order.ID, Attempt: next}) {
		if o.metrics != nil {
			o.metrics.RecordRetryScheduled()
		}
	}
}

// completeSettlement фиксирует успешное списание: платёж помечается success,
// заказ переводится в paid. Обе записи выполняются независимо; если запись
// заказа не удалась, списание не переигрывается, расхождение уходит в сверку.
func (o *Orchestrator) completeSettlement(order domain.Order, payment domain.Payment, result domain.ChargeResult) {
	now := time.Now().UTC()
	approvedAt := now
	if result.ApprovedAt != nil {
		approvedAt = *result.ApprovedAt
	}

	if applied := payment.MarkSuccess(result.PaymentKey, approvedAt, now); !applied {
		o.logger.WithField("order_id", order.ID).Debug("payment already marked success")
	}
	if err := o.payments.Save(payment); err != nil {
		// Запись заказа всё равно выполняется: деньги списаны.
		o.logger.WithError(err).WithField("order_id", order.ID).Error("persist successful payment failed")
	}

	if err := o.markOrderPaid(order.ID, payment.PaymentKey); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id":    order.ID,
			"payment_key": payment.PaymentKey,
			"code":        domain.ErrorCode(domain.ErrSettlementInconsistent),
		}).Error("payment captured but order not marked paid, manual reconciliation required")
		if o.metrics != nil {
			o.metrics.RecordReconciliationRequired()
		}
		return
	}

	if o.metrics != nil {
		o.metrics.RecordSettlementSucceeded()
	}
	o.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"payment_key": payment.PaymentKey,
	}).Info("settlement completed")
	o.emitEvent(order.ID, "settlement.succeeded", map[string]interface{}{
		"payment_key": payment.PaymentKey,
	})
}

// markOrderPaid применяет markPaid к свежей версии заказа, повторяя попытку
// при конфликте версий.
func (o *Orchestrator) markOrderPaid(orderID, paymentKey string) error {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		order, err := o.orders.Get(orderID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := order.MarkPaid(paymentKey, now); err != nil {
			return err
		}
		if err := o.orders.Save(order); err != nil {
			if domain.IsVersionConflict(err) && attempt < saveAttempts-1 {
				o.logger.WithFields(log.Fields{
					"order_id": orderID,
					"attempt":  attempt + 1,
				}).Warn("version conflict on mark paid, retrying")
				time.Sleep(10 * time.Millisecond << uint(attempt))
				continue
			}
			return err
		}
		return nil
	}
	return domain.ErrOrderVersionConflict
}

func (o *Orchestrator) cancelAtGateway(ctx context.Context, paymentKey, reason string) (domain.CancelResult, error) {
	start := time.Now()
	result, err := o.gateway.CancelCharge(ctx, paymentKey, reason)
	if o.metrics != nil {
		o.metrics.RecordGatewayDuration("cancel", time.Since(start))
	}
	return result, err
}

func (o *Orchestrator) recordFailed() {
	if o.metrics != nil {
		o.metrics.RecordSettlementFailed()
	}
}

// emitEvent кладёт событие расчёта в outbox и timeline.
func (o *Orchestrator) emitEvent(orderID, eventType string, payload map[string]interface{}) {
	now := time.Now().UTC()

	if o.outbox != nil {
		if payload == nil {
			payload = make(map[string]interface{})
		}
		payload["order_id"] = orderID
		payload["ts"] = now.Format(time.RFC3339Nano)

		data, err := json.Marshal(payload)
		if err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": orderID,
				"event":    eventType,
			}).Error("marshal event failed")
			return
		}
		msg := domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   orderID,
			EventType:     eventType,
			Payload:       data,
		}
		if _, err := o.outbox.Enqueue(msg); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": orderID,
				"event":    eventType,
			}).Error("enqueue event failed")
		} else if o.metrics != nil {
			o.metrics.RecordOutboxEvent()
		}
	}

	if o.timeline != nil {
		var reason string
		if payload != nil {
			if r, ok := payload["reason"].(string); ok {
				reason = r
			}
		}
		event := domain.TimelineEvent{
			OrderID:  orderID,
			Type:     eventType,
			Reason:   reason,
			Occurred: now,
		}
		if err := o.timeline.Append(event); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": orderID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		} else if o.metrics != nil {
			o.metrics.RecordTimelineEvent()
		}
	}
}

func chargeFailLog(result domain.ChargeResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if result.ProviderMessage != "" {
		return result.ProviderMessage
	}
	return "gateway returned status " + string(result.Status)
}

func refundFailLog(result domain.CancelResult, err error) string {
	if err != nil {
		return err.Error()
	}
	return "gateway returned status " + string(result.Status)
}
