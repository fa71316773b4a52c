package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics содержит метрики конвейера расчётов по заказам.
type SettlementMetrics struct {
	// Счётчики исходов расчёта
	settlementStarted   prometheus.Counter
	settlementSucceeded prometheus.Counter
	settlementFailed    prometheus.Counter
	settlementCanceled  prometheus.Counter
	settlementRefunded  prometheus.Counter

	// Повторные списания
	retriesScheduled prometheus.Counter
	retriesExhausted prometheus.Counter

	// Расхождения, требующие ручной сверки (платёж success, заказ не PAID)
	reconciliationRequired prometheus.Counter

	// Гистограммы времени выполнения
	settlementDuration prometheus.Histogram
	gatewayDuration    *prometheus.HistogramVec

	// События timeline и outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge активных расчётов
	activeSettlements prometheus.Gauge
}

// NewSettlementMetrics создаёт метрики расчётов в default registry.
func NewSettlementMetrics() *SettlementMetrics {
	return newSettlementMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newSettlementMetricsWithRegisterer(registerer prometheus.Registerer) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SettlementMetrics{
		settlementStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "jeogiyo_settlement_started_total",
			Help: "Total number of settlement flows started",
		}),
		settlementSucceeded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "jeogiyo_settlement_succeeded_total",
			Help: "Total number of settlement flows finished with a successful charge",
		}),
		settlementFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "jeogiyo_settlement_failed_total",
			Help: "Total number of settlement flows finished with a failed charge",
		}),
		settlementCanceled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "jeogiyo_settlement_canceled_total",
			Help: "Total number of charges canceled on user or owner request",
		}),
		settlementRefunded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "jeogiyo_settlement_refunded_total",
			Help: "Total number of refunds issued",
		}),
		retriesScheduled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "jeogiyo_settlement_retries_scheduled_total",
			Help: "Total number of charge retries scheduled",
		}),
		retriesExhausted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "jeogiyo_settlement_retries_exhausted_total",
			Help: "Total number of settlements that ran out of retries",
		}),
		reconciliationRequired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "jeogiyo_settlement_reconciliation_required_total",
			Help: "Payments marked success whose order update failed and needs manual reconciliation",
		}),
		settlementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "jeogiyo_settlement_duration_seconds",
			Help:    "Duration of settlement flows in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		gatewayDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "jeogiyo_gateway_call_duration_seconds",
			Help:    "Duration of payment gateway calls in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"call"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "jeogiyo_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "jeogiyo_outbox_events_total",
			Help: "Total number of outbox events published",
		}),
		activeSettlements: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "jeogiyo_active_settlements",
			Help: "Number of settlement flows currently in flight",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordSettlementStarted увеличивает счётчик запущенных расчётов.
func (m *SettlementMetrics) RecordSettlementStarted() {
	m.settlementStarted.Inc()
	m.activeSettlements.Inc()
}

// RecordSettlementSucceeded увеличивает счётчик успешных расчётов.
func (m *SettlementMetrics) RecordSettlementSucceeded() {
	m.settlementSucceeded.Inc()
}

// RecordSettlementFailed увеличивает счётчик неуспешных расчётов.
func (m *SettlementMetrics) RecordSettlementFailed() {
	m.settlementFailed.Inc()
}

// RecordSettlementCanceled увеличивает счётчик отменённых списаний.
func (m *SettlementMetrics) RecordSettlementCanceled() {
	m.settlementCanceled.Inc()
}

// RecordSettlementRefunded увеличивает счётчик возвратов.
func (m *SettlementMetrics) RecordSettlementRefunded() {
	m.settlementRefunded.Inc()
}

// RecordRetryScheduled увеличивает счётчик запланированных повторов.
func (m *SettlementMetrics) RecordRetryScheduled() {
	m.retriesScheduled.Inc()
}

// RecordRetryExhausted увеличивает счётчик расчётов, исчерпавших повторы.
func (m *SettlementMetrics) RecordRetryExhausted() {
	m.retriesExhausted.Inc()
}

// RecordReconciliationRequired фиксирует расхождение платёж/заказ для ручной сверки.
func (m *SettlementMetrics) RecordReconciliationRequired() {
	m.reconciliationRequired.Inc()
}

// RecordSettlementFinished уменьшает количество активных расчётов.
func (m *SettlementMetrics) RecordSettlementFinished() {
	m.activeSettlements.Dec()
}

// RecordSettlementDuration записывает время выполнения расчёта.
func (m *SettlementMetrics) RecordSettlementDuration(duration time.Duration) {
	m.settlementDuration.Observe(duration.Seconds())
}

// RecordGatewayDuration записывает время вызова платёжного шлюза.
func (m *SettlementMetrics) RecordGatewayDuration(call string, duration time.Duration) {
	m.gatewayDuration.WithLabelValues(call).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *SettlementMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *SettlementMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
