// Package outbox доставляет события заказов и расчётов из транзакционного
// outbox во внешний контур. Записи публикуются в порядке создания, чтобы
// потребители видели переходы заказа в правильной последовательности.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond

	// maxRetryDelay ограничивает exponential backoff, чтобы один застрявший
	// batch не задерживал свежие события дольше пары секунд.
	maxRetryDelay = 2 * time.Second
)

var (
	outboxPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jeogiyo_outbox_publish_attempts_total",
		Help: "Outbox publish attempts grouped by event stream and result.",
	}, []string{"stream", "result"})
	outboxDeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jeogiyo_outbox_dead_letters_total",
		Help: "Outbox events routed to the dead letter queue, by event stream.",
	}, []string{"stream"})
	outboxPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jeogiyo_outbox_pending_records",
		Help: "Current number of pending records in the transactional outbox.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jeogiyo_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

// eventStream выделяет поток события из его типа: "settlement.succeeded"
// принадлежит потоку расчётов, "order.placed" — потоку заказов. Тип без
// точки считается потоком целиком.
func eventStream(eventType string) string {
	stream, _, found := strings.Cut(eventType, ".")
	if !found {
		return eventType
	}
	return stream
}

// Option настраивает Worker при создании.
type Option func(*Worker)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithDLQPublisher задаёт publisher для событий, которые не удалось
// доставить после всех попыток.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) {
		w.dlqPublisher = publisher
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		w.pollInterval = interval
	}
}

// WithBatchSize задаёт число записей, забираемых за один цикл.
func WithBatchSize(batchSize int) Option {
	return func(w *Worker) {
		w.batchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток публикации одной записи.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) {
		w.maxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) {
		w.retryBaseDelay = delay
	}
}

// Worker публикует pending-записи outbox в брокер. Записи, не ушедшие
// после maxAttempts попыток, помечаются failed и уходят в DLQ, откуда их
// можно вернуть утилитой переобработки.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlqPublisher   domain.OutboxPublisher
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewWorker создаёт outbox worker с дефолтными параметрами, уточняемыми
// через options.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	if w.retryBaseDelay < 0 {
		w.retryBaseDelay = 0
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.Flush(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// batchTally накапливает итоги одного цикла для сводного лога.
type batchTally struct {
	sent         int
	deadLettered int
	byStream     map[string]int
}

func (t *batchTally) count(stream string) {
	if t.byStream == nil {
		t.byStream = make(map[string]int)
	}
	t.byStream[stream]++
}

// Flush выполняет один цикл: забирает pending-записи и публикует их по
// одной, сохраняя порядок создания.
func (w *Worker) Flush(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.observeBacklog()

	events, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return
	}
	if len(events) == 0 {
		return
	}

	var tally batchTally
	for _, event := range events {
		if ctx.Err() != nil {
			return
		}
		stream := eventStream(event.EventType)
		tally.count(stream)

		if err := w.deliver(ctx, event, stream); err != nil {
			w.logger.WithError(err).WithFields(log.Fields{
				"outbox_id":  event.ID,
				"event_type": event.EventType,
				"stream":     stream,
			}).Error("outbox publish failed after retries")
			w.deadLetter(event, stream, err)
			tally.deadLettered++
			continue
		}

		if err := w.repo.MarkSent(event.ID); err != nil {
			w.logger.WithError(err).WithField("outbox_id", event.ID).Warn("failed to mark outbox as sent")
		}
		tally.sent++
	}

	w.logger.WithFields(log.Fields{
		"batch":         len(events),
		"sent":          tally.sent,
		"dead_lettered": tally.deadLettered,
		"streams":       tally.byStream,
	}).Debug("outbox batch flushed")

	w.observeBacklog()
}

// deliver публикует запись с retry и exponential backoff.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage, stream string) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.publisher.Publish(event)
		if err == nil {
			outboxPublishAttempts.WithLabelValues(stream, "sent").Inc()
			return nil
		}
		lastErr = err
		outboxPublishAttempts.WithLabelValues(stream, "retry_error").Inc()

		if attempt >= w.maxAttempts {
			break
		}
		if delay := w.backoff(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	outboxPublishAttempts.WithLabelValues(stream, "failed").Inc()
	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func (w *Worker) backoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	delay := w.retryBaseDelay << uint(attempt-1)
	if delay > maxRetryDelay || delay < w.retryBaseDelay {
		return maxRetryDelay
	}
	return delay
}

// deadLetterRecord — wire-формат события, ушедшего в DLQ. Утилита
// переобработки читает его и возвращает payload в исходный поток.
type deadLetterRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

// deadLetter помечает запись failed и отправляет её в DLQ вместе с текстом
// ошибки доставки.
func (w *Worker) deadLetter(event domain.OutboxMessage, stream string, publishErr error) {
	if err := w.repo.MarkFailed(event.ID); err != nil {
		w.logger.WithError(err).WithField("outbox_id", event.ID).Warn("failed to mark outbox as failed")
	}
	if w.dlqPublisher == nil {
		return
	}

	payload, err := json.Marshal(deadLetterRecord{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishError:  publishErr.Error(),
		FailedAt:      time.Now().UTC(),
	})
	if err != nil {
		w.logger.WithError(err).WithField("outbox_id", event.ID).Warn("failed to marshal dead letter record")
		return
	}

	err = w.dlqPublisher.Publish(domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
	})
	if err != nil {
		w.logger.WithError(err).WithField("outbox_id", event.ID).Warn("failed to publish to DLQ")
		return
	}
	outboxDeadLetters.WithLabelValues(stream).Inc()
}

// observeBacklog обновляет gauge-метрики бэклога.
func (w *Worker) observeBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxPendingRecords.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxOldestPendingAge.Set(0)
		return
	}

	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	outboxOldestPendingAge.Set(age)
}
