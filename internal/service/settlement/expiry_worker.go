package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
)

const (
	defaultExpiryInterval  = 10 * time.Minute
	defaultExpiryTTL       = time.Hour
	defaultExpiryBatchSize = 500
)

var (
	paymentExpiryRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jeogiyo_payment_expiry_runs_total",
		Help: "Total number of payment expiry runs grouped by result.",
	}, []string{"result"})
	paymentExpiryExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jeogiyo_payment_expiry_expired_total",
		Help: "Total number of stale payment requests marked expired.",
	})
	paymentExpiryLastExpired = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jeogiyo_payment_expiry_last_expired",
		Help: "Number of payments expired during the last run.",
	})
)

// ExpiryOptions задаёт параметры воркера устаревания платежей.
type ExpiryOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	TTL       time.Duration
	BatchSize int
}

// ExpiryOption настраивает ExpiryWorker.
type ExpiryOption func(*ExpiryOptions)

// WithExpiryLogger задаёт логгер воркера.
func WithExpiryLogger(logger *log.Entry) ExpiryOption {
	return func(opts *ExpiryOptions) {
		opts.Logger = logger
	}
}

// WithExpiryInterval задаёт интервал между проходами.
func WithExpiryInterval(interval time.Duration) ExpiryOption {
	return func(opts *ExpiryOptions) {
		opts.Interval = interval
	}
}

// WithExpiryTTL задаёт возраст, после которого requested-платёж считается устаревшим.
func WithExpiryTTL(ttl time.Duration) ExpiryOption {
	return func(opts *ExpiryOptions) {
		opts.TTL = ttl
	}
}

// WithExpiryBatchSize задаёт размер выборки за один проход.
func WithExpiryBatchSize(batchSize int) ExpiryOption {
	return func(opts *ExpiryOptions) {
		opts.BatchSize = batchSize
	}
}

// ExpiryWorker периодически помечает зависшие requested-платежи как expired.
// Это единственный производитель статуса expired: платёж, по которому расчёт
// так и не завершился, не должен вечно выглядеть активным.
type ExpiryWorker struct {
	payments  domain.PaymentRepository
	logger    *log.Entry
	interval  time.Duration
	ttl       time.Duration
	batchSize int
}

// NewExpiryWorker создаёт воркер устаревания платежей.
func NewExpiryWorker(payments domain.PaymentRepository, options ...ExpiryOption) *ExpiryWorker {
	opts := ExpiryOptions{
		Interval:  defaultExpiryInterval,
		TTL:       defaultExpiryTTL,
		BatchSize: defaultExpiryBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "payment-expiry-worker")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultExpiryInterval
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultExpiryTTL
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultExpiryBatchSize
	}

	return &ExpiryWorker{
		payments:  payments,
		logger:    logger,
		interval:  opts.Interval,
		ttl:       opts.TTL,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодические проходы до отмены ctx.
func (w *ExpiryWorker) Run(ctx context.Context) {
	if w.payments == nil {
		w.logger.Warn("payment expiry worker is disabled: repo is nil")
		return
	}

	w.sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx, time.Now().UTC())
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context, now time.Time) {
	expired, err := w.ExpireStale(ctx, now)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		paymentExpiryRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("payment expiry run failed")
		return
	}

	paymentExpiryRunsTotal.WithLabelValues("ok").Inc()
	paymentExpiryLastExpired.Set(float64(expired))
	if expired > 0 {
		w.logger.WithField("expired", expired).Info("stale payments expired")
	}
}

// ExpireStale помечает expired все requested-платежи старше ttl порциями batchSize.
func (w *ExpiryWorker) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	before := now.Add(-w.ttl)

	totalExpired := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalExpired, err
		}

		stale, err := w.payments.ListStaleRequested(before, w.batchSize)
		if err != nil {
			return totalExpired, err
		}

		for _, payment := range stale {
			payment.MarkExpired(now)
			if err := w.payments.Save(payment); err != nil {
				return totalExpired, err
			}
			totalExpired++
			paymentExpiryExpiredTotal.Inc()
		}

		if len(stale) < w.batchSize {
			break
		}
	}

	return totalExpired, nil
}
