package settlement

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultRetryDelay = 5 * time.Second
	defaultMaxRetries = 2
)

// RetryTask — чистое описание отложенного повтора списания. Задача не несёт
// состояния платежа: при срабатывании платёж перечитывается из хранилища,
// поэтому перезапуск процесса не приводит к повторному списанию.
type RetryTask struct {
	OrderID string
	Attempt int
}

// Charger выполняет повтор списания по заказу. Реализуется оркестратором.
type Charger interface {
	RetryCharge(ctx context.Context, orderID string, attempt int)
}

// Scheduler планирует отложенные повторы списаний.
type Scheduler interface {
	Schedule(task RetryTask) bool
}

// RetryScheduler — планировщик с фиксированной задержкой (без backoff)
// и ограничением на число повторов.
type RetryScheduler struct {
	delay      time.Duration
	maxRetries int
	logger     *log.Entry

	mu      sync.Mutex
	charger Charger
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// SchedulerOption настраивает RetryScheduler.
type SchedulerOption func(*RetryScheduler)

// WithRetryDelay задаёт задержку перед повтором.
func WithRetryDelay(delay time.Duration) SchedulerOption {
	return func(s *RetryScheduler) {
		if delay > 0 {
			s.delay = delay
		}
	}
}

// WithMaxRetries задаёт максимальное число повторов на платёж.
func WithMaxRetries(maxRetries int) SchedulerOption {
	return func(s *RetryScheduler) {
		if maxRetries >= 0 {
			s.maxRetries = maxRetries
		}
	}
}

// WithSchedulerLogger задаёт логгер планировщика.
func WithSchedulerLogger(logger *log.Entry) SchedulerOption {
	return func(s *RetryScheduler) {
		s.logger = logger
	}
}

// NewRetryScheduler создаёт планировщик. До вызова Bind задачи отклоняются.
func NewRetryScheduler(options ...SchedulerOption) *RetryScheduler {
	s := &RetryScheduler{
		delay:      defaultRetryDelay,
		maxRetries: defaultMaxRetries,
		logger:     log.WithField("component", "retry-scheduler"),
		timers:     make(map[string]*time.Timer),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Bind связывает планировщик с исполнителем повторов. Разрывает цикл
// зависимостей: оркестратор ссылается на планировщик, а не наоборот.
func (s *RetryScheduler) Bind(charger Charger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charger = charger
}

// MaxRetries возвращает предел повторов планировщика.
func (s *RetryScheduler) MaxRetries() int {
	return s.maxRetries
}

// Schedule ставит повтор в очередь. Возвращает false, если лимит повторов
// исчерпан, планировщик остановлен или не привязан к исполнителю.
func (s *RetryScheduler) Schedule(task RetryTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.charger == nil {
		return false
	}
	if task.Attempt < 1 || task.Attempt > s.maxRetries {
		return false
	}

	// Повторное планирование для того же заказа заменяет предыдущий таймер.
	if existing, ok := s.timers[task.OrderID]; ok {
		if existing.Stop() {
			s.wg.Done()
		}
		delete(s.timers, task.OrderID)
	}

	s.wg.Add(1)
	s.timers[task.OrderID] = time.AfterFunc(s.delay, func() {
		defer s.wg.Done()

		s.mu.Lock()
		delete(s.timers, task.OrderID)
		stopped := s.stopped
		charger := s.charger
		s.mu.Unlock()

		if stopped {
			return
		}
		charger.RetryCharge(context.Background(), task.OrderID, task.Attempt)
	})

	s.logger.WithFields(log.Fields{
		"order_id": task.OrderID,
		"attempt":  task.Attempt,
		"delay":    s.delay,
	}).Info("charge retry scheduled")
	return true
}

// Stop отменяет запланированные повторы и дожидается запущенных.
func (s *RetryScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, timer := range s.timers {
		if timer.Stop() {
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

var _ Scheduler = (*RetryScheduler)(nil)
