// Package bus реализует внутрипроцессную шину доменных событий.
// Публикация неблокирующая для вызывающего; доставку выполняет
// единственная горутина-диспетчер, сохраняющая порядок публикации.
package bus

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/IJaes/jeogiyo-server-sub000/internal/domain"
)

const defaultBufferSize = 256

// Handler обрабатывает доменные события заказов. Ошибки обработчик
// логирует сам: шина работает в режиме fire-and-forget.
type Handler interface {
	HandleOrderPlaced(ctx context.Context, event domain.OrderPlaced)
	HandleUserCancelRequested(ctx context.Context, event domain.UserCancelRequested)
	HandleOwnerCancelRequested(ctx context.Context, event domain.OwnerCancelRequested)
}

// Bus — буферизованная шина событий с одним диспетчером.
type Bus struct {
	events   chan domain.Event
	handlers []Handler
	logger   *log.Entry
	done     chan struct{}
}

// Option настраивает шину.
type Option func(*Bus)

// WithBufferSize задаёт размер буфера канала событий.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.events = make(chan domain.Event, size)
		}
	}
}

// WithLogger задаёт логгер шины.
func WithLogger(logger *log.Entry) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// New создаёт шину. Обработчики регистрируются до запуска Run.
func New(opts ...Option) *Bus {
	b := &Bus{
		events: make(chan domain.Event, defaultBufferSize),
		logger: log.WithField("component", "event-bus"),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe регистрирует обработчик. Не потокобезопасно относительно Run.
func (b *Bus) Subscribe(handler Handler) {
	b.handlers = append(b.handlers, handler)
}

// Publish ставит событие в очередь доставки. Вызывается после фиксации
// изменений в хранилище, чтобы обработчики видели актуальное состояние.
func (b *Bus) Publish(event domain.Event) {
	select {
	case b.events <- event:
	default:
		// Переполненный буфер не должен блокировать запись заказа.
		b.logger.WithField("event", event.EventName()).Error("event bus buffer full, event dropped")
	}
}

// Run запускает цикл диспетчеризации и блокируется до отмены контекста.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)
	b.logger.Info("event bus started")

	for {
		select {
		case <-ctx.Done():
			b.drain(ctx)
			b.logger.Info("event bus stopped")
			return
		case event := <-b.events:
			b.dispatch(ctx, event)
		}
	}
}

// Done закрывается после завершения Run.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// drain доставляет уже опубликованные события перед остановкой.
func (b *Bus) drain(ctx context.Context) {
	for {
		select {
		case event := <-b.events:
			b.dispatch(ctx, event)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event) {
	for _, handler := range b.handlers {
		switch e := event.(type) {
		case domain.OrderPlaced:
			handler.HandleOrderPlaced(ctx, e)
		case domain.UserCancelRequested:
			handler.HandleUserCancelRequested(ctx, e)
		case domain.OwnerCancelRequested:
			handler.HandleOwnerCancelRequested(ctx, e)
		default:
			b.logger.WithField("event", event.EventName()).Warn("unknown event type")
		}
	}
}
