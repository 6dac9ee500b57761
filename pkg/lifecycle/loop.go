package lifecycle

import (
	"context"
	"sync"

	"github.com/arzzra/media_telemetry/pkg/pipeline"
)

// Loop управляющий цикл конвейера
//
// Сообщения шины доставляются обработчику строго по одному и в порядке
// поступления. Работа, запрошенная через Invoke, выполняется на том же цикле
// после завершения текущей доставки и до следующего сообщения.
//
// Quit кооперативный: текущая доставка и уже запрошенные Invoke
// завершаются, оставшиеся в шине сообщения не доставляются.
type Loop struct {
	bus *pipeline.Bus

	mu      sync.Mutex
	pending []func()
	wake    chan struct{}

	quit     chan struct{}
	quitOnce sync.Once
}

// NewLoop создает цикл над шиной bus
func NewLoop(bus *pipeline.Bus) *Loop {
	return &Loop{
		bus:  bus,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

// Invoke запрашивает выполнение fn на цикле. Безопасен для вызова с любой горутины.
func (l *Loop) Invoke(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Quit запрашивает завершение Run. Повторные вызовы ничего не делают.
func (l *Loop) Quit() {
	l.quitOnce.Do(func() { close(l.quit) })
}

// Done закрывается после Quit
func (l *Loop) Done() <-chan struct{} {
	return l.quit
}

// Run доставляет сообщения шины в handle до Quit или отмены ctx.
// Возвращает nil после Quit и ctx.Err() при отмене.
func (l *Loop) Run(ctx context.Context, handle func(pipeline.Message)) error {
	for {
		l.runPending()

		select {
		case <-l.quit:
			return nil
		default:
		}

		if msg, ok := l.bus.Pop(); ok {
			handle(msg)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.quit:
		case <-l.bus.Notify():
		case <-l.wake:
		}
	}
}

func (l *Loop) runPending() {
	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}
