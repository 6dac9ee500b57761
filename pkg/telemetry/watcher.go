// Package telemetry обнаруживает транспортные сессии, динамически создаваемые
// внутри конвейера, и подключает к каждой обработчик входящих RTCP отчетов.
//
// Цепочка событий:
//
//	контейнер: ElementAdded(rtpbin0) -> подписка на NewSSRC, отписка от ElementAdded
//	мультиплексор: NewSSRC(session) -> InternalSession(session) -> подписка на ReceivingRTCP
//	сессия: ReceivingRTCP(buf) -> rtcp.Decode -> Sink
package telemetry

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/arzzra/media_telemetry/pkg/pipeline"
	"github.com/arzzra/media_telemetry/pkg/rtcp"
	"github.com/arzzra/media_telemetry/pkg/rtpmux"
)

// DefaultMaxLookupAttempts число событий NewSSRC, на которых повторяется
// поиск недоступной внутренней сессии
const DefaultMaxLookupAttempts = 3

// ChildNotifier контейнер конвейера, сообщающий о добавлении дочерних элементов
type ChildNotifier interface {
	ElementAdded() *pipeline.Signal[pipeline.Element]
}

// MuxElement мультиплексор сессий, который ищет Watcher
type MuxElement interface {
	pipeline.Element
	NewSSRC() *pipeline.Signal[rtpmux.SSRCEvent]
	InternalSession(id uint) (*rtpmux.Session, bool)
}

// WatcherConfig конфигурация наблюдателя
type WatcherConfig struct {
	MuxName           string       // Имя элемента мультиплексора (по умолчанию rtpmux.DefaultName)
	MaxLookupAttempts int          // 0 - DefaultMaxLookupAttempts, <0 - без ограничения
	Sink              Sink         // nil - статистика никуда не передается
	Logger            *slog.Logger // nil - slog.Default()
}

// Watcher обнаруживает мультиплексор и подключает обработчики отчетов к его сессиям
type Watcher struct {
	config   WatcherConfig
	registry *Registry
	sink     Sink
	logger   *slog.Logger

	mu        sync.Mutex
	container ChildNotifier
	addedID   pipeline.HandlerID
	mux       MuxElement
	ssrcID    pipeline.HandlerID
}

// NewWatcher создает наблюдатель. registry nil - создается новый реестр.
func NewWatcher(config WatcherConfig, registry *Registry) *Watcher {
	if config.MuxName == "" {
		config.MuxName = rtpmux.DefaultName
	}
	if config.MaxLookupAttempts == 0 {
		config.MaxLookupAttempts = DefaultMaxLookupAttempts
	}
	if registry == nil {
		registry = NewRegistry()
	}

	sink := config.Sink
	if sink == nil {
		sink = nopSink{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		config:   config,
		registry: registry,
		sink:     sink,
		logger:   logger.With(slog.String("component", "session_watcher")),
	}
}

// Registry возвращает реестр сессий наблюдателя
func (w *Watcher) Registry() *Registry {
	return w.registry
}

// Watch подписывается на добавление элементов в container.
// Если мультиплексор уже находится в контейнере, он обнаруживается сразу.
func (w *Watcher) Watch(container ChildNotifier) {
	if finder, ok := container.(interface {
		ByName(string) (pipeline.Element, bool)
	}); ok {
		if existing, found := finder.ByName(w.config.MuxName); found {
			w.mu.Lock()
			w.container = container
			w.mu.Unlock()
			w.onChildAdded(existing)
			return
		}
	}

	w.mu.Lock()
	w.container = container
	w.addedID = container.ElementAdded().Connect(w.onChildAdded)
	w.mu.Unlock()

	w.logger.Debug("ожидание мультиплексора", slog.String("mux", w.config.MuxName))
}

// Active сообщает, подключен ли еще одноразовый обработчик ElementAdded
func (w *Watcher) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addedID != 0
}

// Mux возвращает найденный мультиплексор или nil
func (w *Watcher) Mux() MuxElement {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mux
}

func (w *Watcher) onChildAdded(child pipeline.Element) {
	w.logger.Debug("элемент добавлен", slog.String("name", child.Name()))

	if child.Name() != w.config.MuxName {
		return
	}

	mux, ok := child.(MuxElement)
	if !ok {
		w.logger.Warn("элемент с именем мультиплексора не управляет сессиями",
			slog.String("name", child.Name()),
			slog.String("factory", child.Factory()))
		return
	}

	w.mu.Lock()
	if w.mux != nil {
		w.mu.Unlock()
		return
	}
	w.mux = mux
	w.ssrcID = mux.NewSSRC().Connect(w.onNewSession)

	addedID := w.addedID
	w.addedID = 0
	container := w.container
	w.mu.Unlock()

	if addedID != 0 && container != nil {
		container.ElementAdded().Disconnect(addedID)
	}

	w.logger.Info("мультиплексор найден", slog.String("mux", child.Name()))
}

func (w *Watcher) onNewSession(ev rtpmux.SSRCEvent) {
	w.mu.Lock()
	mux := w.mux
	w.mu.Unlock()
	if mux == nil {
		return
	}

	result, attempts := w.registry.hook(ev.Session, w.config.MaxLookupAttempts, func() (pipeline.HandlerID, error) {
		internal, ok := mux.InternalSession(ev.Session)
		if !ok || internal == nil {
			return 0, ErrLookupFailure
		}

		session := ev.Session
		return internal.ReceivingRTCP().Connect(func(buf []byte) {
			w.onReportArrival(session, buf)
		}), nil
	})

	attrs := []any{
		slog.Uint64("session", uint64(ev.Session)),
		slog.Uint64("ssrc", uint64(ev.SSRC)),
	}

	switch result {
	case hookAttached:
		w.logger.Info("обработчик RTCP подключен", attrs...)
	case hookAlreadyHooked:
		w.logger.Debug("обработчик RTCP уже подключен", attrs...)
	case hookLookupFailed:
		w.logger.Warn("внутренняя сессия недоступна, попытка будет повторена на следующем NewSSRC",
			append(attrs, slog.Int("attempt", attempts), slog.String("error", ErrLookupFailure.Error()))...)
		w.sink.LookupFailed(ev.Session)
	case hookAbandoned:
		w.logger.Debug("поиск внутренней сессии прекращен", append(attrs, slog.Int("attempts", attempts))...)
	}

	if result == hookLookupFailed && w.config.MaxLookupAttempts > 0 && attempts >= w.config.MaxLookupAttempts {
		w.logger.Error("внутренняя сессия так и не появилась, статистика сессии недоступна",
			append(attrs, slog.Int("attempts", attempts))...)
	}
}

func (w *Watcher) onReportArrival(session uint, buf []byte) {
	reports, err := rtcp.Decode(buf)
	if err != nil {
		w.logger.Warn("некорректный RTCP пакет отброшен",
			slog.Uint64("session", uint64(session)),
			slog.Int("size", len(buf)),
			slog.String("error", err.Error()))
		w.sink.Malformed(session, err)
		return
	}

	w.sink.Reports(session, reports)
}

// Close отключает все обработчики и очищает реестр.
// Вызывается, когда конвейер, владеющий мультиплексором, уничтожается.
func (w *Watcher) Close() error {
	w.mu.Lock()
	container, addedID := w.container, w.addedID
	mux, ssrcID := w.mux, w.ssrcID
	w.container, w.addedID, w.mux, w.ssrcID = nil, 0, nil, 0
	w.mu.Unlock()

	if container != nil && addedID != 0 {
		container.ElementAdded().Disconnect(addedID)
	}
	if mux == nil {
		w.registry.clear()
		return nil
	}
	mux.NewSSRC().Disconnect(ssrcID)

	var errs []error
	for _, s := range w.registry.clear() {
		if !s.Hooked {
			continue
		}
		internal, ok := mux.InternalSession(s.ID)
		if !ok {
			errs = append(errs, ErrLookupFailure)
			continue
		}
		internal.ReceivingRTCP().Disconnect(s.handler)
	}
	return errors.Join(errs...)
}
