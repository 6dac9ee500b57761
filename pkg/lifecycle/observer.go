// Package lifecycle наблюдает за жизненным циклом конвейера: ведет конечный
// автомат состояний по сообщениям шины, запрашивает снимок топологии при
// входе в выбранные состояния и завершает управляющий цикл на EOS или ошибке.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/arzzra/media_telemetry/pkg/pipeline"
	"github.com/looplab/fsm"
)

// Состояния автомата наблюдателя. Первые четыре совпадают с pipeline.State.String().
const (
	StateNull    = "null"
	StateReady   = "ready"
	StatePaused  = "paused"
	StatePlaying = "playing"
	StateEOS     = "eos"
	StateError   = "error"
)

const (
	eventEOS   = "eos"
	eventError = "error"
)

// Scheduler управляющий цикл, на котором выполняется отложенная работа
type Scheduler interface {
	Invoke(fn func())
	Quit()
}

// Exporter экспортирует снимок топологии конвейера
type Exporter interface {
	Export(root pipeline.Container, label string) (string, error)
}

// ObserverConfig конфигурация наблюдателя
type ObserverConfig struct {
	// Root корневой конвейер. Переходы остальных элементов не влияют на автомат.
	Root pipeline.Container
	// Exporter nil - снимки не делаются
	Exporter Exporter
	// SnapshotStates состояния, при входе в которые запрашивается снимок.
	// По умолчанию только playing.
	SnapshotStates []pipeline.State
	// OnExport вызывается после каждой попытки экспорта
	OnExport func(label, path string, err error)
	Logger   *slog.Logger
}

// Observer конечный автомат состояния конвейера
type Observer struct {
	config    ObserverConfig
	scheduler Scheduler
	logger    *slog.Logger
	snapshot  map[string]bool

	machine *fsm.FSM

	mu         sync.Mutex
	terminated bool
}

// NewObserver создает наблюдатель в состоянии null
func NewObserver(config ObserverConfig, scheduler Scheduler) *Observer {
	if len(config.SnapshotStates) == 0 {
		config.SnapshotStates = []pipeline.State{pipeline.StatePlaying}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Observer{
		config:    config,
		scheduler: scheduler,
		logger:    logger.With(slog.String("component", "lifecycle")),
		snapshot:  make(map[string]bool, len(config.SnapshotStates)),
	}
	for _, s := range config.SnapshotStates {
		o.snapshot[s.String()] = true
	}

	o.initStateMachine()
	return o
}

// initStateMachine инициализирует автомат: любое рабочее состояние может
// перейти в любое другое рабочее, eos и error терминальные
func (o *Observer) initStateMachine() {
	running := []string{StateNull, StateReady, StatePaused, StatePlaying}

	events := fsm.Events{
		{Name: eventEOS, Src: running, Dst: StateEOS},
		{Name: eventError, Src: running, Dst: StateError},
	}
	for _, dst := range running {
		src := make([]string, 0, len(running)-1)
		for _, s := range running {
			if s != dst {
				src = append(src, s)
			}
		}
		events = append(events, fsm.EventDesc{Name: transitionEvent(dst), Src: src, Dst: dst})
	}

	o.machine = fsm.NewFSM(
		StateNull,
		events,
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				o.handleEnterState(e)
			},
		},
	)
}

func transitionEvent(state string) string {
	return "to_" + state
}

// State возвращает текущее состояние автомата
func (o *Observer) State() string {
	return o.machine.Current()
}

// Terminated сообщает, достиг ли автомат eos или error
func (o *Observer) Terminated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.terminated
}

// HandleMessage обрабатывает одно сообщение шины. После терминального
// сообщения все последующие игнорируются.
func (o *Observer) HandleMessage(msg pipeline.Message) {
	if o.Terminated() {
		return
	}

	switch m := msg.(type) {
	case *pipeline.StateChanged:
		o.handleStateChanged(m)

	case *pipeline.EndOfStream:
		o.logger.Info("End of stream")
		o.fire(eventEOS)
		o.terminate()

	case *pipeline.ErrorMessage:
		attrs := []any{slog.String("error", m.Text)}
		if m.Debug != "" {
			attrs = append(attrs, slog.String("debug", m.Debug))
		}
		if m.Source != nil {
			attrs = append(attrs, slog.String("source", m.Source.Name()))
		}
		o.logger.Error("ошибка конвейера", attrs...)
		o.fire(eventError)
		o.terminate()
	}
}

func (o *Observer) handleStateChanged(m *pipeline.StateChanged) {
	if m.Source != pipeline.Element(o.config.Root) {
		if m.Source != nil {
			o.logger.Debug("смена состояния элемента",
				slog.String("element", m.Source.Name()),
				slog.String("old", m.Old.String()),
				slog.String("new", m.New.String()))
		}
		return
	}

	o.logger.Info("смена состояния конвейера",
		slog.String("old", m.Old.String()),
		slog.String("new", m.New.String()),
		slog.String("pending", m.Pending.String()))

	if o.machine.Current() == m.New.String() {
		return
	}
	o.fire(transitionEvent(m.New.String()))
}

func (o *Observer) fire(event string) {
	err := o.machine.Event(context.Background(), event)
	if err == nil {
		return
	}

	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return
	}
	o.logger.Warn("переход отклонен автоматом",
		slog.String("event", event),
		slog.String("state", o.machine.Current()),
		slog.String("error", err.Error()))
}

func (o *Observer) handleEnterState(e *fsm.Event) {
	if !o.snapshot[e.Dst] || o.config.Exporter == nil {
		return
	}

	label := e.Dst
	o.scheduler.Invoke(func() {
		path, err := o.config.Exporter.Export(o.config.Root, label)
		if err != nil {
			o.logger.Warn("не удалось экспортировать снимок конвейера",
				slog.String("label", label),
				slog.String("error", err.Error()))
		} else {
			o.logger.Info("снимок конвейера создан",
				slog.String("label", label),
				slog.String("image", path))
		}

		if o.config.OnExport != nil {
			o.config.OnExport(label, path, err)
		}
	})
}

func (o *Observer) terminate() {
	o.mu.Lock()
	if o.terminated {
		o.mu.Unlock()
		return
	}
	o.terminated = true
	o.mu.Unlock()

	o.scheduler.Quit()
}
