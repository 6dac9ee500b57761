package telemetry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/arzzra/media_telemetry/pkg/pipeline"
)

// ErrLookupFailure внутренняя сессия мультиплексора недоступна.
// Диагностическая ошибка: событие пропускается, конвейер продолжает работу.
var ErrLookupFailure = errors.New("telemetry: внутренняя сессия недоступна")

// Session запись реестра об обнаруженной транспортной сессии
type Session struct {
	ID       uint
	Hooked   bool      // Обработчик отчетов подключен
	Attempts int       // Число неудачных попыток получить внутреннюю сессию
	HookedAt time.Time // Время подключения обработчика

	handler pipeline.HandlerID
}

// hookResult итог попытки подключить обработчик
type hookResult int

const (
	hookAttached hookResult = iota
	hookAlreadyHooked
	hookLookupFailed
	hookAbandoned
)

// Registry реестр сессий. Поиск, создание записи и подключение обработчика
// выполняются под одной блокировкой, поэтому обработчик для сессии
// подключается не более одного раза, с какой бы горутины ни пришло событие.
type Registry struct {
	mu       sync.Mutex
	sessions map[uint]*Session
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uint]*Session)}
}

// hook находит или создает запись и, если обработчик еще не подключен,
// вызывает attach. attach возвращает ErrLookupFailure, если внутренняя сессия
// недоступна; после maxAttempts таких неудач попытки прекращаются.
func (r *Registry) hook(id uint, maxAttempts int, attach func() (pipeline.HandlerID, error)) (hookResult, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		s = &Session{ID: id}
		r.sessions[id] = s
	}

	if s.Hooked {
		return hookAlreadyHooked, s.Attempts
	}
	if maxAttempts > 0 && s.Attempts >= maxAttempts {
		return hookAbandoned, s.Attempts
	}

	handler, err := attach()
	if err != nil {
		s.Attempts++
		return hookLookupFailed, s.Attempts
	}

	s.Hooked = true
	s.HookedAt = time.Now()
	s.handler = handler
	return hookAttached, s.Attempts
}

// Get возвращает копию записи о сессии
func (r *Registry) Get(id uint) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Sessions возвращает копии всех записей по возрастанию идентификатора
func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len возвращает число записей
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// clear удаляет все записи и возвращает их для отключения обработчиков
func (r *Registry) clear() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, *s)
		delete(r.sessions, id)
	}
	return out
}
