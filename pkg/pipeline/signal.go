package pipeline

import "sync"

// HandlerID идентификатор подключенного обработчика. Нулевое значение не выдается.
type HandlerID uint64

// Signal таблица обработчиков одного вида событий с полезной нагрузкой T
//
// Emit вызывает обработчики синхронно в порядке подключения. Обработчик,
// отключенный во время эмиссии (включая самоотключение), больше не вызывается,
// даже если текущая эмиссия до него еще не дошла.
type Signal[T any] struct {
	mu       sync.Mutex
	next     HandlerID
	handlers []*handler[T]
}

type handler[T any] struct {
	id        HandlerID
	fn        func(T)
	connected bool
}

// Connect подключает обработчик и возвращает его идентификатор
func (s *Signal[T]) Connect(fn func(T)) HandlerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	s.handlers = append(s.handlers, &handler[T]{id: s.next, fn: fn, connected: true})
	return s.next
}

// Disconnect отключает обработчик. Возвращает false, если обработчик не найден.
func (s *Signal[T]) Disconnect(id HandlerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, h := range s.handlers {
		if h.id == id {
			h.connected = false
			s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Emit вызывает все подключенные обработчики
func (s *Signal[T]) Emit(value T) {
	s.mu.Lock()
	snapshot := make([]*handler[T], len(s.handlers))
	copy(snapshot, s.handlers)
	s.mu.Unlock()

	for _, h := range snapshot {
		s.mu.Lock()
		connected := h.connected
		s.mu.Unlock()

		if connected {
			h.fn(value)
		}
	}
}

// HandlerCount возвращает число подключенных обработчиков
func (s *Signal[T]) HandlerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}
