package pipeline

import "sync"

// Bus неограниченная FIFO очередь сообщений конвейера
//
// Post никогда не блокируется. Читатель ждет на канале Notify и забирает
// сообщения через Pop, пока очередь не опустеет.
type Bus struct {
	mu     sync.Mutex
	queue  []Message
	notify chan struct{}
}

// NewBus создает пустую шину
func NewBus() *Bus {
	return &Bus{notify: make(chan struct{}, 1)}
}

// Post ставит сообщение в очередь
func (b *Bus) Post(msg Message) {
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Pop извлекает первое сообщение
func (b *Bus) Pop() (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return nil, false
	}
	msg := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return msg, true
}

// Notify возвращает канал, в который приходит сигнал после Post
func (b *Bus) Notify() <-chan struct{} {
	return b.notify
}

// Len возвращает число сообщений в очереди
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
