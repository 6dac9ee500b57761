package pipeline

import (
	"fmt"
	"sync"
)

// Bin элемент-контейнер. При добавлении дочернего элемента эмитирует ElementAdded.
type Bin struct {
	*BaseElement

	mu       sync.RWMutex
	children []Element
	byName   map[string]Element
	links    []Link

	elementAdded Signal[Element]
}

// NewBin создает пустой контейнер
func NewBin(factory, name string) *Bin {
	return &Bin{
		BaseElement: NewElement(factory, name),
		byName:      make(map[string]Element),
	}
}

// ElementAdded сигнал "дочерний элемент добавлен"
func (b *Bin) ElementAdded() *Signal[Element] {
	return &b.elementAdded
}

// Add добавляет элементы в контейнер. Имена внутри контейнера уникальны.
//
// Сигнал ElementAdded эмитируется для каждого элемента после добавления,
// вне блокировки, поэтому обработчик может обращаться к контейнеру.
func (b *Bin) Add(elements ...Element) error {
	for _, e := range elements {
		b.mu.Lock()
		if _, exists := b.byName[e.Name()]; exists {
			b.mu.Unlock()
			return fmt.Errorf("элемент с именем %q уже есть в %q", e.Name(), b.Name())
		}
		b.children = append(b.children, e)
		b.byName[e.Name()] = e
		b.mu.Unlock()

		b.elementAdded.Emit(e)
	}
	return nil
}

// Link связывает два дочерних элемента
func (b *Bin) Link(src, dst Element) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.byName[src.Name()] != src {
		return fmt.Errorf("элемент %q не принадлежит %q", src.Name(), b.Name())
	}
	if b.byName[dst.Name()] != dst {
		return fmt.Errorf("элемент %q не принадлежит %q", dst.Name(), b.Name())
	}

	b.links = append(b.links, Link{Src: src, Dst: dst})
	return nil
}

// LinkMany связывает элементы цепочкой
func (b *Bin) LinkMany(elements ...Element) error {
	for i := 1; i < len(elements); i++ {
		if err := b.Link(elements[i-1], elements[i]); err != nil {
			return err
		}
	}
	return nil
}

// Children возвращает дочерние элементы в порядке добавления
func (b *Bin) Children() []Element {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Element, len(b.children))
	copy(out, b.children)
	return out
}

// Links возвращает связи в порядке создания
func (b *Bin) Links() []Link {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Link, len(b.links))
	copy(out, b.links)
	return out
}

// ByName ищет дочерний элемент по имени
func (b *Bin) ByName(name string) (Element, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.byName[name]
	return e, ok
}
