package pipeline

import (
	"sort"
	"sync"
)

// Element объект конвейера. Реализации получают методы, встраивая *BaseElement или *Bin.
type Element interface {
	Name() string
	Factory() string
	State() State
	Properties() map[string]string

	setState(State)
}

// Container элемент, содержащий дочерние элементы
type Container interface {
	Element
	Children() []Element
	Links() []Link
}

// Link связь между двумя элементами одного контейнера
type Link struct {
	Src Element
	Dst Element
}

// BaseElement базовая реализация Element
type BaseElement struct {
	name    string
	factory string

	mu    sync.RWMutex
	state State
	props map[string]string
}

// NewElement создает элемент с именем name, созданный фабрикой factory
func NewElement(factory, name string) *BaseElement {
	return &BaseElement{
		name:    name,
		factory: factory,
		props:   make(map[string]string),
	}
}

func (e *BaseElement) Name() string    { return e.name }
func (e *BaseElement) Factory() string { return e.factory }

// State возвращает текущее состояние элемента
func (e *BaseElement) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *BaseElement) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// SetProperty устанавливает строковое свойство элемента
func (e *BaseElement) SetProperty(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.props[key] = value
}

// Properties возвращает копию свойств
func (e *BaseElement) Properties() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]string, len(e.props))
	for k, v := range e.props {
		out[k] = v
	}
	return out
}

// PropertyKeys возвращает отсортированные имена свойств элемента
func PropertyKeys(e Element) []string {
	props := e.Properties()
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
