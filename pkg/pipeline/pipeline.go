package pipeline

import "sync"

// Pipeline корневой контейнер с собственной шиной сообщений
type Pipeline struct {
	*Bin

	bus     *Bus
	stateMu sync.Mutex
}

// New создает конвейер с именем name в состоянии StateNull
func New(name string) *Pipeline {
	return &Pipeline{
		Bin: NewBin("pipeline", name),
		bus: NewBus(),
	}
}

// Bus возвращает шину конвейера
func (p *Pipeline) Bus() *Bus {
	return p.bus
}

// SetState переводит конвейер в target через все промежуточные состояния.
//
// На каждом шаге сначала меняются дочерние элементы (вложенные контейнеры
// рекурсивно, от последнего добавленного к первому), затем сам конвейер.
// Для каждого объекта в шину отправляется StateChanged с этим объектом
// в качестве источника.
func (p *Pipeline) SetState(target State) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	for current := p.State(); current != target; current = p.State() {
		next := current.step(target)
		p.changeChildren(p.Bin, next, target)

		p.setState(next)
		p.bus.Post(&StateChanged{Source: p, Old: current, New: next, Pending: target})
	}
}

// PostEndOfStream отправляет EOS от имени конвейера
func (p *Pipeline) PostEndOfStream() {
	p.bus.Post(&EndOfStream{Source: p})
}

// PostError отправляет сообщение об ошибке от имени элемента src
func (p *Pipeline) PostError(src Element, text, debug string) {
	p.bus.Post(&ErrorMessage{Source: src, Text: text, Debug: debug})
}

func (p *Pipeline) changeChildren(c Container, next, target State) {
	children := c.Children()
	for i := len(children) - 1; i >= 0; i-- {
		child := children[i]
		if nested, ok := child.(Container); ok {
			p.changeChildren(nested, next, target)
		}

		old := child.State()
		if old == next {
			continue
		}
		child.setState(next)
		p.bus.Post(&StateChanged{Source: child, Old: old, New: next, Pending: target})
	}
}
