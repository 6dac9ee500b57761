package pipeline

import (
	"fmt"
	"strings"
)

// State состояние элемента конвейера
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

// String возвращает имя состояния в нижнем регистре, оно же используется как метка снимка
func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState разбирает имя состояния, регистр не учитывается
func ParseState(name string) (State, error) {
	for s := StateNull; s <= StatePlaying; s++ {
		if strings.EqualFold(s.String(), name) {
			return s, nil
		}
	}
	return StateNull, fmt.Errorf("неизвестное состояние конвейера: %q", name)
}

// step возвращает следующее состояние на пути к target
func (s State) step(target State) State {
	switch {
	case s < target:
		return s + 1
	case s > target:
		return s - 1
	default:
		return s
	}
}
