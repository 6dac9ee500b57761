package pipeline

// Message сообщение шины конвейера: *StateChanged, *EndOfStream или *ErrorMessage
type Message interface {
	// Src возвращает объект, отправивший сообщение
	Src() Element

	isMessage()
}

// StateChanged элемент Source перешел из Old в New
type StateChanged struct {
	Source  Element
	Old     State
	New     State
	Pending State // Целевое состояние, если переход еще не завершен
}

func (m *StateChanged) Src() Element { return m.Source }
func (*StateChanged) isMessage()     {}

// EndOfStream поток данных завершился
type EndOfStream struct {
	Source Element
}

func (m *EndOfStream) Src() Element { return m.Source }
func (*EndOfStream) isMessage()     {}

// ErrorMessage ошибка элемента конвейера
type ErrorMessage struct {
	Source Element
	Text   string // Сообщение для человека
	Debug  string // Отладочная информация, может быть пустой
}

func (m *ErrorMessage) Src() Element { return m.Source }
func (*ErrorMessage) isMessage()     {}
