// Package rtpmux содержит мультиплексор RTP сессий (аналог rtpbin) на границе
// с подсистемой телеметрии.
//
// Mux управляет несколькими внутренними сессиями одного конвейера. Каждая
// сессия узнает новые SSRC из входящих RTP и RTCP пакетов и сообщает о них
// сигналом NewSSRC, а сырые RTCP пакеты отдает сигналом ReceivingRTCP до
// собственной обработки.
package rtpmux

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/arzzra/media_telemetry/pkg/pipeline"
)

// DefaultName имя элемента мультиплексора по умолчанию
const DefaultName = "rtpbin0"

// SSRCEvent в сессии Session появился новый источник SSRC
type SSRCEvent struct {
	Session uint
	SSRC    uint32
}

// Config конфигурация мультиплексора
type Config struct {
	Name   string       // Имя элемента в конвейере (по умолчанию DefaultName)
	Logger *slog.Logger // nil - slog.Default()
}

// Mux элемент-контейнер, владеющий внутренними RTP сессиями
type Mux struct {
	*pipeline.Bin

	mu       sync.RWMutex
	sessions map[uint]*Session

	newSSRC pipeline.Signal[SSRCEvent]
	logger  *slog.Logger
}

// New создает мультиплексор без сессий
func New(config Config) *Mux {
	name := config.Name
	if name == "" {
		name = DefaultName
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Mux{
		Bin:      pipeline.NewBin("rtpbin", name),
		sessions: make(map[uint]*Session),
		logger:   logger.With(slog.String("component", "rtpmux"), slog.String("element", name)),
	}
}

// NewSSRC сигнал "новый источник в сессии"
func (m *Mux) NewSSRC() *pipeline.Signal[SSRCEvent] {
	return &m.newSSRC
}

// AddSession создает внутреннюю сессию с идентификатором id
func (m *Mux) AddSession(id uint) (*Session, error) {
	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("сессия %d уже существует в %q", id, m.Name())
	}

	s := newSession(m, id)
	m.sessions[id] = s
	m.mu.Unlock()

	if err := m.Add(s); err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, err
	}

	m.logger.Debug("создана внутренняя сессия", slog.Uint64("session", uint64(id)))
	return s, nil
}

// InternalSession возвращает внутреннюю сессию по идентификатору
func (m *Mux) InternalSession(id uint) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	return s, ok
}

// Sessions возвращает сессии, упорядоченные по идентификатору
func (m *Mux) Sessions() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (m *Mux) emitNewSSRC(session uint, ssrc uint32) {
	m.logger.Info("новый источник",
		slog.Uint64("session", uint64(session)),
		slog.Uint64("ssrc", uint64(ssrc)))

	m.newSSRC.Emit(SSRCEvent{Session: session, SSRC: ssrc})
}
