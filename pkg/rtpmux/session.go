package rtpmux

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/arzzra/media_telemetry/pkg/pipeline"
	pionrtcp "github.com/pion/rtcp"
	pionrtp "github.com/pion/rtp"
)

// Session внутренняя RTP сессия мультиплексора
type Session struct {
	*pipeline.BaseElement

	id  uint
	mux *Mux

	mu      sync.Mutex
	sources map[uint32]struct{}

	// Параметры из SDP, если сессия создана через ConfigureFromSDP
	media        string
	rtpPort      int
	rtcpPort     int
	payloadTypes []uint8

	receivingRTCP pipeline.Signal[[]byte]

	rtpPackets  atomic.Uint64
	rtcpPackets atomic.Uint64
	invalid     atomic.Uint64
}

func newSession(m *Mux, id uint) *Session {
	return &Session{
		BaseElement: pipeline.NewElement("rtpsession", fmt.Sprintf("rtpsession%d", id)),
		id:          id,
		mux:         m,
		sources:     make(map[uint32]struct{}),
	}
}

// ID возвращает идентификатор сессии внутри мультиплексора
func (s *Session) ID() uint {
	return s.id
}

// ReceivingRTCP сигнал "получен RTCP пакет", несет сырой буфер.
// Буфер принадлежит вызывающему: обработчик не должен сохранять ссылку на него.
func (s *Session) ReceivingRTCP() *pipeline.Signal[[]byte] {
	return &s.receivingRTCP
}

// SetPorts задает RTP и RTCP порты сессии для Ingress
func (s *Session) SetPorts(rtpPort, rtcpPort int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rtpPort = rtpPort
	s.rtcpPort = rtcpPort
	s.SetProperty("rtp-port", fmt.Sprint(rtpPort))
	s.SetProperty("rtcp-port", fmt.Sprint(rtcpPort))
}

// Ports возвращает RTP и RTCP порты сессии
func (s *Session) Ports() (rtpPort, rtcpPort int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtpPort, s.rtcpPort
}

// Media возвращает тип медиа из SDP ("audio", "video") и payload types
func (s *Session) Media() (string, []uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pts := make([]uint8, len(s.payloadTypes))
	copy(pts, s.payloadTypes)
	return s.media, pts
}

// PushRTP обрабатывает входящий RTP пакет
func (s *Session) PushRTP(buf []byte) error {
	var packet pionrtp.Packet
	if err := packet.Unmarshal(buf); err != nil {
		s.invalid.Add(1)
		return fmt.Errorf("сессия %d: некорректный RTP пакет: %w", s.id, err)
	}

	s.rtpPackets.Add(1)
	s.learn(packet.SSRC)
	return nil
}

// PushRTCP обрабатывает входящий RTCP пакет.
//
// Сначала эмитируется ReceivingRTCP с исходным буфером, затем сессия узнает
// SSRC отправителей SR/RR. Поэтому первый пакет от нового источника приходит
// раньше, чем NewSSRC для этого источника.
func (s *Session) PushRTCP(buf []byte) error {
	s.rtcpPackets.Add(1)
	s.receivingRTCP.Emit(buf)

	packets, err := pionrtcp.Unmarshal(buf)
	if err != nil {
		s.invalid.Add(1)
		return fmt.Errorf("сессия %d: некорректный RTCP пакет: %w", s.id, err)
	}

	for _, p := range packets {
		switch pkt := p.(type) {
		case *pionrtcp.SenderReport:
			s.learn(pkt.SSRC)
		case *pionrtcp.ReceiverReport:
			s.learn(pkt.SSRC)
		}
	}
	return nil
}

// Sources возвращает известные сессии SSRC по возрастанию
func (s *Session) Sources() []uint32 {
	s.mu.Lock()
	out := make([]uint32, 0, len(s.sources))
	for ssrc := range s.sources {
		out = append(out, ssrc)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Counters возвращает число принятых RTP, RTCP и отвергнутых пакетов
func (s *Session) Counters() (rtp, rtcp, invalid uint64) {
	return s.rtpPackets.Load(), s.rtcpPackets.Load(), s.invalid.Load()
}

func (s *Session) learn(ssrc uint32) {
	s.mu.Lock()
	_, known := s.sources[ssrc]
	if !known {
		s.sources[ssrc] = struct{}{}
	}
	s.mu.Unlock()

	if !known {
		s.mux.emitNewSSRC(s.id, ssrc)
	}
}
