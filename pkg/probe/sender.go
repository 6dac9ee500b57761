// Package probe генерирует тестовый медиа поток: RTP пакеты и составные
// RTCP пакеты (SR от отправителя и RR от имитируемого получателя) на порты
// сессии мультиплексора. Используется для проверки мониторинга без
// настоящего медиа движка.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	pionrtcp "github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Config конфигурация генератора
type Config struct {
	Host     string // Адрес получателя
	RTPPort  int
	RTCPPort int

	SSRC         uint32 // SSRC потока
	ReceiverSSRC uint32 // SSRC имитируемого получателя, 0 - RR не отправляются
	PayloadType  uint8
	ClockRate    uint32
	CNAME        string

	PacketInterval time.Duration // Интервал RTP пакетов
	ReportInterval time.Duration // Интервал RTCP отчетов
	PayloadSize    int

	// DropEvery каждый N-й пакет не отправляется и учитывается получателем как потерянный.
	// 0 - без потерь.
	DropEvery int

	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию для потока 8 кГц с пакетами по 20 мс
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		RTPPort:        5004,
		RTCPPort:       5005,
		SSRC:           0x5EED0001,
		ReceiverSSRC:   0x5EED0002,
		PayloadType:    0,
		ClockRate:      8000,
		CNAME:          "probe@media-telemetry",
		PacketInterval: 20 * time.Millisecond,
		ReportInterval: time.Second,
		PayloadSize:    160,
	}
}

// Counters счетчики генератора
type Counters struct {
	PacketsSent    uint64
	PacketsDropped uint64
	OctetsSent     uint64
	ReportsSent    uint64
}

// Sender генератор потока
type Sender struct {
	config Config
	logger *slog.Logger
	stats  *ReceptionStats

	seq       uint16
	timestamp uint32
	start     time.Time

	packetsSent    atomic.Uint64
	packetsDropped atomic.Uint64
	octetsSent     atomic.Uint64
	reportsSent    atomic.Uint64
}

// NewSender создает генератор
func NewSender(config Config) (*Sender, error) {
	if config.RTPPort <= 0 || config.RTCPPort <= 0 {
		return nil, fmt.Errorf("некорректные порты %d/%d", config.RTPPort, config.RTCPPort)
	}
	if config.ClockRate == 0 {
		return nil, errors.New("clock rate не задан")
	}
	if config.PacketInterval <= 0 || config.ReportInterval <= 0 {
		return nil, errors.New("интервалы должны быть положительными")
	}
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sender{
		config: config,
		logger: logger.With(slog.String("component", "rtp_probe")),
		stats:  NewReceptionStats(config.ClockRate),
	}, nil
}

// Counters возвращает текущие счетчики
func (s *Sender) Counters() Counters {
	return Counters{
		PacketsSent:    s.packetsSent.Load(),
		PacketsDropped: s.packetsDropped.Load(),
		OctetsSent:     s.octetsSent.Load(),
		ReportsSent:    s.reportsSent.Load(),
	}
}

// Run отправляет поток до отмены ctx. Ошибки отправки не прерывают поток,
// получатель может появиться позже. На выходе отправляется BYE.
func (s *Sender) Run(ctx context.Context) error {
	rtpConn, err := net.Dial("udp", net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.RTPPort)))
	if err != nil {
		return fmt.Errorf("подключение RTP: %w", err)
	}
	defer rtpConn.Close()

	rtcpConn, err := net.Dial("udp", net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.RTCPPort)))
	if err != nil {
		return fmt.Errorf("подключение RTCP: %w", err)
	}
	defer rtcpConn.Close()

	s.start = time.Now()
	s.logger.Info("генератор запущен",
		slog.String("rtp", rtpConn.RemoteAddr().String()),
		slog.String("rtcp", rtcpConn.RemoteAddr().String()),
		slog.Uint64("ssrc", uint64(s.config.SSRC)))

	packets := time.NewTicker(s.config.PacketInterval)
	defer packets.Stop()
	reports := time.NewTicker(s.config.ReportInterval)
	defer reports.Stop()

	payload := make([]byte, s.config.PayloadSize)
	samplesPerPacket := uint32(s.config.PacketInterval.Seconds() * float64(s.config.ClockRate))

	for {
		select {
		case <-ctx.Done():
			if err := s.sendBye(rtcpConn); err != nil {
				s.logger.Warn("не удалось отправить BYE", slog.String("error", err.Error()))
			}
			return nil

		case now := <-packets.C:
			if err := s.sendPacket(rtpConn, payload, now); err != nil {
				s.logger.Debug("пакет не отправлен", slog.String("error", err.Error()))
			}
			s.seq++
			s.timestamp += samplesPerPacket

		case now := <-reports.C:
			if err := s.sendReports(rtcpConn, now); err != nil {
				s.logger.Warn("отчет не отправлен", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Sender) sendPacket(conn net.Conn, payload []byte, now time.Time) error {
	if s.config.DropEvery > 0 && int(s.seq)%s.config.DropEvery == s.config.DropEvery-1 {
		s.packetsDropped.Add(1)
		return nil
	}

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.config.PayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.config.SSRC,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("сериализация RTP: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("отправка RTP: %w", err)
	}

	s.packetsSent.Add(1)
	s.octetsSent.Add(uint64(len(payload)))
	s.stats.Update(s.seq, s.timestamp, now)
	return nil
}

// sendReports отправляет SR+SDES от отправителя и RR+SDES от имитируемого получателя
func (s *Sender) sendReports(conn net.Conn, now time.Time) error {
	ntp := NTPTimestamp(now)
	elapsed := now.Sub(s.start).Seconds()

	sr := &pionrtcp.SenderReport{
		SSRC:        s.config.SSRC,
		NTPTime:     ntp,
		RTPTime:     uint32(elapsed * float64(s.config.ClockRate)),
		PacketCount: uint32(s.packetsSent.Load()),
		OctetCount:  uint32(s.octetsSent.Load()),
	}
	if err := s.write(conn, sr, s.sdes(s.config.SSRC)); err != nil {
		return err
	}
	s.stats.SenderReportReceived(ntp, now)

	if s.config.ReceiverSSRC == 0 {
		return nil
	}

	rr := &pionrtcp.ReceiverReport{
		SSRC:    s.config.ReceiverSSRC,
		Reports: []pionrtcp.ReceptionReport{s.stats.Block(s.config.SSRC, now)},
	}
	return s.write(conn, rr, s.sdes(s.config.ReceiverSSRC))
}

func (s *Sender) sendBye(conn net.Conn) error {
	return s.write(conn,
		&pionrtcp.ReceiverReport{SSRC: s.config.SSRC},
		&pionrtcp.Goodbye{Sources: []uint32{s.config.SSRC}, Reason: "probe finished"},
	)
}

func (s *Sender) sdes(ssrc uint32) *pionrtcp.SourceDescription {
	return &pionrtcp.SourceDescription{
		Chunks: []pionrtcp.SourceDescriptionChunk{{
			Source: ssrc,
			Items:  []pionrtcp.SourceDescriptionItem{{Type: pionrtcp.SDESCNAME, Text: s.config.CNAME}},
		}},
	}
}

func (s *Sender) write(conn net.Conn, packets ...pionrtcp.Packet) error {
	data, err := pionrtcp.Marshal(packets)
	if err != nil {
		return fmt.Errorf("сериализация RTCP: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("отправка RTCP: %w", err)
	}
	s.reportsSent.Add(1)
	return nil
}
