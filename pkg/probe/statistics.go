package probe

import (
	"sync"
	"time"

	pionrtcp "github.com/pion/rtcp"
)

// ntpEpochOffset секунды между эпохой NTP (1900) и Unix (1970)
const ntpEpochOffset = 2208988800

// NTPTimestamp переводит время в 64-битный NTP timestamp (RFC 3550 Section 4)
func NTPTimestamp(t time.Time) uint64 {
	seconds := uint64(t.Unix()) + ntpEpochOffset
	fraction := (uint64(t.Nanosecond()) << 32) / 1e9
	return seconds<<32 | fraction
}

// middleNTP средние 32 бита NTP timestamp, поле LSR блока отчета
func middleNTP(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}

// CalculateJitter вычисляет jitter согласно RFC 3550 Appendix A.8
func CalculateJitter(transit, lastTransit int64, jitter float64) float64 {
	d := float64(transit - lastTransit)
	if d < 0 {
		d = -d
	}
	return jitter + (d-jitter)/16.0
}

// CalculateFractionLost доля потерь за интервал в масштабе 0-255 (RFC 3550 Appendix A.3).
// При отрицательных потерях (дубликаты) возвращает 0.
func CalculateFractionLost(expected, received uint32) uint8 {
	if expected == 0 || received >= expected {
		return 0
	}
	lost := expected - received
	return uint8((lost << 8) / expected)
}

// ReceptionStats статистика приема одного источника глазами получателя
type ReceptionStats struct {
	mu sync.Mutex

	clockRate uint32

	initialized bool
	baseSeq     uint16
	maxSeq      uint16
	cycles      uint32
	received    uint32

	expectedPrior uint32
	receivedPrior uint32

	transit int64
	jitter  float64

	lastSR       uint32
	lastSRArrive time.Time
}

// NewReceptionStats создает статистику для потока с частотой clockRate
func NewReceptionStats(clockRate uint32) *ReceptionStats {
	return &ReceptionStats{clockRate: clockRate}
}

// Update учитывает принятый RTP пакет с номером seq и timestamp ts
func (s *ReceptionStats) Update(seq uint16, ts uint32, arrival time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		s.initialized = true
		s.baseSeq = seq
		s.maxSeq = seq
	} else {
		delta := seq - s.maxSeq
		if delta < 0x8000 {
			if seq < s.maxSeq {
				s.cycles += 1 << 16
			}
			s.maxSeq = seq
		}
	}
	s.received++

	arrivalTS := int64(float64(arrival.UnixNano()) * float64(s.clockRate) / 1e9)
	transit := arrivalTS - int64(ts)
	if s.received > 1 {
		s.jitter = CalculateJitter(transit, s.transit, s.jitter)
	}
	s.transit = transit
}

// SenderReportReceived запоминает NTP время последнего SR источника для LSR/DLSR
func (s *ReceptionStats) SenderReportReceived(ntp uint64, arrival time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSR = middleNTP(ntp)
	s.lastSRArrive = arrival
}

// Block формирует блок отчета о приеме и начинает новый интервал
func (s *ReceptionStats) Block(ssrc uint32, now time.Time) pionrtcp.ReceptionReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	extMax := s.cycles + uint32(s.maxSeq)
	var expected uint32
	if s.initialized {
		expected = extMax - uint32(s.baseSeq) + 1
	}

	expectedInterval := expected - s.expectedPrior
	receivedInterval := s.received - s.receivedPrior
	s.expectedPrior = expected
	s.receivedPrior = s.received

	lost := int64(expected) - int64(s.received)
	// 24-битное знаковое поле
	if lost > 0x7FFFFF {
		lost = 0x7FFFFF
	} else if lost < -0x800000 {
		lost = -0x800000
	}

	var dlsr uint32
	if !s.lastSRArrive.IsZero() {
		dlsr = uint32(now.Sub(s.lastSRArrive).Seconds() * 65536)
	}

	return pionrtcp.ReceptionReport{
		SSRC:               ssrc,
		FractionLost:       CalculateFractionLost(expectedInterval, receivedInterval),
		TotalLost:          uint32(lost) & 0xFFFFFF,
		LastSequenceNumber: extMax,
		Jitter:             uint32(s.jitter),
		LastSenderReport:   s.lastSR,
		Delay:              dlsr,
	}
}
