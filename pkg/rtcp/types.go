package rtcp

import "fmt"

// PacketType тип RTCP записи согласно RFC 3550 Section 6.1 и последующим RFC
type PacketType uint8

const (
	TypeSR    PacketType = 200 // Sender Report
	TypeRR    PacketType = 201 // Receiver Report
	TypeSDES  PacketType = 202 // Source Description
	TypeBYE   PacketType = 203 // Goodbye
	TypeAPP   PacketType = 204 // Application-Defined
	TypeRTPFB PacketType = 205 // Transport layer feedback (RFC 4585)
	TypePSFB  PacketType = 206 // Payload-specific feedback (RFC 4585)
	TypeXR    PacketType = 207 // Extended Report (RFC 3611)
)

// String возвращает короткое имя типа записи
func (t PacketType) String() string {
	switch t {
	case TypeSR:
		return "SR"
	case TypeRR:
		return "RR"
	case TypeSDES:
		return "SDES"
	case TypeBYE:
		return "BYE"
	case TypeAPP:
		return "APP"
	case TypeRTPFB:
		return "RTPFB"
	case TypePSFB:
		return "PSFB"
	case TypeXR:
		return "XR"
	default:
		return fmt.Sprintf("PT(%d)", uint8(t))
	}
}

// Report одна декодированная запись составного RTCP пакета.
//
// Реализации: *SenderReport, *ReceiverReport, *UnknownReport.
// Набор закрыт, поэтому для разбора удобно использовать type switch.
type Report interface {
	// Type возвращает тег записи, прочитанный с провода
	Type() PacketType

	isReport()
}

// header заголовок RTCP записи
type header struct {
	Version uint8  // V: 2 бита
	Padding bool   // P: 1 бит
	Count   uint8  // RC/SC: 5 бит
	Type    PacketType
	Length  uint16 // длина в 32-битных словах минус один
}

// size возвращает полный размер записи в байтах вместе с заголовком
func (h header) size() int {
	return (int(h.Length) + 1) * 4
}

// SenderReport согласно RFC 3550 Section 6.4.1
type SenderReport struct {
	SSRC        uint32 // SSRC отправителя
	NTPTime     uint64 // NTP timestamp (64 бита)
	RTPTime     uint32 // RTP timestamp
	PacketCount uint32 // Sender's packet count
	OctetCount  uint32 // Sender's octet count

	// Blocks блоки отчетов о приеме, которые отправитель добавил к SR
	Blocks []ReportBlock
}

func (*SenderReport) Type() PacketType { return TypeSR }
func (*SenderReport) isReport()        {}

// ReceiverReport согласно RFC 3550 Section 6.4.2
type ReceiverReport struct {
	SSRC   uint32        // SSRC отправителя отчета
	Blocks []ReportBlock // В порядке следования на проводе
}

func (*ReceiverReport) Type() PacketType { return TypeRR }
func (*ReceiverReport) isReport()        {}

// ReportBlock блок отчета о приеме для одного удаленного источника
type ReportBlock struct {
	SSRC         uint32 // SSRC источника, о котором идет отчет
	FractionLost uint8  // Доля потерь с последнего отчета, масштаб 0-255
	// PacketsLost накопленные потери. На проводе это 24-битное знаковое
	// значение, которое может быть отрицательным из-за дубликатов.
	PacketsLost      int32
	ExtHighestSeq    uint32 // Расширенный наибольший номер последовательности
	Jitter           uint32 // Interarrival jitter в единицах RTP timestamp
	LastSR           uint32 // Средние 32 бита NTP времени последнего SR
	DelaySinceLastSR uint32 // Задержка с последнего SR в единицах 1/65536 с
}

// LossRatio возвращает долю потерь в диапазоне [0, 1)
func (b ReportBlock) LossRatio() float64 {
	return float64(b.FractionLost) / 256.0
}

// UnknownReport запись, тип которой декодер не разбирает.
// Не является ошибкой: итерация продолжается по заявленной длине записи.
type UnknownReport struct {
	Tag     PacketType
	Count   uint8  // Значение 5-битного поля count из заголовка
	Payload []byte // Тело записи без заголовка и без padding
}

func (u *UnknownReport) Type() PacketType { return u.Tag }
func (*UnknownReport) isReport()          {}
