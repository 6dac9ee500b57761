package rtcp

import "encoding/binary"

const (
	headerSize      = 4
	senderInfoSize  = 20 // NTP(8) + RTP(4) + packets(4) + octets(4)
	reportBlockSize = 24
	rtcpVersion     = 2
)

// Decode разбирает составной RTCP пакет.
//
// Буфер должен быть корректным составным пакетом: первая запись SR или RR
// без padding, padding кратен 4 и только у последней записи, сумма
// заявленных длин равна длине буфера.
// При нарушении любого условия возвращается ошибка ErrMalformedPacket и ни
// одного отчета.
func Decode(buf []byte) ([]Report, error) {
	return decode(buf, false)
}

// DecodeReduced разбирает RTCP пакет уменьшенного размера (RFC 5506),
// в котором первая запись может быть любого типа. Остальные проверки те же,
// что и в Decode.
func DecodeReduced(buf []byte) ([]Report, error) {
	return decode(buf, true)
}

func decode(buf []byte, reduced bool) ([]Report, error) {
	if err := validate(buf, reduced); err != nil {
		return nil, err
	}

	reports := make([]Report, 0, 2)
	for offset := 0; offset < len(buf); {
		h := parseHeader(buf[offset:])
		size := h.size()
		body := buf[offset+headerSize : offset+size-paddingLen(buf[offset:offset+size], h)]

		switch h.Type {
		case TypeSR:
			reports = append(reports, parseSenderReport(body, h.Count))
		case TypeRR:
			reports = append(reports, parseReceiverReport(body, h.Count))
		default:
			payload := make([]byte, len(body))
			copy(payload, body)
			reports = append(reports, &UnknownReport{Tag: h.Type, Count: h.Count, Payload: payload})
		}

		offset += size
	}

	return reports, nil
}

// validate проверяет структуру буфера целиком до разбора записей
func validate(buf []byte, reduced bool) error {
	if len(buf) < headerSize {
		return malformed(0, "пакет слишком короткий: %d байт", len(buf))
	}

	for offset := 0; offset < len(buf); {
		if len(buf)-offset < headerSize {
			return malformed(offset, "остаток %d байт меньше заголовка", len(buf)-offset)
		}

		h := parseHeader(buf[offset:])
		if h.Version != rtcpVersion {
			return malformed(offset, "неподдерживаемая версия RTCP: %d", h.Version)
		}

		if offset == 0 && !reduced && h.Type != TypeSR && h.Type != TypeRR {
			return malformed(offset, "первая запись должна быть SR или RR, получено %s", h.Type)
		}

		size := h.size()
		if size > len(buf)-offset {
			return malformed(offset, "заявленная длина %d больше остатка %d", size, len(buf)-offset)
		}

		bodyLen := size - headerSize
		if h.Padding {
			if offset == 0 && !reduced {
				return malformed(offset, "padding недопустим в первой записи составного пакета")
			}
			if offset+size != len(buf) {
				return malformed(offset, "padding допустим только в последней записи")
			}
			pad := int(buf[offset+size-1])
			if pad == 0 || pad%4 != 0 || pad > bodyLen {
				return malformed(offset, "некорректная длина padding: %d", pad)
			}
			bodyLen -= pad
		}

		if need := minBodyLen(h); bodyLen < need {
			return malformed(offset, "%s: тело %d байт, требуется минимум %d для %d блоков",
				h.Type, bodyLen, need, h.Count)
		}

		offset += size
	}

	return nil
}

// minBodyLen минимальная длина тела записи без заголовка
func minBodyLen(h header) int {
	switch h.Type {
	case TypeSR:
		return 4 + senderInfoSize + int(h.Count)*reportBlockSize
	case TypeRR:
		return 4 + int(h.Count)*reportBlockSize
	default:
		return 0
	}
}

func parseHeader(data []byte) header {
	return header{
		Version: (data[0] >> 6) & 0x03,
		Padding: (data[0]>>5)&0x01 == 1,
		Count:   data[0] & 0x1F,
		Type:    PacketType(data[1]),
		Length:  binary.BigEndian.Uint16(data[2:4]),
	}
}

// paddingLen возвращает число байт padding в конце записи
func paddingLen(record []byte, h header) int {
	if !h.Padding {
		return 0
	}
	return int(record[len(record)-1])
}

func parseSenderReport(body []byte, count uint8) *SenderReport {
	sr := &SenderReport{
		SSRC:        binary.BigEndian.Uint32(body[0:4]),
		NTPTime:     binary.BigEndian.Uint64(body[4:12]),
		RTPTime:     binary.BigEndian.Uint32(body[12:16]),
		PacketCount: binary.BigEndian.Uint32(body[16:20]),
		OctetCount:  binary.BigEndian.Uint32(body[20:24]),
	}
	sr.Blocks = parseReportBlocks(body[4+senderInfoSize:], count)
	return sr
}

func parseReceiverReport(body []byte, count uint8) *ReceiverReport {
	return &ReceiverReport{
		SSRC:   binary.BigEndian.Uint32(body[0:4]),
		Blocks: parseReportBlocks(body[4:], count),
	}
}

func parseReportBlocks(data []byte, count uint8) []ReportBlock {
	blocks := make([]ReportBlock, count)
	for i := range blocks {
		b := data[i*reportBlockSize : (i+1)*reportBlockSize]
		blocks[i] = ReportBlock{
			SSRC:             binary.BigEndian.Uint32(b[0:4]),
			FractionLost:     b[4],
			PacketsLost:      signExtend24(b[5:8]),
			ExtHighestSeq:    binary.BigEndian.Uint32(b[8:12]),
			Jitter:           binary.BigEndian.Uint32(b[12:16]),
			LastSR:           binary.BigEndian.Uint32(b[16:20]),
			DelaySinceLastSR: binary.BigEndian.Uint32(b[20:24]),
		}
	}
	return blocks
}

// signExtend24 превращает 24-битное поле cumulative lost в int32 без ограничения снизу
func signExtend24(b []byte) int32 {
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	if v&0x800000 != 0 {
		v |= 0xFF000000
	}
	return int32(v)
}
