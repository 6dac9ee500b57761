package rtpmux

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// ParseSDP разбирает текстовое SDP описание
func ParseSDP(raw []byte) (*sdp.SessionDescription, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("не удалось разобрать SDP: %w", err)
	}
	return desc, nil
}

// ConfigureFromSDP создает по одной внутренней сессии на каждую m= строку.
//
// Идентификатор сессии равен индексу медиа описания. RTP порт берется из
// m= строки, RTCP порт из атрибута a=rtcp (RFC 3605) или RTP порт + 1.
// Медиа описания с портом 0 создают сессию без портов.
func (m *Mux) ConfigureFromSDP(desc *sdp.SessionDescription) ([]*Session, error) {
	sessions := make([]*Session, 0, len(desc.MediaDescriptions))

	for i, md := range desc.MediaDescriptions {
		s, err := m.AddSession(uint(i))
		if err != nil {
			return sessions, err
		}

		rtpPort := md.MediaName.Port.Value
		rtcpPort := 0
		if rtpPort != 0 {
			rtcpPort = rtpPort + 1
			if value, ok := md.Attribute("rtcp"); ok {
				port, err := parseRTCPAttribute(value)
				if err != nil {
					return sessions, fmt.Errorf("медиа %d: %w", i, err)
				}
				rtcpPort = port
			}
		}
		s.SetPorts(rtpPort, rtcpPort)

		s.mu.Lock()
		s.media = md.MediaName.Media
		s.payloadTypes = parsePayloadTypes(md.MediaName.Formats)
		s.mu.Unlock()
		s.SetProperty("media", md.MediaName.Media)

		sessions = append(sessions, s)
	}

	return sessions, nil
}

// parseRTCPAttribute разбирает "a=rtcp:<port> [IN IP4 <addr>]"
func parseRTCPAttribute(value string) (int, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, fmt.Errorf("пустой атрибут rtcp")
	}

	port, err := strconv.Atoi(fields[0])
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("некорректный порт в атрибуте rtcp: %q", value)
	}
	return port, nil
}

func parsePayloadTypes(formats []string) []uint8 {
	pts := make([]uint8, 0, len(formats))
	for _, f := range formats {
		pt, err := strconv.ParseUint(f, 10, 7)
		if err != nil {
			continue
		}
		pts = append(pts, uint8(pt))
	}
	return pts
}
