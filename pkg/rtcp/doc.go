// Package rtcp декодирует входящие RTCP пакеты (RFC 3550) для целей наблюдаемости.
//
// Пакет не реализует отправку RTCP и не ведет состояния: Decode является чистой
// функцией, превращающей сырой буфер составного пакета в последовательность
// отчетов. Поддерживаемые записи:
//   - SR (Sender Report) - информация отправителя и блоки отчетов
//   - RR (Receiver Report) - блоки отчетов о приеме, по одному на источник
//   - остальные типы (SDES, BYE, APP, feedback, XR) возвращаются как UnknownReport
//
// Перед разбором каких-либо записей буфер целиком проходит структурную
// проверку. Если проверка не пройдена, возвращается ошибка ErrMalformedPacket
// и ни одна запись не выдается.
//
// Usage:
//
//	reports, err := rtcp.Decode(buf)
//	if errors.Is(err, rtcp.ErrMalformedPacket) {
//		// отбрасываем пакет
//	}
//	for _, r := range reports {
//		switch report := r.(type) {
//		case *rtcp.SenderReport:
//		case *rtcp.ReceiverReport:
//		case *rtcp.UnknownReport:
//		}
//	}
package rtcp
