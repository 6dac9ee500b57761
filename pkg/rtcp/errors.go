package rtcp

import (
	"errors"
	"fmt"
)

// ErrMalformedPacket буфер не прошел структурную проверку RTCP.
// Ошибка относится к одному пакету: пакет отбрасывается, обработка продолжается.
var ErrMalformedPacket = errors.New("rtcp: некорректный пакет")

// DecodeError описывает, где и почему буфер не прошел проверку.
// errors.Is(err, ErrMalformedPacket) истинно для любой DecodeError.
type DecodeError struct {
	Offset int    // Смещение записи, на которой проверка не прошла
	Reason string // Причина
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: смещение %d: %s", ErrMalformedPacket, e.Offset, e.Reason)
}

// Unwrap позволяет сравнивать ошибку с ErrMalformedPacket
func (e *DecodeError) Unwrap() error {
	return ErrMalformedPacket
}

func malformed(offset int, format string, args ...interface{}) error {
	return &DecodeError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}
