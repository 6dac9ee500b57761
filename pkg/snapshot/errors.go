package snapshot

import (
	"errors"
	"fmt"
)

// ExportErrorCode код ошибки экспорта снимка
type ExportErrorCode int

const (
	ErrorCodeDirectoryCreateFailed ExportErrorCode = iota + 2000
	ErrorCodeWriteFailed
	ErrorCodeStatFailed
	ErrorCodeRenderFailed
)

// String возвращает строковое представление кода ошибки
func (code ExportErrorCode) String() string {
	switch code {
	case ErrorCodeDirectoryCreateFailed:
		return "DirectoryCreateFailed"
	case ErrorCodeWriteFailed:
		return "WriteFailed"
	case ErrorCodeStatFailed:
		return "StatFailed"
	case ErrorCodeRenderFailed:
		return "RenderFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// Эталонные ошибки для сравнения через errors.Is
var (
	ErrDirectoryCreateFailed = &ExportError{Code: ErrorCodeDirectoryCreateFailed}
	ErrWriteFailed           = &ExportError{Code: ErrorCodeWriteFailed}
	ErrStatFailed            = &ExportError{Code: ErrorCodeStatFailed}
	ErrRenderFailed          = &ExportError{Code: ErrorCodeRenderFailed}
)

// ExportError ошибка одного шага экспорта снимка
type ExportError struct {
	Code  ExportErrorCode
	Label string
	Path  string // Файл или каталог, на котором произошла ошибка
	Err   error
}

// Error реализует интерфейс error
func (e *ExportError) Error() string {
	msg := fmt.Sprintf("[снимок:%s] %s", e.Code, e.Label)
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap возвращает обернутую ошибку
func (e *ExportError) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по коду
func (e *ExportError) Is(target error) bool {
	if t, ok := target.(*ExportError); ok {
		return e.Code == t.Code
	}
	return false
}

// HasErrorCode проверяет, содержит ли цепочка ошибок указанный код
func HasErrorCode(err error, code ExportErrorCode) bool {
	var exportErr *ExportError
	if errors.As(err, &exportErr) {
		return exportErr.Code == code
	}
	return false
}

// RenderError рендерер завершился неуспешно
type RenderError struct {
	Binary   string
	ExitCode int // -1 если процесс не был запущен
	Stderr   string
	Err      error
}

func (e *RenderError) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("рендерер %s не запущен: %v", e.Binary, e.Err)
	}
	if e.Stderr != "" {
		return fmt.Sprintf("рендерер %s завершился с кодом %d: %s", e.Binary, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("рендерер %s завершился с кодом %d", e.Binary, e.ExitCode)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
