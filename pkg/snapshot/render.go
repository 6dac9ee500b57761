package snapshot

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// DefaultRenderer имя программы graphviz по умолчанию
const DefaultRenderer = "dot"

// Renderer преобразует текстовое описание графа src в изображение dst
type Renderer interface {
	Render(ctx context.Context, src, dst, format string) error
}

// CommandRenderer запускает внешнюю программу со списком аргументов
// "-T<format> <src> -o <dst>". Оболочка не используется.
type CommandRenderer struct {
	Binary string
}

// NewCommandRenderer создает рендерер для программы binary
func NewCommandRenderer(binary string) *CommandRenderer {
	if binary == "" {
		binary = DefaultRenderer
	}
	return &CommandRenderer{Binary: binary}
}

// Render выполняет программу и ждет ее завершения. Успех только при нулевом коде выхода.
func (r *CommandRenderer) Render(ctx context.Context, src, dst, format string) error {
	cmd := exec.CommandContext(ctx, r.Binary, "-T"+format, src, "-o", dst)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &RenderError{
			Binary:   r.Binary,
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}
	return &RenderError{Binary: r.Binary, ExitCode: -1, Err: err}
}

// RendererFunc адаптер функции к интерфейсу Renderer
type RendererFunc func(ctx context.Context, src, dst, format string) error

func (f RendererFunc) Render(ctx context.Context, src, dst, format string) error {
	return f(ctx, src, dst, format)
}
