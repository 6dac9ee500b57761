// Package snapshot сохраняет снимок топологии конвейера: описание графа на
// языке DOT и изображение, полученное внешним рендерером graphviz.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Значения конфигурации по умолчанию
const (
	DefaultTextExt  = "dot"
	DefaultImageExt = "png"
	DefaultFormat   = "png"
)

// Config конфигурация экспорта
type Config struct {
	Dir           string // Каталог для снимков, создается при необходимости
	TextExt       string
	ImageExt      string
	Format        string // Аргумент -T рендерера
	Details       Details
	RenderTimeout time.Duration // 0 - ждать рендерер без ограничения
	Logger        *slog.Logger
}

// Exporter экспортирует снимки в каталог Config.Dir
type Exporter struct {
	config   Config
	renderer Renderer
	logger   *slog.Logger

	stat func(name string) (fs.FileInfo, error)
}

// New создает экспортер. Если renderer равен nil, используется программа dot.
func New(config Config, renderer Renderer) *Exporter {
	if config.TextExt == "" {
		config.TextExt = DefaultTextExt
	}
	if config.ImageExt == "" {
		config.ImageExt = DefaultImageExt
	}
	if config.Format == "" {
		config.Format = DefaultFormat
	}
	if renderer == nil {
		renderer = NewCommandRenderer(DefaultRenderer)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Exporter{
		config:   config,
		renderer: renderer,
		logger:   logger.With(slog.String("component", "snapshot")),
		stat:     os.Stat,
	}
}

// Dir возвращает каталог снимков
func (e *Exporter) Dir() string {
	return e.config.Dir
}

// Paths возвращает пути текстового описания и изображения для метки
func (e *Exporter) Paths(label string) (text, image string) {
	name := SanitizeLabel(label)
	text = filepath.Join(e.config.Dir, name+"."+e.config.TextExt)
	image = filepath.Join(e.config.Dir, name+"."+e.config.ImageExt)
	return text, image
}

// Export записывает описание графа root и рендерит изображение.
// Возвращает путь к изображению. Шаги выполняются строго по порядку,
// первая ошибка прерывает экспорт.
func (e *Exporter) Export(root Topology, label string) (string, error) {
	textPath, imagePath := e.Paths(label)

	if err := os.MkdirAll(e.config.Dir, 0o700); err != nil {
		return "", &ExportError{Code: ErrorCodeDirectoryCreateFailed, Label: label, Path: e.config.Dir, Err: err}
	}

	var buf bytes.Buffer
	if err := WriteDOT(&buf, root, e.config.Details); err != nil {
		return "", &ExportError{Code: ErrorCodeWriteFailed, Label: label, Path: textPath, Err: err}
	}
	if err := os.WriteFile(textPath, buf.Bytes(), 0o600); err != nil {
		return "", &ExportError{Code: ErrorCodeWriteFailed, Label: label, Path: textPath, Err: err}
	}

	info, err := e.stat(textPath)
	if err != nil {
		return "", &ExportError{Code: ErrorCodeStatFailed, Label: label, Path: textPath, Err: err}
	}
	if info.Size() == 0 {
		return "", &ExportError{Code: ErrorCodeStatFailed, Label: label, Path: textPath, Err: errors.New("файл описания пуст")}
	}

	e.logger.Debug("описание графа записано",
		slog.String("label", label),
		slog.String("path", textPath),
		slog.Int64("size", info.Size()))

	ctx := context.Background()
	if e.config.RenderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RenderTimeout)
		defer cancel()
	}

	if err := e.renderer.Render(ctx, textPath, imagePath, e.config.Format); err != nil {
		return "", &ExportError{
			Code:  ErrorCodeRenderFailed,
			Label: label,
			Path:  imagePath,
			Err:   fmt.Errorf("рендеринг %s: %w", textPath, err),
		}
	}

	return imagePath, nil
}
