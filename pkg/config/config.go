// Package config конфигурация сервисов телеметрии.
//
// Конфигурация передается в конструкторы явным значением. Источники по
// возрастанию приоритета: значения по умолчанию, YAML файл, .env файл,
// переменные окружения, флаги командной строки.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/arzzra/media_telemetry/pkg/snapshot"
	"gopkg.in/yaml.v3"
)

// Config конфигурация сервиса
type Config struct {
	PipelineName string `yaml:"pipeline_name"`

	// MuxName имя элемента мультиплексора, за которым следит наблюдатель
	MuxName           string `yaml:"mux_name"`
	MaxLookupAttempts int    `yaml:"max_lookup_attempts"`

	// Снимки топологии
	DumpDir        string        `yaml:"dump_dir"`
	TextExt        string        `yaml:"text_ext"`
	ImageExt       string        `yaml:"image_ext"`
	Renderer       string        `yaml:"renderer"`
	RenderFormat   string        `yaml:"render_format"`
	RenderTimeout  time.Duration `yaml:"render_timeout"` // 0 - без ограничения
	SnapshotDetail string        `yaml:"snapshot_detail"` // none, states, properties, all

	// Прием медиа
	ServiceHost string `yaml:"service_host"`
	ServicePort int    `yaml:"service_port"` // Базовый RTP порт, если SDP не задан
	SDPFile     string `yaml:"sdp_file"`

	MetricsAddr string `yaml:"metrics_addr"` // Пустая строка отключает /metrics

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text или json
}

// Default возвращает конфигурацию по умолчанию
func Default() Config {
	return Config{
		PipelineName:      "media-pipeline",
		MuxName:           "rtpbin0",
		MaxLookupAttempts: 3,
		DumpDir:           "/tmp/media-telemetry",
		TextExt:           snapshot.DefaultTextExt,
		ImageExt:          snapshot.DefaultImageExt,
		Renderer:          snapshot.DefaultRenderer,
		RenderFormat:      snapshot.DefaultFormat,
		SnapshotDetail:    "all",
		ServiceHost:       "127.0.0.1",
		ServicePort:       5004,
		MetricsAddr:       ":9464",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// LoadFile читает YAML файл поверх значений по умолчанию
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}
	return cfg, nil
}

// Validate проверяет согласованность конфигурации
func (c Config) Validate() error {
	var errs []error

	if c.PipelineName == "" {
		errs = append(errs, errors.New("pipeline_name не задан"))
	}
	if c.MuxName == "" {
		errs = append(errs, errors.New("mux_name не задан"))
	}
	if c.DumpDir == "" {
		errs = append(errs, errors.New("dump_dir не задан"))
	}
	if c.TextExt == "" || c.ImageExt == "" {
		errs = append(errs, errors.New("расширения файлов снимка не заданы"))
	}
	if c.TextExt == c.ImageExt {
		errs = append(errs, fmt.Errorf("text_ext и image_ext совпадают: %q", c.TextExt))
	}
	if c.Renderer == "" {
		errs = append(errs, errors.New("renderer не задан"))
	}
	if c.ServicePort < 0 || c.ServicePort > 65535 {
		errs = append(errs, fmt.Errorf("service_port вне диапазона: %d", c.ServicePort))
	}
	if _, err := c.Details(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("неизвестный log_format %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Details возвращает флаги детализации снимка
func (c Config) Details() (snapshot.Details, error) {
	switch strings.ToLower(c.SnapshotDetail) {
	case "none":
		return snapshot.DetailNone, nil
	case "states":
		return snapshot.DetailStates, nil
	case "properties":
		return snapshot.DetailProperties, nil
	case "all", "":
		return snapshot.DetailAll, nil
	default:
		return snapshot.DetailNone, fmt.Errorf("неизвестный snapshot_detail %q", c.SnapshotDetail)
	}
}

// Level возвращает уровень логирования
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("неизвестный log_level %q", c.LogLevel)
	}
	return level, nil
}

// SnapshotConfig возвращает конфигурацию экспортера снимков
func (c Config) SnapshotConfig(logger *slog.Logger) snapshot.Config {
	details, _ := c.Details()
	return snapshot.Config{
		Dir:           c.DumpDir,
		TextExt:       c.TextExt,
		ImageExt:      c.ImageExt,
		Format:        c.RenderFormat,
		Details:       details,
		RenderTimeout: c.RenderTimeout,
		Logger:        logger,
	}
}

// NewLogger создает логгер по настройкам log_level и log_format
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := c.Level()
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
