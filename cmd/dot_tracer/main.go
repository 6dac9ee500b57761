// dot_tracer собирает тестовый конвейер и сохраняет снимки его топологии:
// в состоянии ready, при переходе в playing и после остановки.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arzzra/media_telemetry/pkg/config"
	"github.com/arzzra/media_telemetry/pkg/lifecycle"
	"github.com/arzzra/media_telemetry/pkg/pipeline"
	"github.com/arzzra/media_telemetry/pkg/snapshot"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("dot_tracer", pflag.ExitOnError)

	configPath := flags.StringP("config", "c", "", "YAML файл конфигурации")
	envFile := flags.String("env-file", ".env", "файл переменных окружения")
	dumpDir := flags.StringP("dump-dir", "d", "", "каталог для снимков")
	renderer := flags.String("renderer", "", "программа рендеринга graphviz")
	format := flags.StringP("format", "T", "", "формат изображения")
	detail := flags.String("detail", "", "детализация: none, states, properties, all")
	duration := flags.Duration("duration", 0, "время работы в playing, 0 - до SIGINT")
	logLevel := flags.String("log-level", "", "уровень логирования")

	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dot_tracer: %v\n", err)
		os.Exit(1)
	}
	cfg.PipelineName = "visual-pipeline"

	if flags.Changed("dump-dir") {
		cfg.DumpDir = *dumpDir
	}
	if flags.Changed("renderer") {
		cfg.Renderer = *renderer
	}
	if flags.Changed("format") {
		cfg.RenderFormat = *format
		cfg.ImageExt = *format
	}
	if flags.Changed("detail") {
		cfg.SnapshotDetail = *detail
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "dot_tracer: некорректная конфигурация: %v\n", err)
		os.Exit(2)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, *duration, logger); err != nil {
		logger.Error("трассировка завершилась с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, duration time.Duration, logger *slog.Logger) error {
	p, err := buildPipeline(cfg.PipelineName)
	if err != nil {
		return fmt.Errorf("элементы не связаны: %w", err)
	}

	exporter := snapshot.New(cfg.SnapshotConfig(logger), snapshot.NewCommandRenderer(cfg.Renderer))
	loop := lifecycle.NewLoop(p.Bus())
	observer := lifecycle.NewObserver(lifecycle.ObserverConfig{
		Root:     p,
		Exporter: exporter,
		Logger:   logger,
	}, loop)

	p.SetState(pipeline.StateReady)
	export(exporter, p, "initial_state", logger)

	p.SetState(pipeline.StatePlaying)
	logger.Info("конвейер запущен", slog.String("pipeline", p.Name()))

	if duration > 0 {
		timer := time.AfterFunc(duration, p.PostEndOfStream)
		defer timer.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			p.PostEndOfStream()
		}
	}()

	err = loop.Run(context.Background(), observer.HandleMessage)

	export(exporter, p, "final_state", logger)
	p.SetState(pipeline.StateNull)
	return err
}

// buildPipeline videotestsrc → capsfilter → autovideosink
func buildPipeline(name string) (*pipeline.Pipeline, error) {
	p := pipeline.New(name)

	src := pipeline.NewElement("videotestsrc", "source")
	filter := pipeline.NewElement("capsfilter", "filter")
	filter.SetProperty("caps", "video/x-raw, width=(int)320, height=(int)240")
	sink := pipeline.NewElement("autovideosink", "sink")

	if err := p.Add(src, filter, sink); err != nil {
		return nil, err
	}
	if err := p.LinkMany(src, filter, sink); err != nil {
		return nil, err
	}
	return p, nil
}

func export(exporter *snapshot.Exporter, p *pipeline.Pipeline, label string, logger *slog.Logger) {
	path, err := exporter.Export(p, label)
	if err != nil {
		logger.Warn("не удалось экспортировать снимок конвейера",
			slog.String("label", label),
			slog.String("error", err.Error()))
		return
	}
	logger.Info("снимок конвейера создан", slog.String("label", label), slog.String("image", path))
}
