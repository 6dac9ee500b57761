// rtcp_monitor принимает RTP/RTCP сессии, обнаруживает мультиплексор
// конвейера и публикует статистику RTCP отчетов в лог и в /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arzzra/media_telemetry/pkg/config"
	"github.com/arzzra/media_telemetry/pkg/lifecycle"
	"github.com/arzzra/media_telemetry/pkg/pipeline"
	"github.com/arzzra/media_telemetry/pkg/rtpmux"
	"github.com/arzzra/media_telemetry/pkg/snapshot"
	"github.com/arzzra/media_telemetry/pkg/stats"
	"github.com/arzzra/media_telemetry/pkg/telemetry"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("rtcp_monitor", pflag.ExitOnError)

	configPath := flags.StringP("config", "c", "", "YAML файл конфигурации")
	envFile := flags.String("env-file", ".env", "файл переменных окружения")
	sdpFile := flags.String("sdp", "", "SDP описание сессий")
	muxName := flags.String("mux-name", "", "имя элемента мультиплексора")
	metricsAddr := flags.String("metrics-addr", "", "адрес HTTP сервера /metrics, пустая строка отключает")
	logLevel := flags.String("log-level", "", "уровень логирования: debug, info, warn, error")
	host := flags.String("host", "", "адрес приема RTP/RTCP")
	port := flags.IntP("port", "p", 0, "базовый RTP порт, если SDP не задан")
	sessions := flags.Int("sessions", 1, "число сессий, если SDP не задан")
	snapshots := flags.Bool("snapshots", false, "сохранять снимок конвейера при переходе в playing")

	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtcp_monitor: %v\n", err)
		os.Exit(1)
	}

	if flags.Changed("sdp") {
		cfg.SDPFile = *sdpFile
	}
	if flags.Changed("mux-name") {
		cfg.MuxName = *muxName
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = *metricsAddr
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if flags.Changed("host") {
		cfg.ServiceHost = *host
	}
	if flags.Changed("port") {
		cfg.ServicePort = *port
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "rtcp_monitor: некорректная конфигурация: %v\n", err)
		os.Exit(2)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, *sessions, *snapshots, logger); err != nil {
		logger.Error("сервис остановлен с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, sessions int, snapshots bool, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := stats.New(stats.DefaultConfig())

	p := pipeline.New(cfg.PipelineName)

	watcher := telemetry.NewWatcher(telemetry.WatcherConfig{
		MuxName:           cfg.MuxName,
		MaxLookupAttempts: cfg.MaxLookupAttempts,
		Sink:              telemetry.MultiSink{telemetry.NewLogSink(logger), collector},
		Logger:            logger,
	}, nil)
	watcher.Watch(p)
	defer watcher.Close()

	mux, err := buildPipeline(p, cfg)
	if err != nil {
		return err
	}
	if err := configureSessions(mux, cfg, sessions); err != nil {
		return err
	}

	ingress := rtpmux.NewIngress(mux, rtpmux.IngressConfig{
		Host:   cfg.ServiceHost,
		Logger: logger,
	})
	if err := ingress.Start(ctx); err != nil {
		return fmt.Errorf("запуск приема: %w", err)
	}
	defer ingress.Close()

	for _, s := range mux.Sessions() {
		rtpPort, rtcpPort := s.Ports()
		media, _ := s.Media()
		logger.Info("сессия принимает пакеты",
			slog.Uint64("session", uint64(s.ID())),
			slog.String("media", media),
			slog.Int("rtp_port", rtpPort),
			slog.Int("rtcp_port", rtcpPort))
	}

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, collector, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	loop := lifecycle.NewLoop(p.Bus())

	observerConfig := lifecycle.ObserverConfig{
		Root:     p,
		OnExport: collector.ObserveExport,
		Logger:   logger,
	}
	if snapshots {
		observerConfig.Exporter = snapshot.New(cfg.SnapshotConfig(logger), snapshot.NewCommandRenderer(cfg.Renderer))
	}
	observer := lifecycle.NewObserver(observerConfig, loop)

	stopOnSignal(p, logger)

	p.SetState(pipeline.StatePlaying)
	logger.Info("конвейер запущен", slog.String("pipeline", p.Name()))

	err = loop.Run(ctx, observer.HandleMessage)
	p.SetState(pipeline.StateNull)

	for _, s := range watcher.Registry().Sessions() {
		logger.Info("итог сессии",
			slog.Uint64("session", uint64(s.ID)),
			slog.Bool("hooked", s.Hooked),
			slog.Int("lookup_attempts", s.Attempts))
	}
	return err
}

// buildPipeline собирает цепочку источник → кодер → пакетизатор → мультиплексор
func buildPipeline(p *pipeline.Pipeline, cfg config.Config) (*rtpmux.Mux, error) {
	src := pipeline.NewElement("videotestsrc", "videotestsrc0")
	src.SetProperty("is-live", "true")
	enc := pipeline.NewElement("x264enc", "x264enc0")
	pay := pipeline.NewElement("rtph264pay", "pay0")
	pay.SetProperty("pt", "96")

	mux := rtpmux.New(rtpmux.Config{Name: cfg.MuxName, Logger: slog.Default()})

	if err := p.Add(src, enc, pay, mux); err != nil {
		return nil, err
	}
	if err := p.LinkMany(src, enc, pay, mux); err != nil {
		return nil, err
	}
	return mux, nil
}

func configureSessions(mux *rtpmux.Mux, cfg config.Config, count int) error {
	if cfg.SDPFile != "" {
		raw, err := os.ReadFile(cfg.SDPFile)
		if err != nil {
			return fmt.Errorf("чтение SDP: %w", err)
		}
		desc, err := rtpmux.ParseSDP(raw)
		if err != nil {
			return err
		}
		_, err = mux.ConfigureFromSDP(desc)
		return err
	}

	if count <= 0 {
		return errors.New("число сессий должно быть положительным")
	}
	for i := 0; i < count; i++ {
		s, err := mux.AddSession(uint(i))
		if err != nil {
			return err
		}
		rtpPort := cfg.ServicePort + 2*i
		s.SetPorts(rtpPort, rtpPort+1)
	}
	return nil
}

func startMetricsServer(addr string, collector *stats.Collector, logger *slog.Logger) *http.Server {
	router := http.NewServeMux()
	router.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP сервер метрик запущен", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP сервер метрик остановлен", slog.String("error", err.Error()))
		}
	}()
	return srv
}

// stopOnSignal переводит SIGINT и SIGTERM в EOS конвейера
func stopOnSignal(p *pipeline.Pipeline, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("получен сигнал, завершение", slog.String("signal", sig.String()))
		p.PostEndOfStream()
	}()
}
