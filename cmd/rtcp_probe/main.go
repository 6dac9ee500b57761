// rtcp_probe отправляет тестовый RTP поток с RTCP отчетами на порты rtcp_monitor.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arzzra/media_telemetry/pkg/config"
	"github.com/arzzra/media_telemetry/pkg/probe"
	"github.com/spf13/pflag"
)

func main() {
	cfg := probe.DefaultConfig()
	flags := pflag.NewFlagSet("rtcp_probe", pflag.ExitOnError)

	flags.StringVar(&cfg.Host, "host", cfg.Host, "адрес монитора")
	flags.IntVar(&cfg.RTPPort, "rtp-port", cfg.RTPPort, "RTP порт сессии")
	flags.IntVar(&cfg.RTCPPort, "rtcp-port", 0, "RTCP порт сессии, по умолчанию RTP порт + 1")
	flags.Uint32Var(&cfg.SSRC, "ssrc", cfg.SSRC, "SSRC потока")
	flags.Uint32Var(&cfg.ReceiverSSRC, "receiver-ssrc", cfg.ReceiverSSRC, "SSRC имитируемого получателя, 0 отключает RR")
	flags.Uint8Var(&cfg.PayloadType, "pt", cfg.PayloadType, "payload type")
	flags.Uint32Var(&cfg.ClockRate, "clock-rate", cfg.ClockRate, "частота RTP timestamp")
	flags.DurationVar(&cfg.PacketInterval, "ptime", cfg.PacketInterval, "интервал RTP пакетов")
	flags.DurationVar(&cfg.ReportInterval, "report-interval", cfg.ReportInterval, "интервал RTCP отчетов")
	flags.IntVar(&cfg.DropEvery, "drop-every", 0, "не отправлять каждый N-й пакет")
	duration := flags.Duration("duration", 0, "время работы, 0 - до SIGINT")
	logLevel := flags.String("log-level", "info", "уровень логирования")

	_ = flags.Parse(os.Args[1:])

	if cfg.RTCPPort == 0 {
		cfg.RTCPPort = cfg.RTPPort + 1
	}

	logCfg := config.Default()
	logCfg.LogLevel = *logLevel
	if _, err := logCfg.Level(); err != nil {
		fmt.Fprintf(os.Stderr, "rtcp_probe: %v\n", err)
		os.Exit(2)
	}
	logger := logCfg.NewLogger(os.Stderr)
	cfg.Logger = logger

	sender, err := probe.NewSender(cfg)
	if err != nil {
		logger.Error("некорректная конфигурация", slog.String("error", err.Error()))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	if err := sender.Run(ctx); err != nil {
		logger.Error("генератор остановлен с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}

	c := sender.Counters()
	logger.Info("генератор остановлен",
		slog.Uint64("packets_sent", c.PacketsSent),
		slog.Uint64("packets_dropped", c.PacketsDropped),
		slog.Uint64("reports_sent", c.ReportsSent))
}
