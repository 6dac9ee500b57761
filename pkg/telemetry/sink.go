package telemetry

import (
	"log/slog"

	"github.com/arzzra/media_telemetry/pkg/rtcp"
)

// Sink получатель декодированной статистики
type Sink interface {
	// Reports вызывается для каждого корректного RTCP пакета сессии
	Reports(session uint, reports []rtcp.Report)
	// Malformed вызывается для отброшенного пакета
	Malformed(session uint, err error)
	// LookupFailed вызывается, когда внутренняя сессия недоступна
	LookupFailed(session uint)
}

// MultiSink передает события всем получателям по порядку
type MultiSink []Sink

func (m MultiSink) Reports(session uint, reports []rtcp.Report) {
	for _, s := range m {
		s.Reports(session, reports)
	}
}

func (m MultiSink) Malformed(session uint, err error) {
	for _, s := range m {
		s.Malformed(session, err)
	}
}

func (m MultiSink) LookupFailed(session uint) {
	for _, s := range m {
		s.LookupFailed(session)
	}
}

type nopSink struct{}

func (nopSink) Reports(uint, []rtcp.Report) {}
func (nopSink) Malformed(uint, error)        {}
func (nopSink) LookupFailed(uint)            {}

// LogSink пишет отчеты в лог
type LogSink struct {
	Logger *slog.Logger
}

// NewLogSink создает LogSink; nil logger - slog.Default()
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger.With(slog.String("component", "rtcp_log"))}
}

func (l *LogSink) Reports(session uint, reports []rtcp.Report) {
	for _, r := range reports {
		switch report := r.(type) {
		case *rtcp.SenderReport:
			l.Logger.Info("Sender Report",
				slog.Uint64("session", uint64(session)),
				slog.Uint64("ssrc", uint64(report.SSRC)),
				slog.Time("ntp_time", rtcp.NTPToTime(report.NTPTime)),
				slog.Uint64("rtp_time", uint64(report.RTPTime)),
				slog.Uint64("packets", uint64(report.PacketCount)),
				slog.Uint64("octets", uint64(report.OctetCount)))
			l.blocks(session, report.SSRC, report.Blocks)

		case *rtcp.ReceiverReport:
			l.Logger.Info("Receiver Report",
				slog.Uint64("session", uint64(session)),
				slog.Uint64("ssrc", uint64(report.SSRC)),
				slog.Int("blocks", len(report.Blocks)))
			l.blocks(session, report.SSRC, report.Blocks)

		case *rtcp.UnknownReport:
			l.Logger.Debug("RTCP запись пропущена",
				slog.Uint64("session", uint64(session)),
				slog.String("type", report.Tag.String()),
				slog.Int("size", len(report.Payload)))
		}
	}
}

func (l *LogSink) blocks(session uint, reporter uint32, blocks []rtcp.ReportBlock) {
	for i, b := range blocks {
		l.Logger.Info("Report Block",
			slog.Uint64("session", uint64(session)),
			slog.Int("index", i),
			slog.Uint64("reporter", uint64(reporter)),
			slog.Uint64("ssrc", uint64(b.SSRC)),
			slog.Int("fraction_lost", int(b.FractionLost)),
			slog.Int64("packets_lost", int64(b.PacketsLost)),
			slog.Uint64("ext_highest_seq", uint64(b.ExtHighestSeq)),
			slog.Uint64("jitter", uint64(b.Jitter)))
	}
}

// Malformed и LookupFailed уже записаны в лог наблюдателем
func (l *LogSink) Malformed(session uint, err error) {}
func (l *LogSink) LookupFailed(session uint)         {}
