// Package stats экспортирует статистику RTCP отчетов в Prometheus.
package stats

import (
	"net/http"
	"strconv"

	"github.com/arzzra/media_telemetry/pkg/rtcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config конфигурация сборщика
type Config struct {
	// Namespace префикс метрик
	Namespace string
	// Subsystem подсистема метрик
	Subsystem string
	// Registry реестр для регистрации и выдачи метрик. nil - новый реестр.
	Registry *prometheus.Registry
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Namespace: "media",
		Subsystem: "rtcp",
	}
}

// Collector собирает метрики из декодированных отчетов.
// Реализует telemetry.Sink.
type Collector struct {
	registry *prometheus.Registry

	fractionLost  *prometheus.GaugeVec
	jitter        *prometheus.GaugeVec
	packetsLost   *prometheus.GaugeVec
	extHighestSeq *prometheus.GaugeVec
	senderPackets *prometheus.GaugeVec
	senderOctets  *prometheus.GaugeVec

	reportsTotal   *prometheus.CounterVec
	malformedTotal *prometheus.CounterVec
	lookupFailures *prometheus.CounterVec
	snapshotsTotal *prometheus.CounterVec
}

// New создает сборщик и регистрирует метрики
func New(config Config) *Collector {
	reg := config.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)
	sourceLabels := []string{"session", "ssrc"}

	gauge := func(name, help string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      name,
			Help:      help,
		}, sourceLabels)
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Collector{
		registry: reg,

		fractionLost:  gauge("fraction_lost", "Fraction of packets lost since the previous report, 0..1"),
		jitter:        gauge("jitter", "Interarrival jitter in timestamp units"),
		packetsLost:   gauge("packets_lost", "Cumulative number of packets lost"),
		extHighestSeq: gauge("ext_highest_seq", "Extended highest sequence number received"),
		senderPackets: gauge("sender_packets", "Sender packet count from the last sender report"),
		senderOctets:  gauge("sender_octets", "Sender octet count from the last sender report"),

		reportsTotal:   counter("reports_total", "Decoded RTCP reports by type", "type"),
		malformedTotal: counter("malformed_packets_total", "Discarded malformed RTCP packets", "session"),
		lookupFailures: counter("lookup_failures_total", "Failed internal session lookups", "session"),
		snapshotsTotal: counter("snapshots_total", "Pipeline snapshot exports by result", "result"),
	}
}

// Registry возвращает реестр метрик
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler возвращает HTTP обработчик /metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Reports обновляет метрики по отчетам одного пакета
func (c *Collector) Reports(session uint, reports []rtcp.Report) {
	sessionLabel := strconv.FormatUint(uint64(session), 10)

	for _, r := range reports {
		c.reportsTotal.WithLabelValues(r.Type().String()).Inc()

		switch rep := r.(type) {
		case *rtcp.SenderReport:
			ssrc := formatSSRC(rep.SSRC)
			c.senderPackets.WithLabelValues(sessionLabel, ssrc).Set(float64(rep.PacketCount))
			c.senderOctets.WithLabelValues(sessionLabel, ssrc).Set(float64(rep.OctetCount))
			c.observeBlocks(sessionLabel, rep.Blocks)

		case *rtcp.ReceiverReport:
			c.observeBlocks(sessionLabel, rep.Blocks)
		}
	}
}

func (c *Collector) observeBlocks(session string, blocks []rtcp.ReportBlock) {
	for _, b := range blocks {
		ssrc := formatSSRC(b.SSRC)
		c.fractionLost.WithLabelValues(session, ssrc).Set(b.LossRatio())
		c.jitter.WithLabelValues(session, ssrc).Set(float64(b.Jitter))
		c.packetsLost.WithLabelValues(session, ssrc).Set(float64(b.PacketsLost))
		c.extHighestSeq.WithLabelValues(session, ssrc).Set(float64(b.ExtHighestSeq))
	}
}

// Malformed учитывает отброшенный пакет
func (c *Collector) Malformed(session uint, _ error) {
	c.malformedTotal.WithLabelValues(strconv.FormatUint(uint64(session), 10)).Inc()
}

// LookupFailed учитывает неудачный поиск внутренней сессии
func (c *Collector) LookupFailed(session uint) {
	c.lookupFailures.WithLabelValues(strconv.FormatUint(uint64(session), 10)).Inc()
}

// ObserveExport учитывает результат экспорта снимка.
// Сигнатура совпадает с lifecycle.ObserverConfig.OnExport.
func (c *Collector) ObserveExport(_, _ string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.snapshotsTotal.WithLabelValues(result).Inc()
}

func formatSSRC(ssrc uint32) string {
	return strconv.FormatUint(uint64(ssrc), 10)
}
