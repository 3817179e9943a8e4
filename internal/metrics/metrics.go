// Package metrics wires the receiver, source, and merge engines to
// Prometheus (spec §5 is silent on observability, but every other ambient
// concern in this codebase is instrumented, so engines accept an optional
// *Metrics and report through it).
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the sACN engines report
// through. A nil *Metrics is valid everywhere it's accepted: every method
// on it is a no-op, so instrumentation is opt-in per process.
type Metrics struct {
	packetsReceived *prometheus.CounterVec
	packetsDropped  *prometheus.CounterVec
	packetsSent     *prometheus.CounterVec

	sourcesTracked  *prometheus.GaugeVec
	sourcesLost     *prometheus.CounterVec
	samplingPeriods *prometheus.CounterVec

	suppressed     *prometheus.GaugeVec
	mergeRecomputes prometheus.Counter
}

// New registers every collector against reg and returns a ready Metrics.
// Pass prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid collisions across packages.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sacn",
			Subsystem: "receiver",
			Name:      "packets_received_total",
			Help:      "sACN data packets accepted by the receiver engine, by universe and start code.",
		}, []string{"universe", "start_code"}),
		packetsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sacn",
			Subsystem: "receiver",
			Name:      "packets_dropped_total",
			Help:      "sACN data packets dropped before acceptance, by universe and reason.",
		}, []string{"universe", "reason"}),
		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sacn",
			Subsystem: "source",
			Name:      "packets_sent_total",
			Help:      "sACN data packets transmitted by the source engine, by universe and stream.",
		}, []string{"universe", "stream"}),
		sourcesTracked: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sacn",
			Subsystem: "receiver",
			Name:      "sources_tracked",
			Help:      "Currently tracked sources, by universe.",
		}, []string{"universe"}),
		sourcesLost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sacn",
			Subsystem: "receiver",
			Name:      "sources_lost_total",
			Help:      "Sources that completed the source-loss debounce window, by universe.",
		}, []string{"universe"}),
		samplingPeriods: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sacn",
			Subsystem: "receiver",
			Name:      "sampling_periods_total",
			Help:      "Sampling periods begun, by universe.",
		}, []string{"universe"}),
		suppressed: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sacn",
			Subsystem: "source",
			Name:      "transmission_suppressed",
			Help:      "1 if a universe's stream is currently suppressed (keep-alive gated), else 0.",
		}, []string{"universe", "stream"}),
		mergeRecomputes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sacn",
			Subsystem: "merge",
			Name:      "recomputes_total",
			Help:      "Full 512-slot merge recomputes performed by the DMX merger.",
		}),
	}
}

func universeLabel(universe uint16) string { return strconv.Itoa(int(universe)) }

func (m *Metrics) PacketReceived(universe uint16, startCode byte) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(universeLabel(universe), startCodeLabel(startCode)).Inc()
}

func (m *Metrics) PacketDropped(universe uint16, reason string) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(universeLabel(universe), reason).Inc()
}

func (m *Metrics) PacketSent(universe uint16, stream string) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(universeLabel(universe), stream).Inc()
}

func (m *Metrics) SetSourcesTracked(universe uint16, n int) {
	if m == nil {
		return
	}
	m.sourcesTracked.WithLabelValues(universeLabel(universe)).Set(float64(n))
}

func (m *Metrics) SourceLost(universe uint16) {
	if m == nil {
		return
	}
	m.sourcesLost.WithLabelValues(universeLabel(universe)).Inc()
}

func (m *Metrics) SamplingPeriodStarted(universe uint16) {
	if m == nil {
		return
	}
	m.samplingPeriods.WithLabelValues(universeLabel(universe)).Inc()
}

func (m *Metrics) SetSuppressed(universe uint16, stream string, suppressed bool) {
	if m == nil {
		return
	}
	v := 0.0
	if suppressed {
		v = 1.0
	}
	m.suppressed.WithLabelValues(universeLabel(universe), stream).Set(v)
}

func (m *Metrics) MergeRecomputed() {
	if m == nil {
		return
	}
	m.mergeRecomputes.Inc()
}

func startCodeLabel(sc byte) string {
	switch sc {
	case 0x00:
		return "dmx"
	case 0xDD:
		return "pap"
	default:
		return "other"
	}
}
