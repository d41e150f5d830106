package jingle

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics — счётчики движка. Регистрируются в Registerer из Config;
// без него собираются, но никуда не экспортируются.
type metrics struct {
	callsStarted   *prometheus.CounterVec
	callsEnded     *prometheus.CounterVec
	macFailures    prometheus.Counter
	activeSessions prometheus.Gauge
	callDuration   prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		callsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jingle",
			Name:      "calls_started_total",
			Help:      "Запросы звонков по направлению (incoming/outgoing).",
		}, []string{"direction"}),
		callsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jingle",
			Name:      "calls_ended_total",
			Help:      "Завершённые звонки по причине завершения.",
		}, []string{"reason"}),
		macFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jingle",
			Name:      "fingerprint_mac_failures_total",
			Help:      "Строфы, отброшенные из-за неверного MAC отпечатков.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jingle",
			Name:      "active_sessions",
			Help:      "Текущее число медиасессий.",
		}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "jingle",
			Name:      "call_duration_seconds",
			Help:      "Длительность установленных звонков.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.callsStarted, m.callsEnded, m.macFailures,
			m.activeSessions, m.callDuration,
		)
	}
	return m
}
