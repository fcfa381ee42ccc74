// Package metrics exposes Prometheus metrics for the analyst service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	// Session metrics
	SessionsCreatedTotal prometheus.Counter
	SessionsActive       prometheus.GaugeFunc

	// Dataset metrics
	DatasetLoadsTotal *prometheus.CounterVec
	DatasetRows       prometheus.Histogram

	// Chat metrics
	ChatTurnsTotal    *prometheus.CounterVec
	ChatTurnDuration  prometheus.Histogram
	ChatChunksTotal   prometheus.Counter
	ChatTurnsInFlight prometheus.Gauge
}

// NewMetrics registers every collector on a fresh registry. activeSessions
// is sampled at scrape time; nil reports zero.
func NewMetrics(activeSessions func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	if activeSessions == nil {
		activeSessions = func() int { return 0 }
	}

	m := &Metrics{Registry: reg}

	m.SessionsCreatedTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "csv_analyst_sessions_created_total",
		Help: "Total number of chat sessions created",
	})

	m.SessionsActive = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "csv_analyst_sessions_active",
		Help: "Number of sessions currently held in memory",
	}, func() float64 { return float64(activeSessions()) })

	m.DatasetLoadsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "csv_analyst_dataset_loads_total",
		Help: "Total number of dataset uploads by outcome",
	}, []string{"status"})

	m.DatasetRows = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "csv_analyst_dataset_rows",
		Help:    "Row count of loaded datasets",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	m.ChatTurnsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "csv_analyst_chat_turns_total",
		Help: "Total number of chat turns by outcome",
	}, []string{"status"})

	m.ChatTurnDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "csv_analyst_chat_turn_duration_seconds",
		Help:    "Duration of chat turns from request to last chunk",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
	})

	m.ChatChunksTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "csv_analyst_chat_chunks_total",
		Help: "Total number of streamed reply chunks",
	})

	m.ChatTurnsInFlight = factory.NewGauge(prometheus.GaugeOpts{
		Name: "csv_analyst_chat_turns_in_flight",
		Help: "Number of chat turns currently streaming",
	})

	return m
}

// RecordDatasetLoad records an upload attempt with its status
func (m *Metrics) RecordDatasetLoad(status string, rows int) {
	m.DatasetLoadsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.DatasetRows.Observe(float64(rows))
	}
}

// RecordTurn records a finished chat turn
func (m *Metrics) RecordTurn(status string, chunks int, duration time.Duration) {
	m.ChatTurnsTotal.WithLabelValues(status).Inc()
	m.ChatChunksTotal.Add(float64(chunks))
	m.ChatTurnDuration.Observe(duration.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
