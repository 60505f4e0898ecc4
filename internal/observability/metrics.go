package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chainscout"

type moduleMetrics struct {
	sessionTotal    *prometheus.CounterVec
	sessionDuration prometheus.Histogram

	queryTotal    *prometheus.CounterVec
	queryDuration prometheus.Histogram
	pacingSeconds prometheus.Counter

	toolCallTotal    *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrorsTotal  *prometheus.CounterVec

	llmCallTotal    *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			sessionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_total",
					Help:      "Sessions by outcome.",
				},
				[]string{"outcome"},
			),
			sessionDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_duration_seconds",
					Help:      "Wall time of a whole session including tool server startup.",
					Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
				},
			),
			queryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "query_total",
					Help:      "Settled queries by status (success, query, unexpected, connection, interrupted).",
				},
				[]string{"status"},
			),
			queryDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "query_duration_seconds",
					Help:      "Time from query start to its terminal event.",
					Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
				},
			),
			pacingSeconds: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "pacing_seconds_total",
					Help:      "Total time spent waiting between queries.",
				},
			),
			toolCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_call_total",
					Help:      "Tool server calls by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_call_duration_seconds",
					Help:      "Tool server call duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_errors_total",
					Help:      "Failed tool server calls by tool.",
				},
				[]string{"tool"},
			),
			llmCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "llm_call_total",
					Help:      "Reasoning engine calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			llmCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "llm_call_duration_seconds",
					Help:      "Reasoning engine call duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
		}

		prometheus.MustRegister(
			m.sessionTotal,
			m.sessionDuration,
			m.queryTotal,
			m.queryDuration,
			m.pacingSeconds,
			m.toolCallTotal,
			m.toolCallDuration,
			m.toolErrorsTotal,
			m.llmCallTotal,
			m.llmCallDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordSession(outcome string, duration time.Duration) {
	m := getMetrics()
	m.sessionTotal.WithLabelValues(outcome).Inc()
	m.sessionDuration.Observe(duration.Seconds())
}

func RecordQuery(status string, duration time.Duration) {
	m := getMetrics()
	m.queryTotal.WithLabelValues(status).Inc()
	m.queryDuration.Observe(duration.Seconds())
}

func RecordPacing(duration time.Duration) {
	getMetrics().pacingSeconds.Add(duration.Seconds())
}

func RecordToolCall(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolCallTotal.WithLabelValues(tool, status).Inc()
	m.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordLLMCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.llmCallTotal.WithLabelValues(provider, status).Inc()
	m.llmCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}
