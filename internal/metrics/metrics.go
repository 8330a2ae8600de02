// Package metrics exposes Prometheus collectors for sessions, tools,
// model calls and routing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/richinex/vdirector/model"
)

// Metrics implements orchestration.Observer on a private registry.
type Metrics struct {
	registry     *prometheus.Registry
	sessions     *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	modelCalls   *prometheus.CounterVec
	routes       *prometheus.CounterVec
	sessionCost  prometheus.Histogram
}

// New creates and registers the collectors, plus the Go and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdirector_sessions_total",
				Help: "Total number of sessions by terminal status",
			},
			[]string{"status"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdirector_tool_calls_total",
				Help: "Total number of tool calls",
			},
			[]string{"tool", "success"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vdirector_tool_duration_milliseconds",
				Help:    "Tool call duration in milliseconds",
				Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000, 120000},
			},
			[]string{"tool"},
		),
		modelCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdirector_model_calls_total",
				Help: "Total number of model calls",
			},
			[]string{"model", "status"},
		),
		routes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vdirector_routes_total",
				Help: "Total number of classified instructions by route",
			},
			[]string{"route"},
		),
		sessionCost: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vdirector_session_cost_usd",
				Help:    "Cost of a session in USD",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
	}
	m.registry.MustRegister(
		m.sessions,
		m.toolCalls,
		m.toolDuration,
		m.modelCalls,
		m.routes,
		m.sessionCost,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ModelCall(modelID string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.modelCalls.WithLabelValues(modelID, status).Inc()
}

func (m *Metrics) ToolCall(tool string, success bool, d time.Duration) {
	m.toolCalls.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) SessionDone(status model.Status, costUSD float64) {
	m.sessions.WithLabelValues(string(status)).Inc()
	m.sessionCost.Observe(costUSD)
}

func (m *Metrics) Routed(route model.Route) {
	m.routes.WithLabelValues(string(route)).Inc()
}
