package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/StarkFactory/arc-reactor-sub001/pkg/models"
)

// PrometheusMetrics is an AgentMetrics sink that registers its series on
// a Prometheus registry. Construct once per process.
type PrometheusMetrics struct {
	executionDuration *prometheus.HistogramVec
	executionCounter  *prometheus.CounterVec
	toolCallDuration  *prometheus.HistogramVec
	toolCallCounter   *prometheus.CounterVec
	guardRejections   *prometheus.CounterVec
	outputGuardAction *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers the execution-core series
// on reg. Pass prometheus.DefaultRegisterer to expose them on the
// default /metrics handler.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arc_reactor_execution_duration_seconds",
				Help:    "Duration of agent executions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"success"},
		),
		executionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arc_reactor_executions_total",
				Help: "Total number of agent executions by outcome",
			},
			[]string{"success", "error_code"},
		),
		toolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arc_reactor_tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		toolCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arc_reactor_tool_calls_total",
				Help: "Total number of tool calls by tool name and outcome",
			},
			[]string{"tool", "success"},
		),
		guardRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arc_reactor_guard_rejections_total",
				Help: "Total number of guard rejections by stage",
			},
			[]string{"stage"},
		),
		outputGuardAction: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arc_reactor_output_guard_actions_total",
				Help: "Total number of output guard actions by decision",
			},
			[]string{"action"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arc_reactor_cache_lookups_total",
				Help: "Total number of response cache probes by hit/miss",
			},
			[]string{"result"},
		),
	}
}

func (m *PrometheusMetrics) RecordExecution(durationMs int64, success bool, errorCode models.ErrorCode) {
	label := boolLabel(success)
	m.executionDuration.WithLabelValues(label).Observe(float64(durationMs) / 1000)
	m.executionCounter.WithLabelValues(label, string(errorCode)).Inc()
}

func (m *PrometheusMetrics) RecordToolCall(name string, durationMs int64, success bool) {
	m.toolCallDuration.WithLabelValues(name).Observe(float64(durationMs) / 1000)
	m.toolCallCounter.WithLabelValues(name, boolLabel(success)).Inc()
}

func (m *PrometheusMetrics) RecordGuardRejection(stage, reason string) {
	m.guardRejections.WithLabelValues(stage).Inc()
}

func (m *PrometheusMetrics) RecordOutputGuardAction(action OutputGuardAction) {
	m.outputGuardAction.WithLabelValues(string(action)).Inc()
}

func (m *PrometheusMetrics) RecordCacheHit(hit bool) {
	label := "miss"
	if hit {
		label = "hit"
	}
	m.cacheLookups.WithLabelValues(label).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
