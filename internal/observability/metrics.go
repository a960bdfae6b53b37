package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects Prometheus metrics for the assistant runtime: run
// outcomes, model calls, tool executions, breaker state, and the stream
// event log.
type Metrics struct {
	// RunCounter counts orchestration runs by outcome.
	// Labels: outcome (finished|loop_detected|oscillation|max_steps|error)
	RunCounter *prometheus.CounterVec

	// RunSteps observes Plan steps consumed per run.
	RunSteps prometheus.Histogram

	// LLMRequestDuration measures model call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts model calls.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|short_circuit)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// BreakerOpens counts circuit breaker open transitions per tool.
	// Labels: tool_name
	BreakerOpens *prometheus.CounterVec

	// StreamEventCounter counts stream events appended to the log.
	// Labels: event_type
	StreamEventCounter *prometheus.CounterVec

	// HTTPRequestDuration measures gateway request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers metrics on the given registerer. Pass a
// fresh prometheus.NewRegistry in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := func(c prometheus.Collector) prometheus.Collector {
		reg.MustRegister(c)
		return c
	}

	m := &Metrics{
		RunCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskwise_runs_total",
			Help: "Orchestration runs by terminal outcome.",
		}, []string{"outcome"}),
		RunSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskwise_run_steps",
			Help:    "Plan steps consumed per orchestration run.",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),
		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskwise_llm_request_duration_seconds",
			Help:    "Model completion call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		LLMRequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskwise_llm_requests_total",
			Help: "Model completion calls by status.",
		}, []string{"provider", "model", "status"}),
		ToolExecutionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskwise_tool_executions_total",
			Help: "Tool invocations by status.",
		}, []string{"tool_name", "status"}),
		ToolExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskwise_tool_execution_duration_seconds",
			Help:    "Tool execution time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool_name"}),
		BreakerOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskwise_breaker_opens_total",
			Help: "Circuit breaker open transitions.",
		}, []string{"tool_name"}),
		StreamEventCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskwise_stream_events_total",
			Help: "Events appended to the stream log.",
		}, []string{"event_type"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskwise_http_request_duration_seconds",
			Help:    "Gateway request latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path", "status_code"}),
	}

	factory(m.RunCounter)
	factory(m.RunSteps)
	factory(m.LLMRequestDuration)
	factory(m.LLMRequestCounter)
	factory(m.ToolExecutionCounter)
	factory(m.ToolExecutionDuration)
	factory(m.BreakerOpens)
	factory(m.StreamEventCounter)
	factory(m.HTTPRequestDuration)

	return m
}
