// Package observability exposes the Prometheus metrics recorded by the
// orchestrator, the reasoning loop and the tool registry.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "heavy"

type moduleMetrics struct {
	orchestrationsTotal   *prometheus.CounterVec
	orchestrationDuration prometheus.Histogram
	questionFallbackTotal prometheus.Counter

	agentExecutionTotal    *prometheus.CounterVec
	agentExecutionDuration *prometheus.HistogramVec
	agentIterations        prometheus.Histogram
	agentsInFlight         prometheus.Gauge

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	gatewayCallsTotal   *prometheus.CounterVec
	gatewayCallDuration *prometheus.HistogramVec
	gatewayRetriesTotal *prometheus.CounterVec

	costUSDTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			orchestrationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "orchestrations_total",
					Help:      "Finished orchestrations by synthesis mode.",
				},
				[]string{"mode"},
			),
			orchestrationDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "orchestration_duration_seconds",
					Help:      "End to end orchestration duration in seconds.",
					Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
				},
			),
			questionFallbackTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "question_fallback_total",
					Help:      "Question generations that fell back to the raw query.",
				},
			),
			agentExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_execution_total",
					Help:      "Agent executions by terminal status.",
				},
				[]string{"status"},
			),
			agentExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_execution_duration_seconds",
					Help:      "Agent execution duration in seconds by model.",
					Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
				},
				[]string{"model"},
			),
			agentIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_iterations",
					Help:      "Model calls per agent execution.",
					Buckets:   prometheus.LinearBuckets(1, 1, 15),
				},
			),
			agentsInFlight: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "agents_in_flight",
					Help:      "Agents currently running.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Tool invocations by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool invocation duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			gatewayCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "gateway_calls_total",
					Help:      "LLM gateway calls by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			gatewayCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "gateway_call_duration_seconds",
					Help:      "LLM gateway call latency in seconds by provider.",
					Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
				},
				[]string{"provider"},
			),
			gatewayRetriesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "gateway_retries_total",
					Help:      "Retries after transient gateway errors by provider.",
				},
				[]string{"provider"},
			),
			costUSDTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "cost_usd_total",
					Help:      "Estimated spend in USD by model.",
				},
				[]string{"model"},
			),
		}

		prometheus.MustRegister(
			m.orchestrationsTotal,
			m.orchestrationDuration,
			m.questionFallbackTotal,
			m.agentExecutionTotal,
			m.agentExecutionDuration,
			m.agentIterations,
			m.agentsInFlight,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.gatewayCallsTotal,
			m.gatewayCallDuration,
			m.gatewayRetriesTotal,
			m.costUSDTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordOrchestration(mode string, duration time.Duration) {
	m := getMetrics()
	m.orchestrationsTotal.WithLabelValues(mode).Inc()
	m.orchestrationDuration.Observe(duration.Seconds())
}

func RecordQuestionFallback() {
	getMetrics().questionFallbackTotal.Inc()
}

func AgentStarted() {
	getMetrics().agentsInFlight.Inc()
}

func RecordAgentExecution(model, status string, duration time.Duration, iterations int) {
	m := getMetrics()
	m.agentsInFlight.Dec()
	m.agentExecutionTotal.WithLabelValues(status).Inc()
	m.agentExecutionDuration.WithLabelValues(model).Observe(duration.Seconds())
	if iterations > 0 {
		m.agentIterations.Observe(float64(iterations))
	}
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordGatewayCall records one provider round trip. outcome is "ok",
// "transient" or "fatal".
func RecordGatewayCall(provider, outcome string, duration time.Duration) {
	m := getMetrics()
	m.gatewayCallsTotal.WithLabelValues(provider, outcome).Inc()
	m.gatewayCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordGatewayRetry(provider string) {
	getMetrics().gatewayRetriesTotal.WithLabelValues(provider).Inc()
}

func RecordCost(model string, usd float64) {
	if usd <= 0 {
		return
	}
	getMetrics().costUSDTotal.WithLabelValues(model).Add(usd)
}
