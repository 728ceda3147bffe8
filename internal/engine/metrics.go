package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: skill calls by outcome (success, policy_denied, rate_limited, ...)
	SkillCalls *prometheus.CounterVec

	// Latency of Execute only, approval wait excluded
	SkillDuration *prometheus.HistogramVec

	// Approval outcomes: approved, denied, timeout, error
	Approvals *prometheus.CounterVec

	// Rounds per tool loop turn
	LoopIterations prometheus.Histogram

	// Cap hits: per_skill, global
	LoopCapHits *prometheus.CounterVec

	LLMDuration *prometheus.HistogramVec

	// Saturation: circuit breaker state (0 closed, 1 half-open, 2 open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: buffered events (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object: without a registerer metrics go to a private registry nobody scrapes
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		SkillCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_skill_calls_total",
			Help: "Skill invocations by outcome.",
		}, []string{"skill", "outcome"}),

		SkillDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_skill_duration_seconds",
			Help:    "Histogram of skill execution latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"skill"}),

		Approvals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_approvals_total",
			Help: "Approval requests by final status.",
		}, []string{"skill", "status"}),

		LoopIterations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentcore_tool_loop_iterations",
			Help:    "Tool-calling rounds per turn.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 10},
		}),

		LoopCapHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_tool_loop_cap_hits_total",
			Help: "Times a per-skill or global cap stopped tool use.",
		}, []string{"cap"}),

		LLMDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_llm_request_duration_seconds",
			Help:    "Histogram of LLM chat latencies.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"model", "status"}),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentcore_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),

		AuditBufferFill: f.NewGauge(prometheus.GaugeOpts{
			Name: "agentcore_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
