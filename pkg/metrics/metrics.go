// Package metrics declares the prometheus collectors shared by the GAIA
// services. Each binary serves them on its own /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gaia",
		Subsystem: "engine",
		Name:      "turn_duration_seconds",
		Help:      "Wall time of one pipeline turn.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"path"}) // path: standard|slim

	TokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaia",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Tokens consumed, by model and direction.",
	}, []string{"model", "direction"}) // direction: prompt|completion

	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaia",
		Subsystem: "tools",
		Name:      "executions_total",
		Help:      "Tool executions by tool name and final status.",
	}, []string{"tool", "status"})

	ObserverVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaia",
		Subsystem: "engine",
		Name:      "observer_verdicts_total",
		Help:      "In-stream observer verdicts.",
	}, []string{"verdict"}) // ok|caution|block

	LoopTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaia",
		Subsystem: "engine",
		Name:      "loop_triggers_total",
		Help:      "Loop detector triggers by detector and action.",
	}, []string{"detector", "action"}) // action: warn|reset|user_intervention

	HandoffTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaia",
		Subsystem: "orchestrator",
		Name:      "handoff_transitions_total",
		Help:      "GPU ownership transitions by target state and outcome.",
	}, []string{"target", "outcome"})

	ServiceHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gaia",
		Subsystem: "watchdog",
		Name:      "service_healthy",
		Help:      "1 when the watched service last reported healthy.",
	}, []string{"service", "tier"}) // tier: live|candidate

	FailoverCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaia",
		Subsystem: "gateway",
		Name:      "failover_calls_total",
		Help:      "Fallback attempts by outcome.",
	}, []string{"outcome"}) // success|failure|suppressed
)
