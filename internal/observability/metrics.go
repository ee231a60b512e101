// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for the chaos engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 障害注入と実験のメトリクス
var (
	// FaultInjections は障害注入回数のカウンター
	FaultInjections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chaos_fault_injections_total",
		Help: "Number of fault injections by fault type.",
	}, []string{"fault_type"})

	// FaultErrors は障害注入エラー回数のカウンター
	FaultErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chaos_fault_errors_total",
		Help: "Number of fault injection errors by fault type.",
	}, []string{"fault_type"})

	// FaultDuration は障害持続時間のヒストグラム
	FaultDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chaos_fault_duration_seconds",
		Help:    "Duration of fault injections.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"fault_type"})

	// Experiments は実験回数のカウンター
	Experiments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chaos_experiments_total",
		Help: "Number of chaos experiments by terminal status.",
	}, []string{"status"})

	// ExperimentDuration は実験時間のヒストグラム
	ExperimentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chaos_experiment_duration_seconds",
		Help:    "Duration of chaos experiments.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"status"})

	// SafetyTriggers は安全制御の発動回数のカウンター
	SafetyTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chaos_safety_triggers_total",
		Help: "Number of safety control triggers by type.",
	}, []string{"type"})
)
