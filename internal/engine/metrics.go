package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла обработка запроса
	RequestDuration *prometheus.HistogramVec

	// Traffic: решения по правам (allowed/denied)
	DecisionTotal *prometheus.CounterVec

	// Сканы зависимостей по итоговому статусу (complete/degraded/failed)
	ScanTotal *prometheus.CounterVec

	// Сборки окружений: built / reused / failed
	BuildTotal *prometheus.CounterVec

	// Запуски кода: success / error / timeout
	ExecutionTotal *prometheus.CounterVec

	// Saturation: размер кэша решений
	DecisionCacheSize prometheus.Gauge

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_request_duration_seconds",
			Help:    "Histogram of request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation", "status"}),

		DecisionTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_permission_decisions_total",
			Help: "Total number of permission decisions.",
		}, []string{"decision"}),

		ScanTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_dependency_scans_total",
			Help: "Total number of dependency scans by final status.",
		}, []string{"status"}),

		BuildTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_environment_builds_total",
			Help: "Environment build outcomes.",
		}, []string{"outcome"}), // built, reused, failed

		ExecutionTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_executions_total",
			Help: "Sandbox execution outcomes.",
		}, []string{"outcome"}), // success, error, timeout

		DecisionCacheSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_decision_cache_entries",
			Help: "Current number of entries in the permission decision cache.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
