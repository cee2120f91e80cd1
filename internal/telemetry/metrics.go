package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики воркера. Регистрируются в глобальном реестре при импорте пакета.
var (
	TasksFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "operon_tasks_fetched_total",
		Help: "External tasks fetched and locked, by topic",
	}, []string{"topic"})

	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "operon_tasks_completed_total",
		Help: "External tasks reported as completed, by topic",
	}, []string{"topic"})

	TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "operon_tasks_failed_total",
		Help: "External task failures, by topic and failure class",
	}, []string{"topic", "class"})

	RetriesScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "operon_task_retries_scheduled_total",
		Help: "Failures reported back to the engine with retries left",
	}, []string{"topic"})

	Escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "operon_task_bpmn_errors_total",
		Help: "Failures escalated to a BPMN error",
	}, []string{"topic"})

	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "operon_task_handler_duration_seconds",
		Help:    "Time spent handling one external task",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"topic"})

	MeteringDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "operon_metering_dropped_total",
		Help: "Metering and job status records that could not be delivered",
	}, []string{"sink"})
)
