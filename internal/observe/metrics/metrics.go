package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCreated tracks job creation per type
	JobsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medic_jobs_created_total",
			Help: "Total number of jobs created",
		},
		[]string{"type"},
	)

	// JobsDispatched tracks dispatch attempts per type
	JobsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medic_jobs_dispatched_total",
			Help: "Total number of job dispatch attempts",
		},
		[]string{"type"},
	)

	// JobsCompleted tracks successful completions per type
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medic_jobs_completed_total",
			Help: "Total number of jobs completed successfully",
		},
		[]string{"type"},
	)

	// JobsFailed tracks executions that ended in the healing path
	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medic_jobs_failed_total",
			Help: "Total number of failed job executions",
		},
		[]string{"type"},
	)

	// JobDuration tracks work function latency
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medic_job_duration_seconds",
			Help:    "Work function execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// IssuesDetected tracks issues per type
	IssuesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medic_issues_detected_total",
			Help: "Total number of issues detected",
		},
		[]string{"type"},
	)

	// HealingActions tracks executed remediation actions per action type
	HealingActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medic_healing_actions_total",
			Help: "Total number of remediation actions executed",
		},
		[]string{"action"},
	)

	// IssuesOpen tracks currently unresolved issues
	IssuesOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "medic_issues_open",
			Help: "Number of currently unresolved issues",
		},
	)

	// ScanDuration tracks healing scan latency
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "medic_scan_duration_seconds",
			Help:    "Healing scan latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QueueDeadLetters tracks messages routed to the dead-letter queue
	QueueDeadLetters = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medic_queue_dead_letters_total",
			Help: "Total number of deliveries exhausted to the dead-letter queue",
		},
	)

	// DBConnectionPoolUsage tracks database pool utilisation
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "medic_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)
)
