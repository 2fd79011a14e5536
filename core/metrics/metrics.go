package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Define common metrics
var (
	// JobsStarted counts jobs moved from idle to running.
	JobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobctl_jobs_started_total",
		Help: "Total number of jobs started.",
	})

	// JobsFinished counts terminal notifications by outcome ("completed" or "cancelled").
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobctl_jobs_finished_total",
		Help: "Total number of jobs that reached a terminal state.",
	}, []string{"outcome"})

	// StaleNotifications counts callbacks dropped because their generation was superseded.
	StaleNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobctl_stale_notifications_total",
		Help: "Total number of progress or terminal callbacks dropped for a superseded job.",
	}, []string{"kind"})

	// Progress is the progress value of the current job.
	Progress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jobctl_job_progress",
		Help: "Progress of the current job.",
	})

	// RunDuration measures how long a job ran before reaching a terminal state.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobctl_job_run_duration_seconds",
		Help:    "Duration of job runs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// GatewayStartCounter counts gateway start attempts.
	GatewayStartCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobctl_gateway_starts_total",
		Help: "Total number of gateway start attempts.",
	}, []string{"gateway", "status"})

	// GatewayStopCounter counts gateway stop attempts.
	GatewayStopCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobctl_gateway_stops_total",
		Help: "Total number of gateway stop attempts.",
	}, []string{"gateway", "status"})
)
