package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sheetflow"

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Jobs handled, by queue and outcome (succeeded, retried, failed, malformed).",
	}, []string{"queue", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Time spent in a job handler.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"queue"})

	jobsPromoted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_promoted_total",
		Help:      "Delayed retries moved back onto their stream.",
	}, []string{"queue"})

	jobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_claimed_total",
		Help:      "Stale pending jobs claimed from other consumers.",
	}, []string{"queue"})
)
