package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sheetflow",
		Name:      "rows_total",
		Help:      "Rows committed by row processing, by result (processed, failed).",
	}, []string{"result"})

	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sheetflow",
		Name:      "chunks_total",
		Help:      "Row jobs by outcome (completed, skipped, failed).",
	}, []string{"outcome"})

	chunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sheetflow",
		Name:      "chunk_duration_seconds",
		Help:      "Time to validate and commit one chunk.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	uploadsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sheetflow",
		Name:      "uploads_finished_total",
		Help:      "Uploads that reached a terminal status.",
	}, []string{"status"})
)
