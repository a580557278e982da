package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DocumentsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docflow_documents_claimed_total",
		Help: "Total number of documents claimed for processing",
	})

	DocumentsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_documents_finished_total",
		Help: "Total number of processing attempts by outcome",
	}, []string{"outcome"})

	RelocationConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_relocation_conflicts_total",
		Help: "Total number of benign staging relocation conflicts",
	}, []string{"transition"})

	QueueRepublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docflow_queue_republished_total",
		Help: "Total number of references republished by the folder monitor",
	})

	StaleRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docflow_stale_recovered_total",
		Help: "Total number of stale in-flight documents recovered",
	})

	OrphansAdopted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docflow_orphans_adopted_total",
		Help: "Total number of orphan pending files adopted by the monitor",
	})

	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docflow_extraction_duration_seconds",
		Help:    "Time taken to extract text from a document",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"method"})

	QueueWaitTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docflow_queue_wait_duration_seconds",
		Help:    "Time a reference spent in the queue before a worker picked it up",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})
)

// Outcome labels for DocumentsFinished.
const (
	OutcomeCompleted = "completed"
	OutcomeRequeued  = "requeued"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
)
