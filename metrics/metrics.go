// Package metrics holds the archive's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RevisionsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_revisions_appended_total",
		Help: "Message revisions written to the store",
	}, []string{"source"})

	MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_messages_deleted_total",
		Help: "Delete observations that flagged at least one revision",
	})

	ReconcileErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_reconcile_errors_total",
		Help: "Observations dropped because the store rejected them",
	}, []string{"kind"})

	BackfillPages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_backfill_pages_total",
		Help: "Non-empty history pages ingested by backfill",
	})

	BackfillCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_backfill_channels_completed_total",
		Help: "Channels whose history has been fully walked",
	})

	BackfillErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_backfill_errors_total",
		Help: "Channel backfill attempts that failed and will be retried",
	})

	AttachmentsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_attachments_stored_total",
		Help: "Attachments materialized into the store",
	})

	AttachmentBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archive_attachment_bytes_total",
		Help: "Bytes of attachment payload stored",
	})

	AttachmentsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_attachments_skipped_total",
		Help: "Attachments not stored, by reason",
	}, []string{"reason"})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "archive_sweep_duration_seconds",
		Help:    "Duration of scheduled sweeps",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"sweep"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Spend time by processing a route",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}, []string{"code", "method", "path"})

	GRPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Unary RPCs served, by method and status code",
	}, []string{"method", "code"})
)
