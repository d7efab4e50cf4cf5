// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecognitionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facemark",
		Name:      "recognition_requests_total",
		Help:      "Recognition requests by result",
	}, []string{"result"})

	FacesClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facemark",
		Name:      "faces_classified_total",
		Help:      "Detected faces by classification outcome",
	}, []string{"outcome"})

	AttendanceMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facemark",
		Name:      "attendance_marks_total",
		Help:      "Attendance mark attempts by outcome",
	}, []string{"outcome"})

	RecognitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facemark",
		Name:      "recognition_duration_seconds",
		Help:      "Duration of recognition stages",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"stage"})

	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facemark",
		Name:      "face_index_size",
		Help:      "Number of encodings in the active face index snapshot",
	})

	CacheGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facemark",
		Name:      "face_index_generation",
		Help:      "Generation of the active face index snapshot",
	})

	CacheRebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facemark",
		Name:      "face_index_rebuild_duration_seconds",
		Help:      "Duration of face index rebuilds",
		Buckets:   prometheus.DefBuckets,
	})

	CacheRebuildFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facemark",
		Name:      "face_index_rebuild_failures_total",
		Help:      "Face index rebuilds that kept the previous snapshot",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facemark",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facemark",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
