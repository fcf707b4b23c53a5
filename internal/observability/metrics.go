package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysisRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sb",
		Name:      "analysis_runs_total",
		Help:      "Total number of finished analysis runs by outcome",
	}, []string{"outcome"})

	AnalysisRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sb",
		Name:      "analysis_run_duration_seconds",
		Help:      "Wall-clock duration of analysis runs",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	FramesSampled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sb",
		Name:      "frames_sampled_total",
		Help:      "Total thumbnail samples fetched, by result",
	}, []string{"result"})

	FaceSearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sb",
		Name:      "face_searches_total",
		Help:      "Total recognition search calls, by result",
	}, []string{"result"})

	TagsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sb",
		Name:      "face_tags_written_total",
		Help:      "Total face tags written, by kind (confirmed/tentative)",
	}, []string{"kind"})

	TagsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sb",
		Name:      "face_tags_resolved_total",
		Help:      "Guardian resolutions of tentative tags, by action",
	}, []string{"action"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sb",
		Name:      "analysis_queue_depth",
		Help:      "Number of pending analysis jobs in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sb",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sb",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
