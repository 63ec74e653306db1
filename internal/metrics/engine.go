package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CaptureFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safety_capture_frames_total",
		Help: "Frames decoded from the RTSP source",
	}, []string{"stream_id"})

	CaptureFramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safety_capture_frames_dropped_total",
		Help: "Frames dropped at the ingress queue because the consumer lagged",
	}, []string{"stream_id"})

	CaptureReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safety_capture_reconnects_total",
		Help: "Capture sessions that ended and entered the reconnect loop",
	}, []string{"stream_id"})

	FrameQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "safety_frame_queue_depth",
		Help: "Current depth of the per-stream frame queue",
	}, []string{"stream_id"})

	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safety_frames_processed_total",
		Help: "Frames run through detection and overlay",
	}, []string{"stream_id"})

	UnsafeRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "safety_unsafe_ratio",
		Help: "Unsafe-frame ratio of the last closed interval",
	}, []string{"stream_id"})

	RecordingsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safety_recordings_started_total",
		Help: "Clip recordings started by the event recorder",
	}, []string{"stream_id"})

	InferenceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "safety_inference_latency_ms",
		Help:    "Detector latency in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2000},
	}, []string{"model"})

	PTZCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safety_ptz_commands_total",
		Help: "PTZ commands consumed from the command queue",
	}, []string{"stream_id", "kind"})

	PatrolTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safety_patrol_transitions_total",
		Help: "Patrol state machine transitions",
	}, []string{"stream_id", "to"})

	SinkRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safety_sink_restarts_total",
		Help: "Output sink subprocess respawns after a broken pipe",
	}, []string{"stream_id"})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "safety_active_streams",
		Help: "Stream engines currently running",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safety_http_requests_total",
		Help: "API requests by method, route pattern and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "safety_http_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}, []string{"method", "route"})
)
