package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Gateway metrics
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coscribe_connections_active",
			Help: "Number of open websocket connections on this instance",
		},
	)

	FramesInTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coscribe_frames_in_total",
			Help: "Total inbound frames by type",
		},
		[]string{"type"},
	)

	FramesOutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coscribe_frames_out_total",
			Help: "Total outbound frames by type",
		},
		[]string{"type"},
	)

	SendsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coscribe_sends_dropped_total",
			Help: "Outbound frames dropped because a socket's send buffer was full",
		},
	)

	RateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coscribe_rate_limit_rejections_total",
			Help: "Messages rejected by the rate limiter by type",
		},
		[]string{"type"},
	)

	// Presence metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coscribe_sessions_local_active",
			Help: "Sessions attached to sockets held by this instance",
		},
	)

	SessionsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coscribe_sessions_swept_total",
			Help: "Stale sessions removed by the TTL sweeper",
		},
	)

	// Bus metrics
	BusPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coscribe_bus_publish_total",
			Help: "Envelopes published on document topics by type",
		},
		[]string{"type"},
	)

	TopicsSubscribed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coscribe_topics_subscribed",
			Help: "Document topics this instance is subscribed to",
		},
	)

	// Queue metrics
	JobsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coscribe_jobs_enqueued_total",
			Help: "Jobs pushed to the persistence queue",
		},
	)

	JobsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coscribe_jobs_completed_total",
			Help: "Jobs completed by the queue worker",
		},
	)

	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coscribe_jobs_failed_total",
			Help: "Job failures by outcome (retry or dead_letter)",
		},
		[]string{"outcome"},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coscribe_job_duration_seconds",
			Help:    "Time spent processing a job in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Intake metrics
	IntakeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coscribe_intake_requests_total",
			Help: "Update-intake requests by status (queued, skipped, denied, error)",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(ConnectionsActive)
	prometheus.MustRegister(FramesInTotal)
	prometheus.MustRegister(FramesOutTotal)
	prometheus.MustRegister(SendsDroppedTotal)
	prometheus.MustRegister(RateLimitRejections)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsSweptTotal)
	prometheus.MustRegister(BusPublishTotal)
	prometheus.MustRegister(TopicsSubscribed)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(IntakeRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
