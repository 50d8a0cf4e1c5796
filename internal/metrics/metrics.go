package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwire_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatwire_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwire_messages_posted_total",
			Help: "Total messages posted",
		},
		[]string{"sender_type"},
	)

	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwire_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	RoomsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwire_rooms_closed_total",
			Help: "Total rooms closed",
		},
	)

	RoomsReopened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwire_rooms_reopened_total",
			Help: "Total rooms reopened",
		},
	)

	MarkReadCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwire_mark_read_total",
			Help: "Total mark-read operations",
		},
	)

	// Rate limit metrics
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwire_rate_limit_rejections_total",
			Help: "Total rate limit rejections",
		},
		[]string{"scope"}, // "visitor" or "http"
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwire_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Presence and stream metrics
	PresenceJoins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatwire_presence_joins_total",
			Help: "Total presence joins",
		},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatwire_stream_subscribers",
			Help: "Currently connected event-stream subscribers",
		},
	)
)
